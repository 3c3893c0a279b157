// Package ingest groups raw provider rows into recurring series: one
// master row plus its override rows. Grouping is purely structural;
// no timing or settings interpretation happens here.
package ingest

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fppkit/calbridge/internal/provider"
)

var ErrMalformedRow = errors.New("malformed calendar row")

// Diagnostic records a row that was skipped without failing the run.
type Diagnostic struct {
	Code    string `json:"code"`
	EventID string `json:"eventId,omitempty"`
	Detail  string `json:"detail"`
}

const (
	// DiagOrphanOverride marks an override whose master is not in the
	// listing.
	DiagOrphanOverride = "orphan_override"
	// DiagCancelledSeries marks a series dropped because its master is
	// cancelled.
	DiagCancelledSeries = "cancelled_series"
)

// Series is one calendar event with its recurrence exceptions.
type Series struct {
	Master    provider.RawEvent
	Overrides []provider.RawEvent
}

// Result carries the grouped series and any skip diagnostics.
type Result struct {
	Series      []Series
	Diagnostics []Diagnostic
}

// Group partitions rows into series. Masters are rows without a
// recurringEventId; overrides attach to their master by that id.
// Cancelled masters drop the whole series; cancelled overrides are
// kept, since they carve exception dates out of the base recurrence.
// Rows without an id fail the whole ingest: silently dropping them
// could surface as deletes later.
func Group(rows []provider.RawEvent) (*Result, error) {
	masters := make(map[string]*Series)
	var overrides []provider.RawEvent

	for i := range rows {
		row := rows[i]
		if row.ID == "" {
			return nil, fmt.Errorf("%w: row %d has no id", ErrMalformedRow, i)
		}
		if row.IsOverride() {
			overrides = append(overrides, row)
			continue
		}
		if _, dup := masters[row.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate master id %q", ErrMalformedRow, row.ID)
		}
		masters[row.ID] = &Series{Master: row}
	}

	result := &Result{}
	for _, row := range overrides {
		series, ok := masters[row.RecurringEventID]
		if !ok {
			result.Diagnostics = append(result.Diagnostics, Diagnostic{
				Code:    DiagOrphanOverride,
				EventID: row.ID,
				Detail:  fmt.Sprintf("override references unknown master %q", row.RecurringEventID),
			})
			continue
		}
		series.Overrides = append(series.Overrides, row)
	}

	ids := make([]string, 0, len(masters))
	for id := range masters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		series := masters[id]
		if series.Master.IsCancelled() {
			result.Diagnostics = append(result.Diagnostics, Diagnostic{
				Code:    DiagCancelledSeries,
				EventID: id,
				Detail:  "master row is cancelled",
			})
			continue
		}
		sort.SliceStable(series.Overrides, func(i, j int) bool {
			a, b := series.Overrides[i], series.Overrides[j]
			ak, bk := overrideSortKey(a), overrideSortKey(b)
			if ak != bk {
				return ak < bk
			}
			return a.ID < b.ID
		})
		result.Series = append(result.Series, *series)
	}
	return result, nil
}

func overrideSortKey(row provider.RawEvent) string {
	if row.OriginalStart == nil {
		return ""
	}
	if row.OriginalStart.DateTime != "" {
		return row.OriginalStart.DateTime
	}
	return row.OriginalStart.Date
}

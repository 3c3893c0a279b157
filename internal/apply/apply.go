// Package apply executes a reconciliation plan against its two
// targets. The player side is one staged file replacement built from
// the projected managed row set; the calendar side is a sequence of
// provider mutations in plan order. Everything is staged and validated
// before the first side effect, so a failing composition aborts a run
// that has touched nothing.
package apply

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/fppkit/calbridge/internal/authority"
	"github.com/fppkit/calbridge/internal/fpp"
	"github.com/fppkit/calbridge/internal/intent"
	"github.com/fppkit/calbridge/internal/ordering"
	"github.com/fppkit/calbridge/internal/provider"
	"github.com/fppkit/calbridge/internal/reconcile"
)

var (
	ErrConflictsRemain = errors.New("plan carries unresolved conflicts")
	ErrBlockedRemain   = errors.New("blocked actions under strict policy")
	ErrPartialApply    = errors.New("apply stopped after partial execution")
	ErrMissingEventID  = errors.New("calendar action without a provider event id")
	ErrVerifyFailed    = errors.New("schedule verification failed after write")
)

// Policy says which targets a run may write and how strict it is about
// actions it cannot execute.
type Policy struct {
	Fpp           bool
	Calendar      bool
	FailOnBlocked bool
	DryRun        bool
}

// DefaultPolicy writes both targets.
func DefaultPolicy() Policy { return Policy{Fpp: true, Calendar: true} }

// Input is the state one apply works on: the plan, the two desired
// manifests' player side, the last synced state and the live schedule
// rows as read this run.
type Input struct {
	Plan         *reconcile.Plan
	Fpp          *intent.Manifest
	Current      *intent.Manifest
	ScheduleRows []fpp.ScheduleEntry
}

// Outcome reports what the run did and the state the caller persists
// afterwards. Under dry run the projections are identical but nothing
// was written.
type Outcome struct {
	DryRun          bool     `json:"dryRun"`
	AppliedAtEpoch  int64    `json:"appliedAtEpoch"`
	FppWritten      bool     `json:"fppWritten"`
	FppRows         int      `json:"fppRows"`
	CalendarWrites  int      `json:"calendarWrites"`
	SkippedByPolicy []string `json:"skippedByPolicy,omitempty"`

	Executed           []reconcile.Item `json:"-"`
	NextCurrent        *intent.Manifest `json:"-"`
	FppStamps          map[string]int64 `json:"-"`
	FppStateStamps     map[string]int64 `json:"-"`
	CalendarTombstones []string         `json:"-"`
	FppTombstones      []string         `json:"-"`
}

// Engine owns the two write paths.
type Engine struct {
	writer     *fpp.Writer
	client     provider.Client
	composer   *Composer
	orderer    *ordering.Engine
	calendarID string
	logger     *slog.Logger
	now        func() time.Time
}

func New(writer *fpp.Writer, client provider.Client, composer *Composer, orderer *ordering.Engine, calendarID string, logger *slog.Logger) *Engine {
	return &Engine{
		writer:     writer,
		client:     client,
		composer:   composer,
		orderer:    orderer,
		calendarID: calendarID,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock fixes the engine clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Apply executes the plan. Calendar mutations run first in plan order,
// then the schedule file is replaced in one staged write and verified.
// Any failure stops the run; if something already landed the error
// says so.
func (e *Engine) Apply(ctx context.Context, in Input, pol Policy) (*Outcome, error) {
	plan := in.Plan
	if n := len(plan.Conflicts()); n > 0 {
		return nil, fmt.Errorf("%w: %d identities need manual resolution", ErrConflictsRemain, n)
	}
	if pol.FailOnBlocked {
		if n := len(plan.BlockedItems()); n > 0 {
			return nil, fmt.Errorf("%w: %d gated by sync mode", ErrBlockedRemain, n)
		}
	}

	var toFpp, toCalendar []reconcile.Item
	var skipped []string
	for _, it := range plan.Executable() {
		switch {
		case it.Direction == authority.CalendarToFpp && pol.Fpp:
			toFpp = append(toFpp, it)
		case it.Direction == authority.FppToCalendar && pol.Calendar:
			toCalendar = append(toCalendar, it)
		default:
			skipped = append(skipped, it.IdentityHash)
		}
	}
	if pol.FailOnBlocked && len(skipped) > 0 {
		return nil, fmt.Errorf("%w: %d held back by write policy", ErrBlockedRemain, len(skipped))
	}

	now := e.now()
	out := &Outcome{DryRun: pol.DryRun, AppliedAtEpoch: now.Unix(), SkippedByPolicy: skipped}

	// stage both targets before the first side effect
	finalFpp := projectManaged(in.Fpp, in.Current, toFpp)
	var merged []fpp.ScheduleEntry
	if len(toFpp) > 0 {
		if err := e.enforceOrder(finalFpp); err != nil {
			return nil, err
		}
		managedRows, err := fpp.ComposeRows(finalFpp)
		if err != nil {
			return nil, fmt.Errorf("compose schedule rows: %w", err)
		}
		merged = fpp.MergeRows(in.ScheduleRows, managedRows)
		out.FppRows = len(merged)
	}
	comps, err := e.stageCalendar(toCalendar, now.Year())
	if err != nil {
		return nil, err
	}

	for _, it := range toCalendar {
		if pol.DryRun {
			out.Executed = append(out.Executed, it)
			continue
		}
		res, err := e.applyCalendar(ctx, it, comps[it.IdentityHash])
		if err != nil {
			if out.CalendarWrites > 0 {
				return nil, fmt.Errorf("%w: %d calendar writes landed before %s %s failed: %w",
					ErrPartialApply, out.CalendarWrites, it.Op, it.Label(), err)
			}
			return nil, fmt.Errorf("calendar %s %s: %w", it.Op, it.Label(), err)
		}
		recordCalendarResult(it, res, e.calendarID)
		out.CalendarWrites++
		out.Executed = append(out.Executed, it)
	}

	writeEpoch := now.Unix()
	if len(toFpp) > 0 {
		if !pol.DryRun {
			if err := e.writer.Write(ctx, merged); err != nil {
				if out.CalendarWrites > 0 {
					return nil, fmt.Errorf("%w: calendar side applied but the schedule write failed: %w", ErrPartialApply, err)
				}
				return nil, err
			}
			out.FppWritten = true
			if err := e.verifyWritten(merged); err != nil {
				if rerr := e.writer.Restore(ctx); rerr != nil {
					err = fmt.Errorf("%v (backup restore also failed: %v)", err, rerr)
				}
				if out.CalendarWrites > 0 {
					return nil, fmt.Errorf("%w: calendar side applied but %v", ErrPartialApply, err)
				}
				return nil, err
			}
			if t, ok := e.writtenMtime(); ok {
				writeEpoch = t
			}
		}
		out.Executed = append(out.Executed, toFpp...)
		out.FppStamps, out.FppStateStamps = stampSet(finalFpp, writeEpoch)
	}

	out.NextCurrent = nextCurrent(in.Current, out.Executed, finalFpp, len(toFpp) > 0)
	for _, it := range out.Executed {
		if it.Op != reconcile.OpDelete {
			continue
		}
		switch it.Direction {
		case authority.CalendarToFpp:
			out.CalendarTombstones = append(out.CalendarTombstones, it.IdentityHash)
		case authority.FppToCalendar:
			out.FppTombstones = append(out.FppTombstones, it.IdentityHash)
		}
	}

	e.logger.Info("plan applied",
		slog.Bool("dryRun", pol.DryRun),
		slog.Int("calendarWrites", out.CalendarWrites),
		slog.Bool("scheduleReplaced", out.FppWritten),
		slog.Int("scheduleRows", out.FppRows),
		slog.Int("skipped", len(skipped)))
	return out, nil
}

// enforceOrder renumbers the projected managed set canonically before
// it is composed into rows. The rows then land in the file in the
// order the next run will derive for them, which is what keeps an
// apply followed by a preview empty.
func (e *Engine) enforceOrder(events []*intent.ManifestEvent) error {
	if e.orderer == nil || len(events) == 0 {
		return nil
	}
	om := intent.NewManifest("projection")
	for _, ev := range events {
		om.Events[ev.IdentityHash] = ev
	}
	if err := e.orderer.Order(om); err != nil {
		return fmt.Errorf("order managed rows: %w", err)
	}
	return nil
}

// verifyWritten reads the live file back and compares it row for row
// with what was staged.
func (e *Engine) verifyWritten(want []fpp.ScheduleEntry) error {
	got, _, err := fpp.ReadSchedule(e.writer.Path())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	if len(got) != len(want) {
		return fmt.Errorf("%w: %d rows on disk, %d staged", ErrVerifyFailed, len(got), len(want))
	}
	wantRaw, err := json.Marshal(want)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	gotRaw, err := json.Marshal(got)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	if !bytes.Equal(wantRaw, gotRaw) {
		return fmt.Errorf("%w: rows differ from staged set", ErrVerifyFailed)
	}
	return nil
}

// writtenMtime stamps the write with the file's own mtime so the next
// run can compare it exactly against a later manual edit.
func (e *Engine) writtenMtime() (int64, bool) {
	info, err := os.Stat(e.writer.Path())
	if err != nil {
		return 0, false
	}
	return info.ModTime().Unix(), true
}

// stageCalendar pre-composes every calendar payload so export failures
// surface before anything is written anywhere.
func (e *Engine) stageCalendar(items []reconcile.Item, year int) (map[string]*Composition, error) {
	comps := make(map[string]*Composition, len(items))
	for _, it := range items {
		if it.Op == reconcile.OpDelete {
			continue
		}
		cp, err := e.composer.Compose(it.Event, year)
		if err != nil {
			return nil, fmt.Errorf("stage calendar %s %s: %w", it.Op, it.Label(), err)
		}
		comps[it.IdentityHash] = cp
	}
	return comps, nil
}

// calendarResult carries the provider identifiers a mutation came back
// with, so the synced state records where the event now lives.
type calendarResult struct {
	eventID string
	etag    string
}

func (e *Engine) applyCalendar(ctx context.Context, it reconcile.Item, cp *Composition) (calendarResult, error) {
	switch it.Op {
	case reconcile.OpDelete:
		ref := it.Current
		if ref == nil || ref.Correlation.ExternalID == "" {
			return calendarResult{}, fmt.Errorf("%w: delete %s", ErrMissingEventID, it.IdentityHash)
		}
		err := e.client.DeleteEvent(ctx, e.calendarID, ref.Correlation.ExternalID)
		if errors.Is(err, provider.ErrNotFound) {
			e.logger.Warn("calendar event already gone",
				slog.String("eventId", ref.Correlation.ExternalID))
			return calendarResult{}, nil
		}
		return calendarResult{}, err

	case reconcile.OpUpdate:
		ref := it.Current
		if ref == nil || ref.Correlation.ExternalID == "" {
			return calendarResult{}, fmt.Errorf("%w: update %s", ErrMissingEventID, it.IdentityHash)
		}
		master := cp.Master
		master.ID = ref.Correlation.ExternalID
		master.ETag = ref.Correlation.ETag
		updated, err := e.client.UpdateEvent(ctx, e.calendarID, &master)
		if err != nil {
			return calendarResult{}, err
		}
		res := calendarResult{eventID: master.ID}
		if updated != nil {
			res.etag = updated.ETag
		}
		return res, e.writeInstances(ctx, cp, master.ID)

	case reconcile.OpCreate:
		created, err := e.client.InsertEvent(ctx, e.calendarID, &cp.Master)
		if err != nil {
			return calendarResult{}, err
		}
		return calendarResult{eventID: created.ID, etag: created.ETag}, e.writeInstances(ctx, cp, created.ID)
	}
	return calendarResult{}, nil
}

func (e *Engine) writeInstances(ctx context.Context, cp *Composition, masterID string) error {
	for _, inst := range cp.Instances(masterID) {
		row := inst
		if _, err := e.client.UpdateEvent(ctx, e.calendarID, &row); err != nil {
			return fmt.Errorf("instance %s: %w", row.ID, err)
		}
	}
	return nil
}

// recordCalendarResult folds a mutation's identifiers back into the
// item payload the synced state will keep.
func recordCalendarResult(it reconcile.Item, res calendarResult, calendarID string) {
	if it.Event == nil || res.eventID == "" {
		return
	}
	it.Event.Correlation.Source = "calendar"
	it.Event.Correlation.ExternalID = res.eventID
	it.Event.Correlation.CalendarID = calendarID
	if res.etag != "" {
		it.Event.Correlation.ETag = res.etag
	}
}

// mergeCorrelation fills provider bookkeeping the player rows cannot
// carry from the last synced state.
func mergeCorrelation(ev, prev *intent.ManifestEvent) {
	if ev == nil || prev == nil || ev == prev {
		return
	}
	if ev.Correlation.Source == "" {
		ev.Correlation.Source = prev.Correlation.Source
	}
	if ev.Correlation.ExternalID == "" {
		ev.Correlation.ExternalID = prev.Correlation.ExternalID
	}
	if ev.Correlation.CalendarID == "" {
		ev.Correlation.CalendarID = prev.Correlation.CalendarID
	}
	if ev.Correlation.ETag == "" {
		ev.Correlation.ETag = prev.Correlation.ETag
	}
	if ev.Provenance.Provider == "" {
		ev.Provenance.Provider = prev.Provenance.Provider
	}
	if ev.Provenance.SyncedAtEpoch == 0 {
		ev.Provenance.SyncedAtEpoch = prev.Provenance.SyncedAtEpoch
	}
}

// projectManaged applies the player-bound items onto the player
// manifest and returns the managed events the schedule will carry.
// Rows that came from the file are enriched with the calendar
// correlation the last synced state recorded for them.
func projectManaged(m, current *intent.Manifest, items []reconcile.Item) []*intent.ManifestEvent {
	events := make(map[string]*intent.ManifestEvent)
	if m != nil {
		for _, ev := range m.Sorted() {
			if ev.Ownership.Managed {
				events[ev.IdentityHash] = ev
			}
		}
	}
	if current != nil {
		for id, ev := range events {
			if prev, ok := current.Get(id); ok {
				mergeCorrelation(ev, prev)
			}
		}
	}
	for _, it := range items {
		switch it.Op {
		case reconcile.OpDelete:
			delete(events, it.IdentityHash)
		case reconcile.OpCreate, reconcile.OpUpdate:
			events[it.IdentityHash] = it.Event
		}
	}
	out := make([]*intent.ManifestEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityHash < out[j].IdentityHash })
	return out
}

// nextCurrent projects the synced-state manifest after the executed
// items: deletions drop out, creates and updates take the applied
// payload, everything untouched carries over. When the schedule was
// rewritten the projection also absorbs the final row set, so the
// synced state records the orders as written, enforcement
// renumbering included. Identities that never synced (a blocked
// export, say) stay out.
func nextCurrent(current *intent.Manifest, executed []reconcile.Item, final []*intent.ManifestEvent, fppProjected bool) *intent.Manifest {
	next := intent.NewManifest("sync")
	if current != nil {
		for _, ev := range current.Sorted() {
			next.Events[ev.IdentityHash] = ev
		}
	}
	for _, it := range executed {
		switch it.Op {
		case reconcile.OpDelete:
			delete(next.Events, it.IdentityHash)
		case reconcile.OpCreate, reconcile.OpUpdate:
			if it.Event != nil {
				next.Events[it.IdentityHash] = it.Event
			}
		}
	}
	if fppProjected {
		for _, ev := range final {
			prev, ok := next.Events[ev.IdentityHash]
			if !ok {
				continue
			}
			mergeCorrelation(ev, prev)
			next.Events[ev.IdentityHash] = ev
		}
	}
	return next
}

// stampSet records write-time epochs for the managed rows so the next
// run can tell our writes from later manual edits.
func stampSet(events []*intent.ManifestEvent, epoch int64) (map[string]int64, map[string]int64) {
	ids := make(map[string]int64, len(events))
	states := make(map[string]int64, len(events))
	for _, ev := range events {
		ids[ev.IdentityHash] = epoch
		states[ev.StateHash] = epoch
	}
	return ids, states
}

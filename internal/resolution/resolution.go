// Package resolution turns one calendar series (a master row plus its
// override rows) into execution bundles: contiguous date segments of
// the base recurrence, each carrying the overrides that fall inside
// it. Only geometry is interpreted here; settings, symbolic values and
// identity are the normalizer's business. Supported recurrences are
// daily and weekly rules; everything else fails loudly rather than
// being coerced.
package resolution

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fppkit/calbridge/internal/intent"
)

var (
	ErrUnresolvableRecurrence = errors.New("unresolvable recurrence")
	ErrPartialResolution      = errors.New("partially resolved event")
	ErrBadEventTime           = errors.New("malformed event time")
)

// OpenEndDate closes coverage for recurrences without UNTIL or COUNT.
// The scheduler needs a concrete end date; this one is far enough out
// to mean "until further notice" and stays byte-stable across runs.
const OpenEndDate = intent.DatePattern("2099-12-31")

// Diagnostic codes for conditions that do not fail resolution.
const (
	DiagIgnoredExDate      = "ignored_exdate"
	DiagMovedOverride      = "moved_override"
	DiagDetachedOverride   = "detached_override"
	DiagMergedOverrides    = "merged_overrides"
	DiagExDateWithoutRRule = "exdate_without_rrule"
)

// Diagnostic records a resolution oddity worth surfacing without
// failing the event.
type Diagnostic struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Window is one scheduled geometry: a date range, a daily time window
// and the provider row it came from. Times are wall clock in the
// player's timezone; all-day windows carry none.
type Window struct {
	StartDate   intent.DatePattern
	EndDate     intent.DatePattern
	StartTime   string
	EndTime     string
	AllDay      bool
	Role        intent.Role
	SourceID    string
	Summary     string
	Description string
}

// Bundle is one contiguous execution segment: a base window plus the
// overrides attached to it, in date order.
type Bundle struct {
	ID     string
	Base   Window
	Extras []Window
}

// Windows returns the base followed by the extras.
func (b *Bundle) Windows() []Window {
	out := make([]Window, 0, 1+len(b.Extras))
	out = append(out, b.Base)
	return append(out, b.Extras...)
}

// Resolved is the full resolution of one series.
type Resolved struct {
	UID         string
	Timezone    string
	Days        *intent.WeekdayConstraint
	Bundles     []Bundle
	UpdatedAt   time.Time
	Diagnostics []Diagnostic
}

// PartialError carries the per-instance problems behind a
// PartiallyResolved failure.
type PartialError struct {
	UID      string
	Problems []string
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrPartialResolution, e.UID, strings.Join(e.Problems, "; "))
}

func (e *PartialError) Unwrap() error { return ErrPartialResolution }

// Package authority ranks the two sides of the bridge for one
// identity. The ranking is purely temporal: whoever demonstrably
// touched the event last owns it. When neither side can prove
// anything, the calendar wins by convention so repeated runs stay
// idempotent.
package authority

// Side names a bridge endpoint.
type Side string

const (
	CalendarSide Side = "calendar"
	FppSide      Side = "fpp"
)

// Direction is the flow of a planned change.
type Direction string

const (
	CalendarToFpp Direction = "calendar-to-fpp"
	FppToCalendar Direction = "fpp-to-calendar"
)

// Decision reasons, recorded verbatim in plan items.
const (
	ReasonCalendarNewer  = "calendar-newer"
	ReasonFppNewer       = "fpp-newer"
	ReasonCalendarOnly   = "calendar-only-timestamp"
	ReasonFppOnly        = "fpp-only-timestamp"
	ReasonPlannerDefault = "planner-default"
)

// Decision is the outcome for one identity.
type Decision struct {
	Side      Side      `json:"side"`
	Direction Direction `json:"direction"`
	Reason    string    `json:"reason"`
}

// Proven reports whether the decision rests on actual timestamps
// rather than the planner convention. Only proven decisions may settle
// a two-sided divergence.
func (d Decision) Proven() bool { return d.Reason != ReasonPlannerDefault }

// Decide ranks the sides by their last-modified epochs. Zero means the
// side has no usable timestamp.
func Decide(calendarEpoch, fppEpoch int64) Decision {
	switch {
	case calendarEpoch > 0 && fppEpoch > 0 && calendarEpoch > fppEpoch:
		return Decision{Side: CalendarSide, Direction: CalendarToFpp, Reason: ReasonCalendarNewer}
	case calendarEpoch > 0 && fppEpoch > 0 && fppEpoch > calendarEpoch:
		return Decision{Side: FppSide, Direction: FppToCalendar, Reason: ReasonFppNewer}
	case calendarEpoch > 0 && fppEpoch == 0:
		return Decision{Side: CalendarSide, Direction: CalendarToFpp, Reason: ReasonCalendarOnly}
	case fppEpoch > 0 && calendarEpoch == 0:
		return Decision{Side: FppSide, Direction: FppToCalendar, Reason: ReasonFppOnly}
	default:
		return Decision{Side: CalendarSide, Direction: CalendarToFpp, Reason: ReasonPlannerDefault}
	}
}

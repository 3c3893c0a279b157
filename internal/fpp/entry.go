// Package fpp speaks the player's on-disk formats: the scheduler file
// (an ordered JSON array of entries), the provenance marker the bridge
// stamps on rows it owns, and the optional environment file with
// timezone, coordinates and locale holidays. Writes go through a staged
// atomic replace with a backup and an advisory lock.
package fpp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fppkit/calbridge/internal/intent"
)

var (
	ErrInvalidEntry  = errors.New("invalid scheduler entry")
	ErrInvalidDay    = errors.New("invalid day enum")
	ErrEmptySchedule = errors.New("refusing to write an empty schedule")
)

// Named day enum values of the scheduler, plus the mask form for
// arbitrary weekly sets: DayMaskFlag ored with bits 0 (Sunday) through
// 6 (Saturday).
const (
	DaySunday    = 0
	DayMonday    = 1
	DayTuesday   = 2
	DayWednesday = 3
	DayThursday  = 4
	DayFriday    = 5
	DaySaturday  = 6
	DayEveryday  = 7
	DayWeekdays  = 8
	DayWeekends  = 9
	DayMonWedFri = 10
	DayTueThu    = 11
	DaySunThu    = 12
	DayFriSat    = 13
	DayOddDays   = 14
	DayEvenDays  = 15

	DayMaskFlag = 0x10000
)

// DayEnd is the scheduler's end-of-day sentinel. It never appears in
// intent timing; the codec maps it from and to a midnight end.
const DayEnd = "24:00:00"

// Provenance is the marker stamped on managed rows so they can be
// grouped back into their manifest event and round-trip the fields the
// row geometry alone cannot carry.
type Provenance struct {
	UID      string            `json:"uid"`
	Calendar string            `json:"calendar,omitempty"`
	Bundle   string            `json:"bundle"`
	Role     intent.Role       `json:"role"`
	Source   string            `json:"source,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`

	// A date cell holds one string. When a date value carries both a
	// symbolic token and a hard pattern, the token takes the cell and
	// the pattern is kept here.
	StartDateHard string `json:"startDateHard,omitempty"`
	EndDateHard   string `json:"endDateHard,omitempty"`
}

// ScheduleEntry is one row of the scheduler file. Unknown JSON fields
// are preserved verbatim so rewriting the file never strips what other
// tools put there.
type ScheduleEntry struct {
	Enabled         int
	Type            string
	Target          string
	StartTime       string
	EndTime         string
	StartTimeOffset int
	EndTimeOffset   int
	StartDate       string
	EndDate         string
	Day             int
	Repeat          int
	StopType        int
	Args            []string
	Provenance      *Provenance

	extra map[string]json.RawMessage
}

// knownEntryKeys are the fields the codec owns; everything else rides
// along in extra.
var knownEntryKeys = map[string]struct{}{
	"enabled": {}, "type": {}, "target": {},
	"startTime": {}, "endTime": {}, "startTimeOffset": {}, "endTimeOffset": {},
	"startDate": {}, "endDate": {}, "dayEnum": {},
	"repeat": {}, "stopType": {}, "args": {}, "calbridge": {},
}

// Managed reports whether the row carries the bridge's marker.
func (e *ScheduleEntry) Managed() bool { return e.Provenance != nil }

func (e *ScheduleEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	take := func(key string, out any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(v, out)
	}
	if err := errors.Join(
		take("enabled", &e.Enabled),
		take("type", &e.Type),
		take("target", &e.Target),
		take("startTime", &e.StartTime),
		take("endTime", &e.EndTime),
		take("startTimeOffset", &e.StartTimeOffset),
		take("endTimeOffset", &e.EndTimeOffset),
		take("startDate", &e.StartDate),
		take("endDate", &e.EndDate),
		take("dayEnum", &e.Day),
		take("repeat", &e.Repeat),
		take("stopType", &e.StopType),
		take("args", &e.Args),
		take("calbridge", &e.Provenance),
	); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	for key, v := range raw {
		if _, known := knownEntryKeys[key]; known {
			continue
		}
		if e.extra == nil {
			e.extra = make(map[string]json.RawMessage)
		}
		e.extra[key] = v
	}
	return nil
}

func (e ScheduleEntry) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(knownEntryKeys)+len(e.extra))
	for key, v := range e.extra {
		out[key] = v
	}
	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = b
		return nil
	}
	if err := errors.Join(
		set("enabled", e.Enabled),
		set("type", e.Type),
		set("target", e.Target),
		set("startTime", e.StartTime),
		set("endTime", e.EndTime),
		set("startDate", e.StartDate),
		set("endDate", e.EndDate),
		set("dayEnum", e.Day),
		set("repeat", e.Repeat),
		set("stopType", e.StopType),
	); err != nil {
		return nil, err
	}
	if e.StartTimeOffset != 0 {
		if err := set("startTimeOffset", e.StartTimeOffset); err != nil {
			return nil, err
		}
	}
	if e.EndTimeOffset != 0 {
		if err := set("endTimeOffset", e.EndTimeOffset); err != nil {
			return nil, err
		}
	}
	if len(e.Args) > 0 {
		if err := set("args", e.Args); err != nil {
			return nil, err
		}
	}
	if e.Provenance != nil {
		if err := set("calbridge", e.Provenance); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

// Validate checks the row against the file contract: known type, a
// target, well-formed dates and times, a valid day enum and behavior
// scalars in range.
func (e *ScheduleEntry) Validate() error {
	if _, err := intent.ParseSubEventType(e.Type); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if e.Target == "" {
		return fmt.Errorf("%w: empty target", ErrInvalidEntry)
	}
	if err := validateEntryDate(e.StartDate); err != nil {
		return fmt.Errorf("%w: startDate: %v", ErrInvalidEntry, err)
	}
	if err := validateEntryDate(e.EndDate); err != nil {
		return fmt.Errorf("%w: endDate: %v", ErrInvalidEntry, err)
	}
	if err := validateEntryTime(e.StartTime, false); err != nil {
		return fmt.Errorf("%w: startTime: %v", ErrInvalidEntry, err)
	}
	if err := validateEntryTime(e.EndTime, true); err != nil {
		return fmt.Errorf("%w: endTime: %v", ErrInvalidEntry, err)
	}
	if e.StartTimeOffset != 0 {
		if _, ok := intent.ParseSymbolicTime(e.StartTime); !ok {
			return fmt.Errorf("%w: startTimeOffset on a fixed start time", ErrInvalidEntry)
		}
	}
	if e.EndTimeOffset != 0 {
		if _, ok := intent.ParseSymbolicTime(e.EndTime); !ok {
			return fmt.Errorf("%w: endTimeOffset on a fixed end time", ErrInvalidEntry)
		}
	}
	if err := validateDayEnum(e.Day); err != nil {
		return err
	}
	if e.Enabled != 0 && e.Enabled != 1 {
		return fmt.Errorf("%w: enabled must be 0 or 1", ErrInvalidEntry)
	}
	if e.Repeat < 0 {
		return fmt.Errorf("%w: negative repeat", ErrInvalidEntry)
	}
	if e.StopType < intent.StopGraceful || e.StopType > intent.StopGracefulLoop {
		return fmt.Errorf("%w: stopType %d", ErrInvalidEntry, e.StopType)
	}
	if e.Provenance != nil {
		if e.Provenance.UID == "" || e.Provenance.Bundle == "" {
			return fmt.Errorf("%w: provenance needs uid and bundle", ErrInvalidEntry)
		}
		if e.Provenance.Role != intent.BaseRole && e.Provenance.Role != intent.OverrideRole {
			return fmt.Errorf("%w: provenance role %q", ErrInvalidEntry, e.Provenance.Role)
		}
	}
	return nil
}

// validateEntryDate accepts a date pattern or a holiday token; token
// spellings are checked later against the resolver, only the shape is
// checked here.
func validateEntryDate(s string) error {
	if s == "" {
		return errors.New("empty")
	}
	if isTokenDate(s) {
		return nil
	}
	_, err := intent.ParseDatePattern(s)
	return err
}

// isTokenDate reports whether the string looks like a holiday token
// rather than a date pattern.
func isTokenDate(s string) bool {
	if s == "" {
		return false
	}
	first := s[0]
	if !(first >= 'A' && first <= 'Z' || first >= 'a' && first <= 'z') {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

func validateEntryTime(s string, endOfDay bool) error {
	if s == "" {
		return errors.New("empty")
	}
	if endOfDay && s == DayEnd {
		return nil
	}
	if _, ok := intent.ParseSymbolicTime(s); ok {
		return nil
	}
	canon, err := intent.ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	if canon != s {
		return fmt.Errorf("%q not canonical", s)
	}
	return nil
}

func validateDayEnum(day int) error {
	if day >= DaySunday && day <= DayEvenDays {
		return nil
	}
	if day&DayMaskFlag != 0 {
		mask := day &^ DayMaskFlag
		if mask >= 1 && mask <= 0x7f {
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrInvalidDay, day)
}

// maskBit positions weekdays inside the mask form, bit 0 = Sunday.
var maskBit = map[intent.Weekday]int{
	intent.Sunday:    0,
	intent.Monday:    1,
	intent.Tuesday:   2,
	intent.Wednesday: 3,
	intent.Thursday:  4,
	intent.Friday:    5,
	intent.Saturday:  6,
}

// namedSets maps the composite named enums to their weekday sets.
var namedSets = map[int][]intent.Weekday{
	DayWeekdays:  {intent.Friday, intent.Monday, intent.Thursday, intent.Tuesday, intent.Wednesday},
	DayWeekends:  {intent.Saturday, intent.Sunday},
	DayMonWedFri: {intent.Friday, intent.Monday, intent.Wednesday},
	DayTueThu:    {intent.Thursday, intent.Tuesday},
	DaySunThu:    {intent.Monday, intent.Sunday, intent.Thursday, intent.Tuesday, intent.Wednesday},
	DayFriSat:    {intent.Friday, intent.Saturday},
}

func weekdaySetMask(days []intent.Weekday) int {
	mask := 0
	for _, d := range days {
		mask |= 1 << maskBit[d]
	}
	return mask
}

// DayEnumFor renders a weekday constraint as a day enum, preferring the
// named values and falling back to the mask form for weekly sets the
// scheduler has no name for.
func DayEnumFor(c *intent.WeekdayConstraint) (int, error) {
	if c == nil {
		return DayEveryday, nil
	}
	if err := c.Validate(); err != nil {
		return 0, err
	}
	if c.Type == intent.DateParityConstraint {
		if c.Parity == intent.OddDays {
			return DayOddDays, nil
		}
		return DayEvenDays, nil
	}
	if len(c.Days) == 7 {
		return DayEveryday, nil
	}
	if len(c.Days) == 1 {
		return maskBit[c.Days[0]], nil
	}
	mask := weekdaySetMask(c.Days)
	for named, set := range namedSets {
		if weekdaySetMask(set) == mask {
			return named, nil
		}
	}
	return DayMaskFlag | mask, nil
}

// ConstraintForDay is the inverse of DayEnumFor. The everyday value
// comes back as nil, the canonical form of an unconstrained window.
func ConstraintForDay(day int) (*intent.WeekdayConstraint, error) {
	if err := validateDayEnum(day); err != nil {
		return nil, err
	}
	switch {
	case day == DayEveryday:
		return nil, nil
	case day == DayOddDays:
		return intent.DateParity(intent.OddDays)
	case day == DayEvenDays:
		return intent.DateParity(intent.EvenDays)
	case day >= DaySunday && day <= DaySaturday:
		for wd, bit := range maskBit {
			if bit == day {
				return intent.Weekly(string(wd))
			}
		}
	}
	var days []intent.Weekday
	if set, ok := namedSets[day]; ok {
		days = set
	} else {
		mask := day &^ DayMaskFlag
		for wd, bit := range maskBit {
			if mask&(1<<bit) != 0 {
				days = append(days, wd)
			}
		}
		if len(days) == 7 {
			return nil, nil
		}
	}
	codes := make([]string, len(days))
	for i, d := range days {
		codes[i] = string(d)
	}
	return intent.Weekly(codes...)
}

package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidWeekday    = errors.New("invalid weekday code")
	ErrDuplicateWeekday  = errors.New("duplicate weekday code")
	ErrInvalidParity     = errors.New("parity must be odd or even")
	ErrInvalidConstraint = errors.New("invalid weekday constraint")
)

// Weekday is a two-letter uppercase weekday code (SU, MO, TU, WE, TH,
// FR, SA).
type Weekday string

const (
	Sunday    Weekday = "SU"
	Monday    Weekday = "MO"
	Tuesday   Weekday = "TU"
	Wednesday Weekday = "WE"
	Thursday  Weekday = "TH"
	Friday    Weekday = "FR"
	Saturday  Weekday = "SA"
)

var weekdayIndex = map[Weekday]time.Weekday{
	Sunday:    time.Sunday,
	Monday:    time.Monday,
	Tuesday:   time.Tuesday,
	Wednesday: time.Wednesday,
	Thursday:  time.Thursday,
	Friday:    time.Friday,
	Saturday:  time.Saturday,
}

// ParseWeekday canonicalizes a weekday code to its uppercase two-letter
// form.
func ParseWeekday(s string) (Weekday, error) {
	w := Weekday(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := weekdayIndex[w]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
	}
	return w, nil
}

// Time returns the stdlib weekday for a valid code.
func (w Weekday) Time() time.Weekday { return weekdayIndex[w] }

// WeekdayFromTime converts a stdlib weekday to its code.
func WeekdayFromTime(d time.Weekday) Weekday {
	switch d {
	case time.Sunday:
		return Sunday
	case time.Monday:
		return Monday
	case time.Tuesday:
		return Tuesday
	case time.Wednesday:
		return Wednesday
	case time.Thursday:
		return Thursday
	case time.Friday:
		return Friday
	default:
		return Saturday
	}
}

// NormalizeWeekdays uppercases, validates, deduplicates and sorts a
// weekday list lexicographically. The sorted order is part of event
// identity, so it must be stable across runs.
func NormalizeWeekdays(in []string) ([]Weekday, error) {
	seen := make(map[Weekday]struct{}, len(in))
	out := make([]Weekday, 0, len(in))
	for _, s := range in {
		w, err := ParseWeekday(s)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty weekday set", ErrInvalidConstraint)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Parity selects odd or even days of the month.
type Parity string

const (
	OddDays  Parity = "odd"
	EvenDays Parity = "even"
)

// ConstraintType discriminates the two weekday constraint shapes.
type ConstraintType string

const (
	WeeklyConstraint     ConstraintType = "weekly"
	DateParityConstraint ConstraintType = "date_parity"
)

// WeekdayConstraint restricts which days inside a date range an event
// fires on: either an explicit weekday set or an odd/even day-of-month
// rule.
type WeekdayConstraint struct {
	Type   ConstraintType
	Days   []Weekday // weekly only, sorted, unique
	Parity Parity    // date_parity only
}

// Weekly builds a weekly constraint from raw codes.
func Weekly(days ...string) (*WeekdayConstraint, error) {
	norm, err := NormalizeWeekdays(days)
	if err != nil {
		return nil, err
	}
	return &WeekdayConstraint{Type: WeeklyConstraint, Days: norm}, nil
}

// MustWeekly is Weekly for literals known to be valid.
func MustWeekly(days ...string) *WeekdayConstraint {
	c, err := Weekly(days...)
	if err != nil {
		panic(err)
	}
	return c
}

// EveryDay is the full weekly set.
func EveryDay() *WeekdayConstraint {
	return MustWeekly("SU", "MO", "TU", "WE", "TH", "FR", "SA")
}

// DateParity builds an odd/even constraint.
func DateParity(p Parity) (*WeekdayConstraint, error) {
	if p != OddDays && p != EvenDays {
		return nil, fmt.Errorf("%w: %q", ErrInvalidParity, p)
	}
	return &WeekdayConstraint{Type: DateParityConstraint, Parity: p}, nil
}

// Validate checks the constraint shape: weekly sets must be non-empty,
// sorted and unique; parity must be odd or even.
func (c *WeekdayConstraint) Validate() error {
	if c == nil {
		return nil
	}
	switch c.Type {
	case WeeklyConstraint:
		if len(c.Days) == 0 {
			return fmt.Errorf("%w: empty weekday set", ErrInvalidConstraint)
		}
		for i, d := range c.Days {
			if _, ok := weekdayIndex[d]; !ok {
				return fmt.Errorf("%w: %q", ErrInvalidWeekday, d)
			}
			if i > 0 {
				if c.Days[i-1] == d {
					return fmt.Errorf("%w: %q", ErrDuplicateWeekday, d)
				}
				if c.Days[i-1] > d {
					return fmt.Errorf("%w: weekday set not sorted", ErrInvalidConstraint)
				}
			}
		}
		if c.Parity != "" {
			return fmt.Errorf("%w: parity on weekly constraint", ErrInvalidConstraint)
		}
	case DateParityConstraint:
		if c.Parity != OddDays && c.Parity != EvenDays {
			return fmt.Errorf("%w: %q", ErrInvalidParity, c.Parity)
		}
		if len(c.Days) != 0 {
			return fmt.Errorf("%w: weekday set on parity constraint", ErrInvalidConstraint)
		}
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidConstraint, c.Type)
	}
	return nil
}

// Matches reports whether the constraint admits the given local date.
// A nil constraint admits every date.
func (c *WeekdayConstraint) Matches(t time.Time) bool {
	if c == nil {
		return true
	}
	switch c.Type {
	case WeeklyConstraint:
		wd := WeekdayFromTime(t.Weekday())
		for _, d := range c.Days {
			if d == wd {
				return true
			}
		}
		return false
	case DateParityConstraint:
		odd := t.Day()%2 == 1
		return (c.Parity == OddDays) == odd
	}
	return false
}

// Contains reports whether a weekly constraint includes the code.
func (c *WeekdayConstraint) Contains(w Weekday) bool {
	if c == nil {
		return true
	}
	if c.Type != WeeklyConstraint {
		return false
	}
	for _, d := range c.Days {
		if d == w {
			return true
		}
	}
	return false
}

// Coverage returns how many weekdays the constraint can fire on,
// treating parity rules as covering all seven.
func (c *WeekdayConstraint) Coverage() int {
	if c == nil {
		return 7
	}
	if c.Type == WeeklyConstraint {
		return len(c.Days)
	}
	return 7
}

// Equal compares two optional constraints structurally.
func (c *WeekdayConstraint) Equal(other *WeekdayConstraint) bool {
	if (c == nil) != (other == nil) {
		return false
	}
	if c == nil {
		return true
	}
	if c.Type != other.Type || c.Parity != other.Parity || len(c.Days) != len(other.Days) {
		return false
	}
	for i := range c.Days {
		if c.Days[i] != other.Days[i] {
			return false
		}
	}
	return true
}

type weeklyJSON struct {
	Type  ConstraintType `json:"type"`
	Value []Weekday      `json:"value"`
}

type parityJSON struct {
	Type  ConstraintType `json:"type"`
	Value Parity         `json:"value"`
}

// MarshalJSON encodes the constraint with a shape-dependent value
// field: an array of codes for weekly, a string for date_parity.
func (c WeekdayConstraint) MarshalJSON() ([]byte, error) {
	if c.Type == DateParityConstraint {
		return json.Marshal(parityJSON{Type: c.Type, Value: c.Parity})
	}
	return json.Marshal(weeklyJSON{Type: c.Type, Value: c.Days})
}

// UnmarshalJSON decodes either shape and validates the result.
func (c *WeekdayConstraint) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type  ConstraintType  `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch probe.Type {
	case WeeklyConstraint:
		var days []string
		if err := json.Unmarshal(probe.Value, &days); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConstraint, err)
		}
		norm, err := NormalizeWeekdays(days)
		if err != nil {
			return err
		}
		*c = WeekdayConstraint{Type: WeeklyConstraint, Days: norm}
	case DateParityConstraint:
		var p Parity
		if err := json.Unmarshal(probe.Value, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConstraint, err)
		}
		if p != OddDays && p != EvenDays {
			return fmt.Errorf("%w: %q", ErrInvalidParity, p)
		}
		*c = WeekdayConstraint{Type: DateParityConstraint, Parity: p}
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidConstraint, probe.Type)
	}
	return nil
}

func (c *WeekdayConstraint) String() string {
	if c == nil {
		return "any"
	}
	if c.Type == DateParityConstraint {
		return string(c.Parity)
	}
	codes := make([]string, len(c.Days))
	for i, d := range c.Days {
		codes[i] = string(d)
	}
	return strings.Join(codes, ",")
}

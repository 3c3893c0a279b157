// Package intent holds the provider-agnostic scheduling intent model:
// date/time values, weekday constraints, sub-events, manifest events and
// their identity and state hashes. Values round-trip through canonical
// JSON without loss; symbolic dates and times are preserved verbatim and
// never resolved to hard values here.
package intent

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidDatePattern = errors.New("invalid date pattern")
	ErrEmptyDateValue     = errors.New("date value needs a hard or symbolic part")
)

// WildcardPart is the wildcard for a single date component. A year
// wildcard is written 0000, month and day wildcards are written 00.
const WildcardPart = "0000"

// DatePattern is a date string of the form YYYY-MM-DD where the year,
// month and day may independently be wildcarded (0000, 00, 00).
type DatePattern string

// ParseDatePattern validates a pattern string and returns it typed.
func ParseDatePattern(s string) (DatePattern, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidDatePattern, s)
	}
	year, month, day := parts[0], parts[1], parts[2]
	if len(year) != 4 || len(month) != 2 || len(day) != 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidDatePattern, s)
	}
	y, err := strconv.Atoi(year)
	if err != nil || y < 0 {
		return "", fmt.Errorf("%w: year in %q", ErrInvalidDatePattern, s)
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 0 || m > 12 {
		return "", fmt.Errorf("%w: month in %q", ErrInvalidDatePattern, s)
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 0 || d > 31 {
		return "", fmt.Errorf("%w: day in %q", ErrInvalidDatePattern, s)
	}
	// A zero component is a wildcard; a concrete date needs all three.
	return DatePattern(s), nil
}

// DatePatternFromTime renders a concrete local date as a pattern.
func DatePatternFromTime(t time.Time) DatePattern {
	return DatePattern(t.Format("2006-01-02"))
}

func (p DatePattern) String() string { return string(p) }

// parts returns year, month, day as ints; wildcards come back as 0.
func (p DatePattern) parts() (int, int, int) {
	s := string(p)
	if len(s) != 10 {
		return 0, 0, 0
	}
	y, _ := strconv.Atoi(s[0:4])
	m, _ := strconv.Atoi(s[5:7])
	d, _ := strconv.Atoi(s[8:10])
	return y, m, d
}

// IsConcrete reports whether no component is wildcarded.
func (p DatePattern) IsConcrete() bool {
	y, m, d := p.parts()
	return y != 0 && m != 0 && d != 0
}

// Matches reports whether the pattern covers the given local date.
// Wildcarded components match any value.
func (p DatePattern) Matches(t time.Time) bool {
	y, m, d := p.parts()
	if y != 0 && y != t.Year() {
		return false
	}
	if m != 0 && m != int(t.Month()) {
		return false
	}
	if d != 0 && d != t.Day() {
		return false
	}
	return true
}

// Time resolves a concrete pattern to a local midnight in loc.
// Patterns with wildcards cannot be resolved and return ok=false.
func (p DatePattern) Time(loc *time.Location) (time.Time, bool) {
	if !p.IsConcrete() {
		return time.Time{}, false
	}
	y, m, d := p.parts()
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc), true
}

// HolidayToken names a symbolic date such as Christmas or Thanksgiving.
// Tokens are opaque here; the holiday package resolves them.
type HolidayToken string

func (h HolidayToken) String() string { return string(h) }

// DateValue is a date given as a hard pattern, a symbolic holiday token,
// or both (the hard part then annotates the symbolic one; it is never
// derived from it during normalization).
type DateValue struct {
	Hard     *DatePattern  `json:"hard,omitempty"`
	Symbolic *HolidayToken `json:"symbolic,omitempty"`
}

// HardDate builds a DateValue from a pattern string.
func HardDate(pattern DatePattern) DateValue {
	p := pattern
	return DateValue{Hard: &p}
}

// SymbolicDate builds a DateValue from a holiday token.
func SymbolicDate(token HolidayToken) DateValue {
	t := token
	return DateValue{Symbolic: &t}
}

// Validate checks that at least one part is present and the hard part,
// when set, is a well-formed pattern.
func (d DateValue) Validate() error {
	if d.Hard == nil && d.Symbolic == nil {
		return ErrEmptyDateValue
	}
	if d.Hard != nil {
		if _, err := ParseDatePattern(string(*d.Hard)); err != nil {
			return err
		}
	}
	if d.Symbolic != nil && *d.Symbolic == "" {
		return fmt.Errorf("%w: empty symbolic token", ErrInvalidDatePattern)
	}
	return nil
}

// IsSymbolic reports whether the value carries a symbolic token.
func (d DateValue) IsSymbolic() bool { return d.Symbolic != nil }

// IsZero reports whether neither part is present.
func (d DateValue) IsZero() bool { return d.Hard == nil && d.Symbolic == nil }

// Equal compares both parts.
func (d DateValue) Equal(other DateValue) bool {
	if (d.Hard == nil) != (other.Hard == nil) {
		return false
	}
	if d.Hard != nil && *d.Hard != *other.Hard {
		return false
	}
	if (d.Symbolic == nil) != (other.Symbolic == nil) {
		return false
	}
	if d.Symbolic != nil && *d.Symbolic != *other.Symbolic {
		return false
	}
	return true
}

func (d DateValue) String() string {
	switch {
	case d.Hard != nil && d.Symbolic != nil:
		return fmt.Sprintf("%s(%s)", *d.Symbolic, *d.Hard)
	case d.Symbolic != nil:
		return string(*d.Symbolic)
	case d.Hard != nil:
		return string(*d.Hard)
	default:
		return ""
	}
}

package intent

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidTimeOfDay  = errors.New("invalid time of day")
	ErrInvalidSymbolic   = errors.New("invalid symbolic time")
	ErrAmbiguousTimeSpec = errors.New("time value needs exactly one of hard or symbolic")
)

// SymbolicTime names a solar reference point. The estimator resolves
// these for planning; the values themselves survive every pipeline
// phase verbatim.
type SymbolicTime string

const (
	Dawn    SymbolicTime = "Dawn"
	SunRise SymbolicTime = "SunRise"
	SunSet  SymbolicTime = "SunSet"
	Dusk    SymbolicTime = "Dusk"
)

// ParseSymbolicTime matches a token case-insensitively against the four
// solar references and returns the canonical spelling.
func ParseSymbolicTime(s string) (SymbolicTime, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dawn":
		return Dawn, true
	case "sunrise":
		return SunRise, true
	case "sunset":
		return SunSet, true
	case "dusk":
		return Dusk, true
	}
	return "", false
}

func (s SymbolicTime) String() string { return string(s) }

// ParseTimeOfDay canonicalizes a wall-clock string to HH:MM:SS.
// Accepted inputs are H:MM, HH:MM and HH:MM:SS within 00:00:00 and
// 23:59:59. The 24:00:00 sentinel used by scheduler files is not a
// valid intent time and is rejected here.
func ParseTimeOfDay(s string) (string, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return "", fmt.Errorf("%w: hour in %q", ErrInvalidTimeOfDay, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return "", fmt.Errorf("%w: minute in %q", ErrInvalidTimeOfDay, s)
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return "", fmt.Errorf("%w: second in %q", ErrInvalidTimeOfDay, s)
		}
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec), nil
}

// SecondsOfDay converts a canonical HH:MM:SS string to seconds since
// local midnight.
func SecondsOfDay(hhmmss string) (int, error) {
	canon, err := ParseTimeOfDay(hhmmss)
	if err != nil {
		return 0, err
	}
	h, _ := strconv.Atoi(canon[0:2])
	m, _ := strconv.Atoi(canon[3:5])
	s, _ := strconv.Atoi(canon[6:8])
	return h*3600 + m*60 + s, nil
}

// TimeValue is a time of day given either as a hard HH:MM:SS string or
// as a symbolic solar reference with an optional minute offset.
type TimeValue struct {
	Hard          *string       `json:"hard,omitempty"`
	Symbolic      *SymbolicTime `json:"symbolic,omitempty"`
	OffsetMinutes int           `json:"offsetMinutes,omitempty"`
}

// HardTime builds a TimeValue from a wall-clock string, canonicalizing
// it to HH:MM:SS.
func HardTime(s string) (*TimeValue, error) {
	canon, err := ParseTimeOfDay(s)
	if err != nil {
		return nil, err
	}
	return &TimeValue{Hard: &canon}, nil
}

// MustHardTime is HardTime for literals known to be valid.
func MustHardTime(s string) *TimeValue {
	tv, err := HardTime(s)
	if err != nil {
		panic(err)
	}
	return tv
}

// SymbolicTimeValue builds a TimeValue from a solar reference and a
// minute offset.
func SymbolicTimeValue(ref SymbolicTime, offsetMinutes int) *TimeValue {
	r := ref
	return &TimeValue{Symbolic: &r, OffsetMinutes: offsetMinutes}
}

// Validate checks that exactly one of the hard or symbolic parts is
// set, the hard part is canonical and offsets only accompany symbolic
// references.
func (t TimeValue) Validate() error {
	if (t.Hard == nil) == (t.Symbolic == nil) {
		return ErrAmbiguousTimeSpec
	}
	if t.Hard != nil {
		canon, err := ParseTimeOfDay(*t.Hard)
		if err != nil {
			return err
		}
		if canon != *t.Hard {
			return fmt.Errorf("%w: %q not canonical", ErrInvalidTimeOfDay, *t.Hard)
		}
		if t.OffsetMinutes != 0 {
			return fmt.Errorf("%w: offset on hard time", ErrInvalidTimeOfDay)
		}
	}
	if t.Symbolic != nil {
		if _, ok := ParseSymbolicTime(string(*t.Symbolic)); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidSymbolic, *t.Symbolic)
		}
	}
	return nil
}

// IsSymbolic reports whether the value is a solar reference.
func (t TimeValue) IsSymbolic() bool { return t.Symbolic != nil }

// Equal compares all three parts.
func (t TimeValue) Equal(other TimeValue) bool {
	if (t.Hard == nil) != (other.Hard == nil) {
		return false
	}
	if t.Hard != nil && *t.Hard != *other.Hard {
		return false
	}
	if (t.Symbolic == nil) != (other.Symbolic == nil) {
		return false
	}
	if t.Symbolic != nil && *t.Symbolic != *other.Symbolic {
		return false
	}
	return t.OffsetMinutes == other.OffsetMinutes
}

// EqualPtr compares two optional time values, treating nil as equal to
// nil only.
func EqualTimePtr(a, b *TimeValue) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return a.Equal(*b)
}

func (t TimeValue) String() string {
	if t.Symbolic != nil {
		if t.OffsetMinutes != 0 {
			return fmt.Sprintf("%s%+d", *t.Symbolic, t.OffsetMinutes)
		}
		return string(*t.Symbolic)
	}
	if t.Hard != nil {
		return *t.Hard
	}
	return ""
}

// Package holiday resolves symbolic date tokens like Christmas or
// Thanksgiving to concrete civil dates for a given year. The token
// table mirrors the player's locale table; extra rules from a locale
// file can be layered on top. Resolution is only used for planning and
// ordering; the tokens themselves stay symbolic in every stored form.
package holiday

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownHoliday = errors.New("unknown holiday token")
	ErrInvalidRule    = errors.New("invalid holiday rule")
)

// Calc discriminates how a rule computes its date.
type Calc string

const (
	// FixedCalc is a fixed month/day every year.
	FixedCalc Calc = "fixed"
	// WeekdayCalc is the Nth (or last) given weekday of a month.
	WeekdayCalc Calc = "dow"
	// EasterCalc is an offset in days from Easter Sunday.
	EasterCalc Calc = "easter"
)

// Rule computes the date of one holiday token.
type Rule struct {
	Token   string
	Calc    Calc
	Month   time.Month
	Day     int          // FixedCalc
	Weekday time.Weekday // WeekdayCalc
	Week    int          // WeekdayCalc: 1..5, or -1 for last
	Offset  int          // EasterCalc: days relative to Easter Sunday
}

// Validate checks the rule's shape for its calc kind.
func (r Rule) Validate() error {
	if r.Token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidRule)
	}
	switch r.Calc {
	case FixedCalc:
		if r.Month < time.January || r.Month > time.December || r.Day < 1 || r.Day > 31 {
			return fmt.Errorf("%w: %s", ErrInvalidRule, r.Token)
		}
	case WeekdayCalc:
		if r.Month < time.January || r.Month > time.December {
			return fmt.Errorf("%w: %s", ErrInvalidRule, r.Token)
		}
		if r.Week == 0 || r.Week > 5 || r.Week < -1 {
			return fmt.Errorf("%w: %s: week %d", ErrInvalidRule, r.Token, r.Week)
		}
	case EasterCalc:
		// Any offset is fine.
	default:
		return fmt.Errorf("%w: %s: calc %q", ErrInvalidRule, r.Token, r.Calc)
	}
	return nil
}

// date evaluates the rule for a year, in the given location at local
// midnight.
func (r Rule) date(year int, loc *time.Location) time.Time {
	switch r.Calc {
	case FixedCalc:
		return time.Date(year, r.Month, r.Day, 0, 0, 0, 0, loc)
	case WeekdayCalc:
		if r.Week == -1 {
			return lastWeekdayOf(year, r.Month, r.Weekday, loc)
		}
		return nthWeekdayOf(year, r.Month, r.Weekday, r.Week, loc)
	case EasterCalc:
		return Easter(year, loc).AddDate(0, 0, r.Offset)
	}
	return time.Time{}
}

// nthWeekdayOf finds the Nth weekday of a month (1-based).
func nthWeekdayOf(year int, month time.Month, weekday time.Weekday, n int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	delta := (int(weekday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, delta+(n-1)*7)
}

// lastWeekdayOf finds the last weekday of a month.
func lastWeekdayOf(year int, month time.Month, weekday time.Weekday, loc *time.Location) time.Time {
	last := time.Date(year, month+1, 1, 0, 0, 0, 0, loc).AddDate(0, 0, -1)
	delta := (int(last.Weekday()) - int(weekday) + 7) % 7
	return last.AddDate(0, 0, -delta)
}

// Easter returns Easter Sunday of the given year (Gregorian, via the
// anonymous Gauss algorithm).
func Easter(year int, loc *time.Location) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
}

// builtin is the default token table, matching the player's US locale
// spellings. Keys are canonical spellings; lookup is case-insensitive.
var builtin = []Rule{
	{Token: "NewYearsDay", Calc: FixedCalc, Month: time.January, Day: 1},
	{Token: "ValentinesDay", Calc: FixedCalc, Month: time.February, Day: 14},
	{Token: "PresidentsDay", Calc: WeekdayCalc, Month: time.February, Weekday: time.Monday, Week: 3},
	{Token: "StPatricksDay", Calc: FixedCalc, Month: time.March, Day: 17},
	{Token: "GoodFriday", Calc: EasterCalc, Offset: -2},
	{Token: "Easter", Calc: EasterCalc, Offset: 0},
	{Token: "MothersDay", Calc: WeekdayCalc, Month: time.May, Weekday: time.Sunday, Week: 2},
	{Token: "MemorialDay", Calc: WeekdayCalc, Month: time.May, Weekday: time.Monday, Week: -1},
	{Token: "FathersDay", Calc: WeekdayCalc, Month: time.June, Weekday: time.Sunday, Week: 3},
	{Token: "Juneteenth", Calc: FixedCalc, Month: time.June, Day: 19},
	{Token: "July4", Calc: FixedCalc, Month: time.July, Day: 4},
	{Token: "LaborDay", Calc: WeekdayCalc, Month: time.September, Weekday: time.Monday, Week: 1},
	{Token: "ColumbusDay", Calc: WeekdayCalc, Month: time.October, Weekday: time.Monday, Week: 2},
	{Token: "Halloween", Calc: FixedCalc, Month: time.October, Day: 31},
	{Token: "VeteransDay", Calc: FixedCalc, Month: time.November, Day: 11},
	{Token: "Thanksgiving", Calc: WeekdayCalc, Month: time.November, Weekday: time.Thursday, Week: 4},
	{Token: "ChristmasEve", Calc: FixedCalc, Month: time.December, Day: 24},
	{Token: "Christmas", Calc: FixedCalc, Month: time.December, Day: 25},
	{Token: "NewYearsEve", Calc: FixedCalc, Month: time.December, Day: 31},
}

// aliases map alternate spellings onto canonical tokens.
var aliases = map[string]string{
	"independenceday": "July4",
	"valentines":      "ValentinesDay",
	"xmas":            "Christmas",
}

// Resolver turns holiday tokens into dates.
type Resolver struct {
	rules map[string]Rule
	canon map[string]string
}

// NewResolver builds a resolver with the built-in table plus any extra
// rules. Extra rules with a known token replace the built-in one.
func NewResolver(extra ...Rule) (*Resolver, error) {
	r := &Resolver{
		rules: make(map[string]Rule, len(builtin)+len(extra)),
		canon: make(map[string]string, len(builtin)+len(extra)+len(aliases)),
	}
	for _, rule := range builtin {
		r.rules[rule.Token] = rule
		r.canon[strings.ToLower(rule.Token)] = rule.Token
	}
	for alias, token := range aliases {
		r.canon[alias] = token
	}
	for _, rule := range extra {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		r.rules[rule.Token] = rule
		r.canon[strings.ToLower(rule.Token)] = rule.Token
	}
	return r, nil
}

// MustResolver is NewResolver for rule sets known to be valid.
func MustResolver(extra ...Rule) *Resolver {
	r, err := NewResolver(extra...)
	if err != nil {
		panic(err)
	}
	return r
}

// Known reports whether a token resolves, under any spelling.
func (r *Resolver) Known(token string) bool {
	_, ok := r.canon[strings.ToLower(strings.TrimSpace(token))]
	return ok
}

// Canonical returns the canonical spelling of a token.
func (r *Resolver) Canonical(token string) (string, error) {
	canon, ok := r.canon[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownHoliday, token)
	}
	return canon, nil
}

// Resolve returns the holiday's local midnight in loc for a year.
func (r *Resolver) Resolve(token string, year int, loc *time.Location) (time.Time, error) {
	canon, err := r.Canonical(token)
	if err != nil {
		return time.Time{}, err
	}
	rule, ok := r.rules[canon]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownHoliday, token)
	}
	return rule.date(year, loc), nil
}

// Tokens lists the canonical tokens the resolver knows, unsorted.
func (r *Resolver) Tokens() []string {
	out := make([]string, 0, len(r.rules))
	for token := range r.rules {
		out = append(out, token)
	}
	return out
}

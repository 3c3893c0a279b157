package fpp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fppkit/calbridge/internal/holiday"
)

var ErrInvalidEnvironment = errors.New("invalid environment file")

// Environment is the optional player environment file: the show's
// timezone and coordinates plus locale holiday definitions layered
// over the built-in table.
type Environment struct {
	Timezone  string       `json:"timezone,omitempty"`
	Latitude  float64      `json:"latitude,omitempty"`
	Longitude float64      `json:"longitude,omitempty"`
	Holidays  []HolidayDef `json:"holidays,omitempty"`
}

// HolidayDef is one locale holiday entry.
type HolidayDef struct {
	Name      string      `json:"name,omitempty"`
	ShortName string      `json:"shortName"`
	Calc      HolidayCalc `json:"calc"`
}

// HolidayCalc mirrors the locale calc object: fixed month/day, the
// Nth weekday of a month, or an offset from Easter.
type HolidayCalc struct {
	Type   string `json:"type"`
	Month  int    `json:"month,omitempty"`
	Day    int    `json:"day,omitempty"`
	Week   int    `json:"week,omitempty"`
	Dow    int    `json:"dow,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// LoadEnvironment reads the environment file. A missing file yields
// the zero environment: local timezone, no coordinates, built-in
// holidays only.
func LoadEnvironment(path string) (*Environment, error) {
	if path == "" {
		return &Environment{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Environment{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read environment %s: %w", path, err)
	}
	var env Environment
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEnvironment, path, err)
	}
	return &env, nil
}

// Location resolves the configured timezone, defaulting to the host
// zone when unset.
func (e *Environment) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q", ErrInvalidEnvironment, e.Timezone)
	}
	return loc, nil
}

// HolidayRules converts the locale entries into resolver rules.
func (e *Environment) HolidayRules() ([]holiday.Rule, error) {
	rules := make([]holiday.Rule, 0, len(e.Holidays))
	for _, def := range e.Holidays {
		if def.ShortName == "" {
			return nil, fmt.Errorf("%w: holiday without shortName", ErrInvalidEnvironment)
		}
		rule := holiday.Rule{Token: def.ShortName}
		switch def.Calc.Type {
		case "fixed":
			rule.Calc = holiday.FixedCalc
			rule.Month = time.Month(def.Calc.Month)
			rule.Day = def.Calc.Day
		case "cweek":
			rule.Calc = holiday.WeekdayCalc
			rule.Month = time.Month(def.Calc.Month)
			rule.Week = def.Calc.Week
			if def.Calc.Dow < 0 || def.Calc.Dow > 6 {
				return nil, fmt.Errorf("%w: holiday %s dow %d", ErrInvalidEnvironment, def.ShortName, def.Calc.Dow)
			}
			rule.Weekday = time.Weekday(def.Calc.Dow)
		case "easter":
			rule.Calc = holiday.EasterCalc
			rule.Offset = def.Calc.Offset
		default:
			return nil, fmt.Errorf("%w: holiday %s calc %q", ErrInvalidEnvironment, def.ShortName, def.Calc.Type)
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvironment, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

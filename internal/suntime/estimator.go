// Package suntime estimates local clock times for solar references
// (Dawn, SunRise, SunSet, Dusk) at the player's coordinates. Estimates
// feed planning and ordering only; symbolic references are never
// replaced by estimated values in any stored schedule.
package suntime

import (
	"errors"
	"time"

	"github.com/nathan-osman/go-sunrise"

	"github.com/fppkit/calbridge/internal/intent"
)

var ErrNoCoordinates = errors.New("no coordinates configured")

// civilTwilightElevation is the solar elevation (degrees) defining
// Dawn and Dusk.
const civilTwilightElevation = -6.0

// quantum rounds estimates to whole minutes, matching the resolution
// of schedule times.
const quantum = time.Minute

// Estimator resolves solar references for one site.
type Estimator struct {
	latitude  float64
	longitude float64
	valid     bool
}

// New builds an estimator. Coordinates at exactly (0, 0) are treated
// as unconfigured.
func New(latitude, longitude float64) *Estimator {
	return &Estimator{
		latitude:  latitude,
		longitude: longitude,
		valid:     latitude != 0 || longitude != 0,
	}
}

// Enabled reports whether the estimator has usable coordinates.
func (e *Estimator) Enabled() bool { return e.valid }

// Resolve estimates the local wall-clock time of a solar reference on
// a given date, with the reference's minute offset applied. ok is
// false when coordinates are missing or the sun never crosses the
// reference elevation that day (polar day or night).
func (e *Estimator) Resolve(ref intent.SymbolicTime, offsetMinutes int, date time.Time, loc *time.Location) (time.Time, bool) {
	if !e.valid {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	year, month, day := date.Year(), date.Month(), date.Day()

	var at time.Time
	switch ref {
	case intent.Dawn, intent.Dusk:
		morning, evening := sunrise.TimeOfElevation(e.latitude, e.longitude, civilTwilightElevation, year, month, day)
		if ref == intent.Dawn {
			at = morning
		} else {
			at = evening
		}
	case intent.SunRise, intent.SunSet:
		rise, set := sunrise.SunriseSunset(e.latitude, e.longitude, year, month, day)
		if ref == intent.SunRise {
			at = rise
		} else {
			at = set
		}
	default:
		return time.Time{}, false
	}
	if at.IsZero() {
		return time.Time{}, false
	}
	at = at.In(loc).Add(time.Duration(offsetMinutes) * time.Minute)
	return at.Round(quantum), true
}

// SecondsOfDay estimates a solar reference as seconds since local
// midnight, clamped to the day.
func (e *Estimator) SecondsOfDay(ref intent.SymbolicTime, offsetMinutes int, date time.Time, loc *time.Location) (int, bool) {
	at, ok := e.Resolve(ref, offsetMinutes, date, loc)
	if !ok {
		return 0, false
	}
	secs := at.Hour()*3600 + at.Minute()*60 + at.Second()
	if secs < 0 {
		secs = 0
	}
	if secs > 86399 {
		secs = 86399
	}
	return secs, true
}

// ResolveValue estimates any time value: hard times convert directly,
// symbolic ones go through the solar tables.
func (e *Estimator) ResolveValue(tv *intent.TimeValue, date time.Time, loc *time.Location) (int, bool) {
	if tv == nil {
		return 0, false
	}
	if tv.Hard != nil {
		secs, err := intent.SecondsOfDay(*tv.Hard)
		if err != nil {
			return 0, false
		}
		return secs, true
	}
	if tv.Symbolic != nil {
		return e.SecondsOfDay(*tv.Symbolic, tv.OffsetMinutes, date, loc)
	}
	return 0, false
}

// Table lists the four solar references for one date, for diagnostics.
type Table struct {
	Date    time.Time
	Dawn    time.Time
	SunRise time.Time
	SunSet  time.Time
	Dusk    time.Time
}

// TableFor computes the full table, or an error when coordinates are
// missing. Zero entries mean the sun never reached that elevation.
func (e *Estimator) TableFor(date time.Time, loc *time.Location) (Table, error) {
	if !e.valid {
		return Table{}, ErrNoCoordinates
	}
	t := Table{Date: date}
	if at, ok := e.Resolve(intent.Dawn, 0, date, loc); ok {
		t.Dawn = at
	}
	if at, ok := e.Resolve(intent.SunRise, 0, date, loc); ok {
		t.SunRise = at
	}
	if at, ok := e.Resolve(intent.SunSet, 0, date, loc); ok {
		t.SunSet = at
	}
	if at, ok := e.Resolve(intent.Dusk, 0, date, loc); ok {
		t.Dusk = at
	}
	return t, nil
}

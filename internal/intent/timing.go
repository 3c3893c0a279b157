package intent

import (
	"errors"
	"fmt"
)

var (
	ErrAllDayWithTimes  = errors.New("all-day timing must not carry times")
	ErrTimedWithoutTime = errors.New("timed event needs start and end times")
	ErrMissingDateRange = errors.New("timing needs start and end dates")
)

// Timing is the scheduling window of a sub-event: an inclusive local
// date range, an optional weekday constraint inside it, and a daily
// time window. Time intervals are half-open, [start, end); the date
// range is inclusive on both sides. All-day timings carry no times at
// all rather than midnight sentinels.
type Timing struct {
	AllDay    bool               `json:"allDay"`
	StartDate DateValue          `json:"startDate"`
	EndDate   DateValue          `json:"endDate"`
	StartTime *TimeValue         `json:"startTime,omitempty"`
	EndTime   *TimeValue         `json:"endTime,omitempty"`
	Days      *WeekdayConstraint `json:"days,omitempty"`
	Timezone  string             `json:"timezone,omitempty"`
}

// Validate enforces the structural invariants: dates present, all-day
// excludes times, timed requires both times, and every part well
// formed.
func (t Timing) Validate() error {
	if t.StartDate.IsZero() || t.EndDate.IsZero() {
		return ErrMissingDateRange
	}
	if err := t.StartDate.Validate(); err != nil {
		return fmt.Errorf("start date: %w", err)
	}
	if err := t.EndDate.Validate(); err != nil {
		return fmt.Errorf("end date: %w", err)
	}
	if t.AllDay {
		if t.StartTime != nil || t.EndTime != nil {
			return ErrAllDayWithTimes
		}
	} else {
		if t.StartTime == nil || t.EndTime == nil {
			return ErrTimedWithoutTime
		}
		if err := t.StartTime.Validate(); err != nil {
			return fmt.Errorf("start time: %w", err)
		}
		if err := t.EndTime.Validate(); err != nil {
			return fmt.Errorf("end time: %w", err)
		}
	}
	if t.Days != nil {
		if err := t.Days.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Overnight reports whether the daily window crosses local midnight.
// Only decidable for hard times; symbolic windows report false.
func (t Timing) Overnight() bool {
	if t.AllDay || t.StartTime == nil || t.EndTime == nil {
		return false
	}
	if t.StartTime.Hard == nil || t.EndTime.Hard == nil {
		return false
	}
	start, err1 := SecondsOfDay(*t.StartTime.Hard)
	end, err2 := SecondsOfDay(*t.EndTime.Hard)
	if err1 != nil || err2 != nil {
		return false
	}
	return end <= start
}

// DailySpanSeconds returns the length of the daily window for hard
// times, counting overnight windows across midnight. All-day and
// symbolic windows report a full day.
func (t Timing) DailySpanSeconds() int {
	const day = 24 * 3600
	if t.AllDay || t.StartTime == nil || t.EndTime == nil {
		return day
	}
	if t.StartTime.Hard == nil || t.EndTime.Hard == nil {
		return day
	}
	start, err1 := SecondsOfDay(*t.StartTime.Hard)
	end, err2 := SecondsOfDay(*t.EndTime.Hard)
	if err1 != nil || err2 != nil {
		return day
	}
	if end <= start {
		return day - start + end
	}
	return end - start
}

// Equal compares every field of two timings.
func (t Timing) Equal(other Timing) bool {
	return t.AllDay == other.AllDay &&
		t.StartDate.Equal(other.StartDate) &&
		t.EndDate.Equal(other.EndDate) &&
		EqualTimePtr(t.StartTime, other.StartTime) &&
		EqualTimePtr(t.EndTime, other.EndTime) &&
		t.Days.Equal(other.Days) &&
		t.Timezone == other.Timezone
}

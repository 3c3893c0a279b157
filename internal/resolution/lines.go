package resolution

import (
	"fmt"
	"strings"
	"time"

	"github.com/fppkit/calbridge/internal/provider"
)

// recurrenceLine is one parsed property line from a row's recurrence
// list, e.g. "EXDATE;TZID=America/New_York:20251210T180000". The value
// stays unsplit; only date-list properties are comma-separated.
type recurrenceLine struct {
	name   string
	params map[string]string
	value  string
}

func parseRecurrenceLine(line string) (recurrenceLine, error) {
	head, value, ok := strings.Cut(line, ":")
	if !ok || value == "" {
		return recurrenceLine{}, fmt.Errorf("%w: recurrence line %q", ErrUnresolvableRecurrence, line)
	}
	fields := strings.Split(head, ";")
	out := recurrenceLine{
		name:  strings.ToUpper(fields[0]),
		value: value,
	}
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return recurrenceLine{}, fmt.Errorf("%w: recurrence parameter %q", ErrUnresolvableRecurrence, f)
		}
		if out.params == nil {
			out.params = make(map[string]string)
		}
		out.params[strings.ToUpper(k)] = v
	}
	return out, nil
}

// exDates converts an EXDATE line's values to civil dates in the
// player's timezone.
func (l recurrenceLine) exDates(playerLoc *time.Location) ([]string, error) {
	loc := time.UTC
	if tzid := l.params["TZID"]; tzid != "" {
		var err error
		loc, err = time.LoadLocation(tzid)
		if err != nil {
			return nil, fmt.Errorf("%w: TZID %q", ErrUnresolvableRecurrence, tzid)
		}
	}
	values := strings.Split(l.value, ",")
	dates := make([]string, 0, len(values))
	for _, v := range values {
		switch {
		case len(v) == 8:
			t, err := time.Parse("20060102", v)
			if err != nil {
				return nil, fmt.Errorf("%w: EXDATE %q", ErrUnresolvableRecurrence, v)
			}
			dates = append(dates, t.Format("2006-01-02"))
		case strings.HasSuffix(v, "Z"):
			t, err := time.Parse("20060102T150405Z", v)
			if err != nil {
				return nil, fmt.Errorf("%w: EXDATE %q", ErrUnresolvableRecurrence, v)
			}
			dates = append(dates, t.In(playerLoc).Format("2006-01-02"))
		default:
			t, err := time.ParseInLocation("20060102T150405", v, loc)
			if err != nil {
				return nil, fmt.Errorf("%w: EXDATE %q", ErrUnresolvableRecurrence, v)
			}
			dates = append(dates, t.In(playerLoc).Format("2006-01-02"))
		}
	}
	return dates, nil
}

// eventBoundary localizes one event boundary. All-day boundaries are
// civil dates pinned to midnight in the event's timezone.
func eventBoundary(et *provider.EventTime, fallback *time.Location) (t time.Time, allDay bool, err error) {
	if et == nil {
		return time.Time{}, false, fmt.Errorf("%w: missing boundary", ErrBadEventTime)
	}
	loc := fallback
	if et.TimeZone != "" {
		loc, err = time.LoadLocation(et.TimeZone)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: timezone %q", ErrBadEventTime, et.TimeZone)
		}
	}
	if et.Date != "" {
		t, err = time.ParseInLocation("2006-01-02", et.Date, loc)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: date %q", ErrBadEventTime, et.Date)
		}
		return t, true, nil
	}
	if et.DateTime == "" {
		return time.Time{}, false, fmt.Errorf("%w: empty boundary", ErrBadEventTime)
	}
	t, err = time.Parse(time.RFC3339, et.DateTime)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: datetime %q", ErrBadEventTime, et.DateTime)
	}
	return t.In(loc), false, nil
}

// civilDate reduces an instant to its date in loc, as a comparable
// ISO string.
func civilDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// addDays does pure date arithmetic on an ISO date string.
func addDays(date string, days int) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, days).Format("2006-01-02")
}

// daysBetween counts civil days from a to b.
func daysBetween(a, b string) int {
	ta, err1 := time.Parse("2006-01-02", a)
	tb, err2 := time.Parse("2006-01-02", b)
	if err1 != nil || err2 != nil {
		return 0
	}
	return int(tb.Sub(ta).Hours() / 24)
}

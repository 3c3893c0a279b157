package ordering

import (
	"strconv"
	"time"

	"github.com/fppkit/calbridge/internal/intent"
)

// referenceYear anchors symbolic dates that have no concrete partner
// to compare against. Any fixed year works; it only has to be the same
// one on every run.
const referenceYear = 2000

const daySeconds = 24 * 3600

// footprint is the coverage of one bundle: where and when its base
// window can fire. Symbolic dates stay tokens and are resolved per
// comparison; symbolic times resolve through the estimator when
// coordinates are known.
type footprint struct {
	concrete bool
	start    string
	end      string
	startTok string
	endTok   string

	days    *intent.WeekdayConstraint
	allDay  bool
	startTV *intent.TimeValue
	endTV   *intent.TimeValue
}

func (e *Engine) footprintOf(t intent.Timing) footprint {
	f := footprint{
		days:    t.Days,
		allDay:  t.AllDay,
		startTV: t.StartTime,
		endTV:   t.EndTime,
	}
	s, sTok := datePart(t.StartDate)
	en, eTok := datePart(t.EndDate)
	switch {
	case s != "" && en != "":
		f.concrete, f.start, f.end = true, s, en
	case s == "" && en == "":
		f.startTok, f.endTok = sTok, eTok
	case s != "":
		// one symbolic end against a hard one: pin the token to the
		// hard end's year
		f.concrete, f.start = true, s
		f.end = e.tokenDateOr(eTok, yearOf(s), s)
	default:
		f.concrete, f.end = true, en
		f.start = e.tokenDateOr(sTok, yearOf(en), en)
	}
	if f.concrete && f.end < f.start {
		f.end = f.start
	}
	return f
}

func datePart(dv intent.DateValue) (hard, token string) {
	if dv.Hard != nil {
		hard = string(*dv.Hard)
	}
	if hard == "" && dv.Symbolic != nil {
		token = string(*dv.Symbolic)
	}
	return hard, token
}

func yearOf(date string) int {
	if len(date) < 4 {
		return referenceYear
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil || y == 0 {
		return referenceYear
	}
	return y
}

func (e *Engine) tokenDate(token string, year int) (string, bool) {
	if e.holidays == nil || token == "" {
		return "", false
	}
	t, err := e.holidays.Resolve(token, year, e.loc)
	if err != nil {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

func (e *Engine) tokenDateOr(token string, year int, fallback string) string {
	if d, ok := e.tokenDate(token, year); ok {
		return d
	}
	return fallback
}

// annualSpan resolves an annual footprint for one year. A span whose
// end token lands before its start wraps into the next year.
func (e *Engine) annualSpan(f footprint, year int) (string, string, bool) {
	s, ok := e.tokenDate(f.startTok, year)
	if !ok {
		return "", "", false
	}
	en, ok := e.tokenDate(f.endTok, year)
	if !ok {
		return "", "", false
	}
	if en < s {
		if wrapped, ok := e.tokenDate(f.endTok, year+1); ok {
			en = wrapped
		} else {
			en = s
		}
	}
	return s, en, true
}

func spansIntersect(aStart, aEnd, bStart, bEnd string) (string, bool) {
	lo := aStart
	if bStart > lo {
		lo = bStart
	}
	hi := aEnd
	if bEnd < hi {
		hi = bEnd
	}
	if lo > hi {
		return "", false
	}
	return lo, true
}

// datesOverlap reports whether two footprints share at least one
// calendar date, and returns a representative date inside the
// intersection for time estimation.
func (e *Engine) datesOverlap(a, b footprint) (string, bool) {
	switch {
	case a.concrete && b.concrete:
		return spansIntersect(a.start, a.end, b.start, b.end)
	case !a.concrete && !b.concrete:
		if a.startTok == b.startTok && a.endTok == b.endTok {
			if d, ok := e.tokenDate(a.startTok, referenceYear); ok {
				return d, true
			}
			return "", true
		}
		as, ae, okA := e.annualSpan(a, referenceYear)
		bs, be, okB := e.annualSpan(b, referenceYear)
		if !okA || !okB {
			// unknown tokens cannot be proven disjoint
			return "", true
		}
		return spansIntersect(as, ae, bs, be)
	case a.concrete:
		return e.annualOverlapsConcrete(b, a)
	default:
		return e.annualOverlapsConcrete(a, b)
	}
}

func (e *Engine) annualOverlapsConcrete(annual, concrete footprint) (string, bool) {
	// a range covering a whole year contains every annual date
	if daysBetween(concrete.start, concrete.end) >= 365 {
		if d, ok := e.tokenDate(annual.startTok, yearOf(concrete.start)); ok {
			return d, true
		}
		return concrete.start, true
	}
	for year := yearOf(concrete.start); year <= yearOf(concrete.end); year++ {
		s, en, ok := e.annualSpan(annual, year)
		if !ok {
			return concrete.start, true
		}
		if d, ok := spansIntersect(s, en, concrete.start, concrete.end); ok {
			return d, true
		}
	}
	return "", false
}

func weekdaysIntersect(a, b *intent.WeekdayConstraint) bool {
	if a == nil || b == nil {
		return true
	}
	if a.Type != intent.WeeklyConstraint || b.Type != intent.WeeklyConstraint {
		// parity rules hit every weekday over time
		return true
	}
	for _, d := range a.Days {
		if b.Contains(d) {
			return true
		}
	}
	return false
}

func weekdaysContain(w, l *intent.WeekdayConstraint) bool {
	if w == nil {
		return true
	}
	if l == nil {
		return false
	}
	if w.Type == intent.DateParityConstraint || l.Type == intent.DateParityConstraint {
		return w.Equal(l)
	}
	for _, d := range l.Days {
		if !w.Contains(d) {
			return false
		}
	}
	return true
}

type seg struct{ a, b int }

// segments reduces a daily window to half-open second intervals.
// Overnight windows split at midnight; a window that closes where it
// opens covers the whole day. ok is false when a symbolic endpoint
// cannot be estimated.
func (e *Engine) segments(f footprint, repDate string) ([]seg, bool) {
	if f.allDay {
		return []seg{{0, daySeconds}}, true
	}
	s, okS := e.secondsOf(f.startTV, repDate)
	en, okE := e.secondsOf(f.endTV, repDate)
	if !okS || !okE {
		return nil, false
	}
	switch {
	case s == en:
		return []seg{{0, daySeconds}}, true
	case en < s:
		return []seg{{s, daySeconds}, {0, en}}, true
	default:
		return []seg{{s, en}}, true
	}
}

func (e *Engine) secondsOf(tv *intent.TimeValue, repDate string) (int, bool) {
	if tv == nil {
		return 0, false
	}
	if tv.Hard != nil {
		sec, err := intent.SecondsOfDay(*tv.Hard)
		if err != nil {
			return 0, false
		}
		return sec, true
	}
	if tv.Symbolic == nil || e.est == nil || repDate == "" {
		return 0, false
	}
	d, err := time.ParseInLocation("2006-01-02", repDate, e.loc)
	if err != nil {
		return 0, false
	}
	return e.est.SecondsOfDay(*tv.Symbolic, tv.OffsetMinutes, d, e.loc)
}

// symbolicTouch spots the handoff shape: one window closing on the
// same solar reference the next opens on. Half-open windows make that
// a clean boundary, no estimate needed.
func symbolicTouch(end, start *intent.TimeValue) bool {
	return end != nil && start != nil &&
		end.Symbolic != nil && start.Symbolic != nil &&
		*end.Symbolic == *start.Symbolic &&
		end.OffsetMinutes == start.OffsetMinutes
}

func (e *Engine) timesOverlap(a, b footprint, repDate string) bool {
	if symbolicTouch(a.endTV, b.startTV) || symbolicTouch(b.endTV, a.startTV) {
		return false
	}
	sa, okA := e.segments(a, repDate)
	sb, okB := e.segments(b, repDate)
	if !okA || !okB {
		// cannot prove the windows apart
		return true
	}
	for _, x := range sa {
		for _, y := range sb {
			if x.a < y.b && y.a < x.b {
				return true
			}
		}
	}
	return false
}

func (e *Engine) segmentsContain(w, l footprint, repDate string) bool {
	if w.allDay {
		return true
	}
	if sameTimeValue(w.startTV, l.startTV) && sameTimeValue(w.endTV, l.endTV) {
		return true
	}
	sw, okW := e.segments(w, repDate)
	sl, okL := e.segments(l, repDate)
	if !okW || !okL {
		return false
	}
	for _, y := range sl {
		inside := false
		for _, x := range sw {
			if x.a <= y.a && y.b <= x.b {
				inside = true
				break
			}
		}
		if !inside {
			return false
		}
	}
	return true
}

func sameTimeValue(a, b *intent.TimeValue) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (e *Engine) datesContain(w, l footprint) bool {
	switch {
	case w.concrete && l.concrete:
		return w.start <= l.start && l.end <= w.end
	case !w.concrete && !l.concrete:
		return w.startTok == l.startTok && w.endTok == l.endTok
	case !w.concrete:
		// an annual window contains a concrete one only when the whole
		// concrete span fits one resolved instance
		for year := yearOf(l.start) - 1; year <= yearOf(l.end); year++ {
			s, en, ok := e.annualSpan(w, year)
			if ok && s <= l.start && l.end <= en {
				return true
			}
		}
		return false
	default:
		// a finite span never contains an annually recurring one
		return false
	}
}

// overlaps reports whether two footprints compete for player time, and
// hands back a representative shared date.
func (e *Engine) overlaps(a, b footprint) (string, bool) {
	repDate, ok := e.datesOverlap(a, b)
	if !ok {
		return "", false
	}
	if !weekdaysIntersect(a.days, b.days) {
		return "", false
	}
	if !e.timesOverlap(a, b, repDate) {
		return "", false
	}
	return repDate, true
}

// contains reports whether the winner's coverage swallows the loser's
// entirely. Uncertainty counts as no: the guard only blocks decisions
// it can prove harmful.
func (e *Engine) contains(w, l footprint, repDate string) bool {
	return e.datesContain(w, l) &&
		weekdaysContain(w.days, l.days) &&
		e.segmentsContain(w, l, repDate)
}

func daysBetween(a, b string) int {
	ta, err1 := time.Parse("2006-01-02", a)
	tb, err2 := time.Parse("2006-01-02", b)
	if err1 != nil || err2 != nil {
		return 0
	}
	return int(tb.Sub(ta).Hours() / 24)
}

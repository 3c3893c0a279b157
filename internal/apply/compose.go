package apply

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fppkit/calbridge/internal/holiday"
	"github.com/fppkit/calbridge/internal/intent"
	"github.com/fppkit/calbridge/internal/provider"
)

// ErrSymbolicExport marks an event whose shape has no faithful calendar
// form. Exports never coerce; they fail.
var ErrSymbolicExport = errors.New("symbolic construct has no calendar form")

// SchemaMarkerValue is stamped into the private properties of every
// event the bridge writes.
const SchemaMarkerValue = "1"

// Composer renders manifest events back into provider rows: one master
// carrying the recurrence and the settings block, plus one child row
// per overridden occurrence. Re-ingesting a composition yields the
// same manifest event.
type Composer struct {
	loc      *time.Location
	holidays *holiday.Resolver
}

func NewComposer(loc *time.Location, holidays *holiday.Resolver) *Composer {
	if loc == nil {
		loc = time.Local
	}
	return &Composer{loc: loc, holidays: holidays}
}

// Composition is one event rendered for the wire. Instance rows are
// unbound until the master's provider id is known.
type Composition struct {
	Master    provider.RawEvent
	instances []provider.RawEvent
	suffixes  []string
}

// Instances binds the override rows to the master id. Provider
// instance ids are deterministic, so no listing round-trip is needed.
func (cp *Composition) Instances(masterID string) []provider.RawEvent {
	out := make([]provider.RawEvent, len(cp.instances))
	for i, inst := range cp.instances {
		inst.ID = masterID + "_" + cp.suffixes[i]
		inst.RecurringEventID = masterID
		out[i] = inst
	}
	return out
}

// InstanceCount reports how many override rows the composition carries.
func (cp *Composition) InstanceCount() int { return len(cp.instances) }

// bundleView is one resolution segment of an event: its base window
// and the overrides attached to it.
type bundleView struct {
	id        string
	base      *intent.SubEvent
	overrides []intent.SubEvent
}

func bundlesOf(ev *intent.ManifestEvent) ([]bundleView, error) {
	byID := make(map[string]*bundleView)
	var order []string
	for i := range ev.SubEvents {
		s := &ev.SubEvents[i]
		bv, ok := byID[s.BundleID]
		if !ok {
			bv = &bundleView{id: s.BundleID}
			byID[s.BundleID] = bv
			order = append(order, s.BundleID)
		}
		if s.Role == intent.BaseRole {
			if bv.base != nil {
				return nil, &intent.InvariantError{Identity: ev.IdentityHash, Field: "bundle " + s.BundleID, Reason: "two base sub-events"}
			}
			bv.base = s
		} else {
			bv.overrides = append(bv.overrides, *s)
		}
	}
	// hard-date bundle ids sort chronologically
	sort.Strings(order)
	out := make([]bundleView, 0, len(order))
	for _, id := range order {
		bv := byID[id]
		if bv.base == nil {
			return nil, &intent.InvariantError{Identity: ev.IdentityHash, Field: "bundle " + id, Reason: "no base sub-event"}
		}
		out = append(out, *bv)
	}
	return out, nil
}

// Compose renders the event. The year places symbolic dates, which
// need a concrete carrier row on the calendar; everything else is
// year-independent.
func (c *Composer) Compose(ev *intent.ManifestEvent, year int) (*Composition, error) {
	bundles, err := bundlesOf(ev)
	if err != nil {
		return nil, err
	}
	if len(bundles) == 0 {
		return nil, intent.ErrNoSubEvents
	}
	base := bundles[0].base
	if base.Timing.StartDate.IsSymbolic() {
		return c.composeSymbolic(ev, bundles, year)
	}
	return c.composeConcrete(ev, bundles)
}

func (c *Composer) composeConcrete(ev *intent.ManifestEvent, bundles []bundleView) (*Composition, error) {
	base := bundles[0].base
	last := bundles[len(bundles)-1].base

	loc, err := c.location(base.Timing.Timezone)
	if err != nil {
		return nil, err
	}
	start, err := concreteDate(base.Timing.StartDate, loc)
	if err != nil {
		return nil, fmt.Errorf("event %s: start: %w", ev.IdentityHash, err)
	}
	end, err := concreteDate(last.Timing.EndDate, loc)
	if err != nil {
		return nil, fmt.Errorf("event %s: end: %w", ev.IdentityHash, err)
	}
	if base.Timing.Days != nil && base.Timing.Days.Type == intent.DateParityConstraint {
		return nil, fmt.Errorf("event %s: %w: day parity has no recurrence rule", ev.IdentityHash, ErrSymbolicExport)
	}

	carrier := carrierShape(base.Timing)
	master := c.newRow(ev)
	master.Description = renderSettings(*base, carrier, nil, false)
	setWindow(&master, base.Timing, carrier, start, loc)

	if end.After(start) {
		master.Recurrence = []string{recurrenceRule(base.Timing, carrier, end, loc)}
		master.Recurrence = append(master.Recurrence, exceptionDates(bundles, base.Timing, carrier, start, end, loc)...)
	}

	cp := &Composition{Master: master}
	if err := c.addInstances(cp, ev, bundles, loc); err != nil {
		return nil, err
	}
	return cp, nil
}

// composeSymbolic renders a holiday-pinned event: the settings date
// token carries the meaning, a concrete row in the given year carries
// it on the wire.
func (c *Composer) composeSymbolic(ev *intent.ManifestEvent, bundles []bundleView, year int) (*Composition, error) {
	if len(bundles) != 1 || len(bundles[0].overrides) > 0 {
		return nil, fmt.Errorf("event %s: %w: date token with per-occurrence exceptions", ev.IdentityHash, ErrSymbolicExport)
	}
	base := bundles[0].base
	startTok := base.Timing.StartDate.Symbolic
	endTok := base.Timing.EndDate.Symbolic
	if endTok == nil || *endTok != *startTok {
		return nil, fmt.Errorf("event %s: %w: mixed symbolic and hard dates", ev.IdentityHash, ErrSymbolicExport)
	}
	if c.holidays == nil {
		return nil, fmt.Errorf("event %s: %w: no holiday table loaded", ev.IdentityHash, holiday.ErrUnknownHoliday)
	}
	loc, err := c.location(base.Timing.Timezone)
	if err != nil {
		return nil, err
	}
	day, err := c.holidays.Resolve(string(*startTok), year, loc)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.IdentityHash, err)
	}

	carrier := carrierShape(base.Timing)
	master := c.newRow(ev)
	master.Description = renderSettings(*base, carrier, startTok, false)
	setWindow(&master, base.Timing, carrier, day, loc)
	return &Composition{Master: master}, nil
}

// newRow builds the common row shell: summary, status and the
// ownership markers. The caller fills the settings block and window.
func (c *Composer) newRow(ev *intent.ManifestEvent) provider.RawEvent {
	return provider.RawEvent{
		Summary: ev.Identity.Target,
		Status:  "confirmed",
		Private: map[string]string{
			provider.ManagedMarkerKey:  provider.ManagedMarkerValue,
			provider.IdentityMarkerKey: ev.IdentityHash,
			provider.SchemaMarkerKey:   SchemaMarkerValue,
		},
	}
}

// carrierShape reports whether the row must be written as an all-day
// carrier: either the window is genuinely all-day or its times are
// symbolic and live in the settings block instead of DTSTART.
func carrierShape(t intent.Timing) bool {
	if t.AllDay {
		return true
	}
	return (t.StartTime != nil && t.StartTime.IsSymbolic()) ||
		(t.EndTime != nil && t.EndTime.IsSymbolic())
}

// renderSettings writes the settings block for one sub-event. Masters
// only carry non-default behavior; override rows are explicit so they
// never inherit the master's block by accident.
func renderSettings(sub intent.SubEvent, carrier bool, dateTok *intent.HolidayToken, explicit bool) string {
	typ := sub.Type
	s := &intent.Settings{Type: &typ}
	if explicit || !sub.Behavior.Enabled {
		en := sub.Behavior.Enabled
		s.Enabled = &en
	}
	if explicit || sub.Behavior.Repeat != intent.RepeatNone {
		r := sub.Behavior.Repeat
		s.Repeat = &r
	}
	if explicit || sub.Behavior.StopType != intent.StopGraceful {
		st := sub.Behavior.StopType
		s.StopType = &st
	}
	if carrier && !sub.Timing.AllDay {
		s.Start = sub.Timing.StartTime
		s.End = sub.Timing.EndTime
	}
	s.Date = dateTok
	if len(sub.Payload) > 0 {
		s.Extra = make(map[string]string, len(sub.Payload))
		for k, v := range sub.Payload {
			s.Extra[k] = v
		}
	}
	return s.Render()
}

// setWindow fills the start and end of a row for its first occurrence
// day. All-day carriers use civil dates with the exclusive end;
// timed rows use RFC3339 with the window's own zone.
func setWindow(row *provider.RawEvent, t intent.Timing, carrier bool, day time.Time, loc *time.Location) {
	if carrier {
		row.Start = &provider.EventTime{Date: day.Format("2006-01-02")}
		row.End = &provider.EventTime{Date: day.AddDate(0, 0, 1).Format("2006-01-02")}
		return
	}
	startAt := atTime(day, *t.StartTime.Hard, loc)
	endDay := day
	if t.Overnight() {
		endDay = day.AddDate(0, 0, 1)
	}
	endAt := atTime(endDay, *t.EndTime.Hard, loc)
	row.Start = &provider.EventTime{DateTime: startAt.Format(time.RFC3339), TimeZone: loc.String()}
	row.End = &provider.EventTime{DateTime: endAt.Format(time.RFC3339), TimeZone: loc.String()}
}

// recurrenceRule renders the RRULE covering the whole date range.
// Timed rules get an exclusive UNTIL at local midnight after the last
// day; all-day rules get the inclusive DATE form.
func recurrenceRule(t intent.Timing, carrier bool, end time.Time, loc *time.Location) string {
	freq := "DAILY"
	byday := ""
	if t.Days != nil && t.Days.Type == intent.WeeklyConstraint && t.Days.Coverage() < 7 {
		freq = "WEEKLY"
		codes := make([]string, len(t.Days.Days))
		for i, d := range t.Days.Days {
			codes[i] = string(d)
		}
		byday = ";BYDAY=" + strings.Join(codes, ",")
	}
	if carrier {
		return fmt.Sprintf("RRULE:FREQ=%s%s;UNTIL=%s", freq, byday, end.Format("20060102"))
	}
	until := end.AddDate(0, 0, 1).UTC().Format("20060102T150405Z")
	return fmt.Sprintf("RRULE:FREQ=%s%s;UNTIL=%s", freq, byday, until)
}

// exceptionDates emits one EXDATE line per occurrence falling in a gap
// between segments. Overridden occurrences are not excluded; they stay
// in the recurrence and get their own child row.
func exceptionDates(bundles []bundleView, t intent.Timing, carrier bool, start, end time.Time, loc *time.Location) []string {
	type span struct{ from, to time.Time }
	spans := make([]span, 0, len(bundles))
	for _, b := range bundles {
		from, err1 := concreteDate(b.base.Timing.StartDate, loc)
		to, err2 := concreteDate(b.base.Timing.EndDate, loc)
		if err1 != nil || err2 != nil {
			continue
		}
		spans = append(spans, span{from, to})
	}
	covered := func(d time.Time) bool {
		for _, s := range spans {
			if !d.Before(s.from) && !d.After(s.to) {
				return true
			}
		}
		return false
	}

	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !t.Days.Matches(d) || covered(d) {
			continue
		}
		if carrier {
			out = append(out, "EXDATE;VALUE=DATE:"+d.Format("20060102"))
			continue
		}
		stamp := d.Format("20060102") + "T" + compactTime(*t.StartTime.Hard)
		out = append(out, fmt.Sprintf("EXDATE;TZID=%s:%s", loc.String(), stamp))
	}
	return out
}

// addInstances explodes each override range back into per-occurrence
// child rows keyed by the master's occurrence start.
func (c *Composer) addInstances(cp *Composition, ev *intent.ManifestEvent, bundles []bundleView, loc *time.Location) error {
	base := bundles[0].base
	masterCarrier := carrierShape(base.Timing)

	for _, b := range bundles {
		for _, o := range b.overrides {
			from, err := concreteDate(o.Timing.StartDate, loc)
			if err != nil {
				return fmt.Errorf("event %s: override: %w", ev.IdentityHash, err)
			}
			to, err := concreteDate(o.Timing.EndDate, loc)
			if err != nil {
				return fmt.Errorf("event %s: override: %w", ev.IdentityHash, err)
			}
			for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
				if !base.Timing.Days.Matches(d) {
					continue
				}
				oCarrier := carrierShape(o.Timing)
				inst := c.newRow(ev)
				inst.Description = renderSettings(o, oCarrier, nil, true)
				setWindow(&inst, o.Timing, oCarrier, d, loc)

				var suffix string
				if masterCarrier {
					inst.OriginalStart = &provider.EventTime{Date: d.Format("2006-01-02")}
					suffix = d.Format("20060102")
				} else {
					occ := atTime(d, *base.Timing.StartTime.Hard, loc)
					inst.OriginalStart = &provider.EventTime{DateTime: occ.Format(time.RFC3339), TimeZone: loc.String()}
					suffix = occ.UTC().Format("20060102T150405Z")
				}
				cp.instances = append(cp.instances, inst)
				cp.suffixes = append(cp.suffixes, suffix)
			}
		}
	}
	sort.Sort(&instanceSorter{cp.instances, cp.suffixes})
	return nil
}

type instanceSorter struct {
	instances []provider.RawEvent
	suffixes  []string
}

func (s *instanceSorter) Len() int { return len(s.instances) }
func (s *instanceSorter) Less(i, j int) bool {
	return s.suffixes[i] < s.suffixes[j]
}
func (s *instanceSorter) Swap(i, j int) {
	s.instances[i], s.instances[j] = s.instances[j], s.instances[i]
	s.suffixes[i], s.suffixes[j] = s.suffixes[j], s.suffixes[i]
}

func (c *Composer) location(name string) (*time.Location, error) {
	if name == "" {
		return c.loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}

// concreteDate turns a hard date value into a local midnight. Symbolic
// or wildcarded dates have no single wire form.
func concreteDate(dv intent.DateValue, loc *time.Location) (time.Time, error) {
	if dv.Hard == nil {
		return time.Time{}, fmt.Errorf("%w: date %s", ErrSymbolicExport, dv.String())
	}
	t, ok := dv.Hard.Time(loc)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: wildcard date %s", ErrSymbolicExport, dv.String())
	}
	return t, nil
}

// atTime pins a canonical HH:MM:SS onto a day as wall-clock time, so
// DST transitions shift the instant, not the clock reading.
func atTime(day time.Time, hhmmss string, loc *time.Location) time.Time {
	var h, m, s int
	fmt.Sscanf(hhmmss, "%02d:%02d:%02d", &h, &m, &s)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, loc)
}

// compactTime renders a canonical HH:MM:SS in the compact form EXDATE
// stamps use.
func compactTime(hhmmss string) string {
	return strings.ReplaceAll(hhmmss, ":", "")
}

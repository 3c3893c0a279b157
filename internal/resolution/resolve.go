package resolution

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/fppkit/calbridge/internal/ingest"
	"github.com/fppkit/calbridge/internal/intent"
	"github.com/fppkit/calbridge/internal/provider"
)

// horizonSlackDays pads the enumeration horizon of open-ended rules so
// segmentation sees the occurrences around the last exception.
const horizonSlackDays = 14

// Resolver expands calendar series into bundles. Wall times and civil
// dates are taken in the player's timezone; rules are evaluated in the
// event's own timezone first.
type Resolver struct {
	loc *time.Location
}

func New(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{loc: loc}
}

// shape is the geometry of one row: its anchor instant, wall times in
// the player's timezone and an inclusive civil date range.
type shape struct {
	start     time.Time
	allDay    bool
	startDate string
	endDate   string
	startTime string
	endTime   string
}

func (r *Resolver) rowShape(row provider.RawEvent) (shape, error) {
	start, startAllDay, err := eventBoundary(row.Start, r.loc)
	if err != nil {
		return shape{}, err
	}
	end, endAllDay, err := eventBoundary(row.End, r.loc)
	if err != nil {
		return shape{}, err
	}
	if startAllDay != endAllDay {
		return shape{}, fmt.Errorf("%w: mixed date and dateTime boundaries", ErrBadEventTime)
	}
	s := shape{start: start, allDay: startAllDay}
	if s.allDay {
		s.startDate = civilDate(start, start.Location())
		// provider end dates are exclusive
		s.endDate = addDays(civilDate(end, end.Location()), -1)
		if daysBetween(s.startDate, s.endDate) < 0 {
			return shape{}, fmt.Errorf("%w: all-day range ends before it starts", ErrBadEventTime)
		}
		return s, nil
	}
	span := end.Sub(start)
	if span <= 0 || span > 24*time.Hour {
		return shape{}, fmt.Errorf("%w: timed event spans %s", ErrBadEventTime, span)
	}
	s.startDate = civilDate(start, r.loc)
	s.endDate = s.startDate
	s.startTime = start.In(r.loc).Format("15:04:05")
	s.endTime = end.In(r.loc).Format("15:04:05")
	return s, nil
}

func windowFor(row provider.RawEvent, s shape, role intent.Role, startDate, endDate string) Window {
	return Window{
		StartDate:   intent.DatePattern(startDate),
		EndDate:     intent.DatePattern(endDate),
		StartTime:   s.startTime,
		EndTime:     s.endTime,
		AllDay:      s.allDay,
		Role:        role,
		SourceID:    row.ID,
		Summary:     row.Summary,
		Description: row.Description,
	}
}

func newBundle(base Window) Bundle {
	return Bundle{
		ID:   intent.BundleIDFor(intent.HardDate(base.StartDate), intent.HardDate(base.EndDate)),
		Base: base,
	}
}

// instance is one override row reduced to the dates it touches: the
// occurrence it replaces and, when not cancelled, its own geometry.
type instance struct {
	row      provider.RawEvent
	origDate string
	eff      shape
	active   bool
	moved    bool
}

func (r *Resolver) overrideInstances(rows []provider.RawEvent) ([]instance, []string) {
	var out []instance
	var problems []string
	for _, row := range rows {
		var orig string
		if row.OriginalStart != nil {
			t, _, err := eventBoundary(row.OriginalStart, r.loc)
			if err != nil {
				problems = append(problems, fmt.Sprintf("override %s: original start: %v", row.ID, err))
				continue
			}
			if row.OriginalStart.Date != "" {
				orig = row.OriginalStart.Date
			} else {
				orig = civilDate(t, r.loc)
			}
		}
		if row.IsCancelled() {
			if orig == "" {
				problems = append(problems, fmt.Sprintf("cancelled override %s has no original start", row.ID))
				continue
			}
			out = append(out, instance{row: row, origDate: orig})
			continue
		}
		eff, err := r.rowShape(row)
		if err != nil {
			problems = append(problems, fmt.Sprintf("override %s: %v", row.ID, err))
			continue
		}
		if orig == "" {
			orig = eff.startDate
		}
		out = append(out, instance{row: row, origDate: orig, eff: eff, active: true, moved: orig != eff.startDate})
	}
	return out, problems
}

type ruleMeta struct {
	freq        rrule.Frequency
	byday       []rrule.Weekday
	count       int
	until       time.Time
	untilIsDate bool
}

func (r *Resolver) buildRule(text string, base shape, uid string) (*rrule.RRule, ruleMeta, error) {
	var meta ruleMeta
	// a date-form UNTIL is inclusive through its whole local day; give
	// the parser an instant and apply the real bound below
	for _, part := range strings.Split(text, ";") {
		k, v, _ := strings.Cut(part, "=")
		if strings.EqualFold(k, "UNTIL") && len(v) == 8 {
			meta.untilIsDate = true
			text = strings.Replace(text, part, part+"T000000Z", 1)
		}
	}
	opt, err := rrule.StrToROption(text)
	if err != nil {
		return nil, meta, fmt.Errorf("%w: %s: %v", ErrUnresolvableRecurrence, uid, err)
	}
	if opt.Freq != rrule.DAILY && opt.Freq != rrule.WEEKLY {
		return nil, meta, fmt.Errorf("%w: %s: only daily and weekly rules have a schedule equivalent", ErrUnresolvableRecurrence, uid)
	}
	if opt.Interval > 1 {
		return nil, meta, fmt.Errorf("%w: %s: interval %d has no schedule equivalent", ErrUnresolvableRecurrence, uid, opt.Interval)
	}
	extras := len(opt.Bysetpos) + len(opt.Bymonth) + len(opt.Bymonthday) + len(opt.Byyearday) +
		len(opt.Byweekno) + len(opt.Byhour) + len(opt.Byminute) + len(opt.Bysecond) + len(opt.Byeaster)
	if extras > 0 {
		return nil, meta, fmt.Errorf("%w: %s: BY-parts other than BYDAY are not supported", ErrUnresolvableRecurrence, uid)
	}
	for _, wd := range opt.Byweekday {
		if wd.N() != 0 {
			return nil, meta, fmt.Errorf("%w: %s: ordinal BYDAY %d%s", ErrUnresolvableRecurrence, uid, wd.N(), wd.String())
		}
	}
	meta.freq = opt.Freq
	meta.byday = opt.Byweekday
	meta.count = opt.Count
	opt.Dtstart = base.start
	if meta.untilIsDate && !opt.Until.IsZero() {
		u := opt.Until.In(time.UTC)
		opt.Until = time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, r.loc)
	}
	meta.until = opt.Until
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, meta, fmt.Errorf("%w: %s: %v", ErrUnresolvableRecurrence, uid, err)
	}
	return rule, meta, nil
}

func (r *Resolver) daysConstraint(meta ruleMeta, base shape) (*intent.WeekdayConstraint, error) {
	// the rule fires on weekdays of the event's timezone; shift when
	// the player's civil date sits on the other side of midnight
	delta := 0
	if !base.allDay {
		delta = daysBetween(civilDate(base.start, base.start.Location()), civilDate(base.start, r.loc))
	}
	var days []time.Weekday
	switch {
	case len(meta.byday) > 0:
		for _, wd := range meta.byday {
			w, err := intent.ParseWeekday(wd.String())
			if err != nil {
				return nil, fmt.Errorf("%w: BYDAY %q", ErrUnresolvableRecurrence, wd.String())
			}
			days = append(days, w.Time())
		}
	case meta.freq == rrule.WEEKLY:
		days = []time.Weekday{base.start.Weekday()}
	default:
		return nil, nil
	}
	codes := make([]string, 0, len(days))
	for _, d := range days {
		shifted := time.Weekday(((int(d)+delta)%7 + 7) % 7)
		codes = append(codes, string(intent.WeekdayFromTime(shifted)))
	}
	c, err := intent.Weekly(codes...)
	if err != nil {
		return nil, err
	}
	if len(c.Days) == 7 {
		return nil, nil
	}
	return c, nil
}

// Resolve expands one series into bundles: contiguous runs of base
// occurrences split at excluded ones, each carrying the overrides that
// land inside it.
func (r *Resolver) Resolve(series ingest.Series) (*Resolved, error) {
	master := series.Master
	res := &Resolved{UID: master.ID, Timezone: r.loc.String(), UpdatedAt: master.UpdatedTime()}
	for _, o := range series.Overrides {
		if t := o.UpdatedTime(); t.After(res.UpdatedAt) {
			res.UpdatedAt = t
		}
	}

	base, err := r.rowShape(master)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", master.ID, err)
	}

	var ruleText string
	exSet := make(map[string]struct{})
	for _, line := range master.Recurrence {
		parsed, err := parseRecurrenceLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", master.ID, err)
		}
		switch parsed.name {
		case "RRULE":
			if ruleText != "" {
				return nil, fmt.Errorf("%w: %s: more than one RRULE", ErrUnresolvableRecurrence, master.ID)
			}
			ruleText = parsed.value
		case "EXDATE":
			dates, err := parsed.exDates(r.loc)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", master.ID, err)
			}
			for _, d := range dates {
				exSet[d] = struct{}{}
			}
		default:
			return nil, fmt.Errorf("%w: %s: %s is not supported", ErrUnresolvableRecurrence, master.ID, parsed.name)
		}
	}

	insts, problems := r.overrideInstances(series.Overrides)
	if len(problems) > 0 {
		return nil, &PartialError{UID: master.ID, Problems: problems}
	}

	if ruleText == "" {
		if len(series.Overrides) > 0 {
			return nil, fmt.Errorf("%w: %s: override rows attached to a non-recurring master", ErrUnresolvableRecurrence, master.ID)
		}
		if len(exSet) > 0 {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Code:   DiagExDateWithoutRRule,
				Detail: fmt.Sprintf("%d exception dates on a non-recurring event", len(exSet)),
			})
		}
		res.Bundles = []Bundle{newBundle(windowFor(master, base, intent.BaseRole, base.startDate, base.endDate))}
		return res, nil
	}

	if base.allDay && base.startDate != base.endDate {
		return nil, fmt.Errorf("%w: %s: multi-day all-day recurrence", ErrUnresolvableRecurrence, master.ID)
	}

	rule, meta, err := r.buildRule(ruleText, base, master.ID)
	if err != nil {
		return nil, err
	}
	res.Days, err = r.daysConstraint(meta, base)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", master.ID, err)
	}

	bounded := meta.count > 0 || !meta.until.IsZero()
	var occs []time.Time
	if bounded {
		occs = rule.All()
		// a timed UNTIL bounds exclusively; the library includes it
		if !base.allDay && !meta.untilIsDate && !meta.until.IsZero() {
			if n := len(occs); n > 0 && occs[n-1].Equal(meta.until) {
				occs = occs[:n-1]
			}
		}
	} else {
		horizon := base.startDate
		for d := range exSet {
			if d > horizon {
				horizon = d
			}
		}
		for _, in := range insts {
			if in.origDate > horizon {
				horizon = in.origDate
			}
			if in.active && in.eff.endDate > horizon {
				horizon = in.eff.endDate
			}
		}
		stop, _ := time.ParseInLocation("2006-01-02", addDays(horizon, horizonSlackDays), base.start.Location())
		occs = rule.Between(base.start, stop.Add(24*time.Hour), true)
	}
	if len(occs) == 0 {
		return nil, fmt.Errorf("%w: %s: rule yields no occurrences", ErrUnresolvableRecurrence, master.ID)
	}

	occLoc := r.loc
	if base.allDay {
		occLoc = base.start.Location()
	}
	occDates := make([]string, 0, len(occs))
	for _, o := range occs {
		d := civilDate(o, occLoc)
		if n := len(occDates); n == 0 || occDates[n-1] != d {
			occDates = append(occDates, d)
		}
	}

	occSet := make(map[string]struct{}, len(occDates))
	for _, d := range occDates {
		occSet[d] = struct{}{}
	}
	ignored := make([]string, 0)
	for d := range exSet {
		if _, ok := occSet[d]; !ok {
			ignored = append(ignored, d)
		}
	}
	sort.Strings(ignored)
	for _, d := range ignored {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{Code: DiagIgnoredExDate, Detail: d})
	}

	carved := make(map[string]struct{}, len(exSet)+len(insts))
	for d := range exSet {
		carved[d] = struct{}{}
	}
	for _, in := range insts {
		if !in.active {
			carved[in.origDate] = struct{}{}
			continue
		}
		if in.moved {
			carved[in.origDate] = struct{}{}
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Code:   DiagMovedOverride,
				Detail: fmt.Sprintf("%s: %s -> %s", in.row.ID, in.origDate, in.eff.startDate),
			})
		}
	}

	type segment struct{ start, end string }
	var segs []segment
	open := false
	for _, d := range occDates {
		if _, ex := carved[d]; ex {
			open = false
			continue
		}
		if !open {
			segs = append(segs, segment{start: d, end: d})
			open = true
		} else {
			segs[len(segs)-1].end = d
		}
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: %s: every occurrence is excluded", ErrUnresolvableRecurrence, master.ID)
	}
	if !bounded {
		segs[len(segs)-1].end = string(OpenEndDate)
	}

	for _, seg := range segs {
		res.Bundles = append(res.Bundles, newBundle(windowFor(master, base, intent.BaseRole, seg.start, seg.end)))
	}

	for _, in := range insts {
		if !in.active {
			continue
		}
		b := bundleContaining(res.Bundles, in.eff.startDate)
		if b == nil {
			// landed outside base coverage; it still has to run
			res.Bundles = append(res.Bundles, newBundle(windowFor(in.row, in.eff, intent.BaseRole, in.eff.startDate, in.eff.endDate)))
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Code:   DiagDetachedOverride,
				Detail: fmt.Sprintf("%s lands on %s outside base coverage", in.row.ID, in.eff.startDate),
			})
			continue
		}
		w := windowFor(in.row, in.eff, intent.OverrideRole, in.eff.startDate, in.eff.endDate)
		if n := len(b.Extras); n > 0 {
			prev := &b.Extras[n-1]
			if sameContent(*prev, w) && addDays(string(prev.EndDate), 1) == in.eff.startDate {
				prev.EndDate = intent.DatePattern(in.eff.endDate)
				res.Diagnostics = append(res.Diagnostics, Diagnostic{
					Code:   DiagMergedOverrides,
					Detail: fmt.Sprintf("%s extended through %s", prev.SourceID, in.eff.endDate),
				})
				continue
			}
		}
		b.Extras = append(b.Extras, w)
	}

	for i := range res.Bundles {
		ex := res.Bundles[i].Extras
		sort.SliceStable(ex, func(a, b int) bool {
			if ex[a].StartDate != ex[b].StartDate {
				return ex[a].StartDate < ex[b].StartDate
			}
			return ex[a].SourceID < ex[b].SourceID
		})
	}
	sort.Slice(res.Bundles, func(i, j int) bool {
		if res.Bundles[i].Base.StartDate != res.Bundles[j].Base.StartDate {
			return res.Bundles[i].Base.StartDate < res.Bundles[j].Base.StartDate
		}
		return res.Bundles[i].Base.EndDate < res.Bundles[j].Base.EndDate
	})
	return res, nil
}

func bundleContaining(bundles []Bundle, date string) *Bundle {
	for i := range bundles {
		b := &bundles[i]
		if string(b.Base.StartDate) <= date && date <= string(b.Base.EndDate) {
			return b
		}
	}
	return nil
}

func sameContent(a, b Window) bool {
	return a.AllDay == b.AllDay && a.StartTime == b.StartTime && a.EndTime == b.EndTime &&
		a.Summary == b.Summary && a.Description == b.Description
}

package fpp

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fppkit/calbridge/internal/holiday"
	"github.com/fppkit/calbridge/internal/intent"
)

var ErrUngroupableRow = errors.New("managed row cannot be grouped")

// midnight is the canonical all-day start in the scheduler file.
const midnight = "00:00:00"

// ReadManifest turns scheduler rows into a manifest. Managed rows are
// grouped back into their events by provenance uid; every unmanaged
// row becomes a single-sub-event event owned by the player. Identity
// comes from row geometry alone, so an in-sync schedule hashes to the
// same values the calendar side produced. Execution order counts
// managed rows only; unmanaged rows keep their own numbering and are
// protected from reconciliation anyway.
func ReadManifest(entries []ScheduleEntry, tz string, resolver *holiday.Resolver) (*intent.Manifest, error) {
	manifest := intent.NewManifest("fpp")

	type group struct {
		uid      string
		calendar string
		subs     []intent.SubEvent
	}
	var order []string
	groups := make(map[string]*group)
	managedIdx, unmanagedIdx := 0, 0

	for i := range entries {
		row := &entries[i]
		if row.Managed() {
			sub, err := subEventFromRow(row, tz, resolver, managedIdx)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			managedIdx++
			g, ok := groups[row.Provenance.UID]
			if !ok {
				g = &group{uid: row.Provenance.UID, calendar: row.Provenance.Calendar}
				groups[row.Provenance.UID] = g
				order = append(order, row.Provenance.UID)
			}
			if g.calendar == "" {
				g.calendar = row.Provenance.Calendar
			}
			g.subs = append(g.subs, sub)
			continue
		}

		sub, err := subEventFromRow(row, tz, resolver, unmanagedIdx)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		unmanagedIdx++
		ev := &intent.ManifestEvent{
			SubEvents:   []intent.SubEvent{sub},
			Ownership:   intent.Ownership{Managed: false, Controller: "manual"},
			Correlation: intent.Correlation{Source: "fpp"},
			Provenance:  intent.Provenance{Origin: "fpp", Provider: "fpp"},
		}
		if err := manifest.Add(ev); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}

	for _, uid := range order {
		g := groups[uid]
		ev := &intent.ManifestEvent{
			SubEvents: g.subs,
			Ownership: intent.Ownership{Managed: true, Controller: "calendar"},
			Correlation: intent.Correlation{
				Source:     "calendar",
				ExternalID: g.uid,
				CalendarID: g.calendar,
			},
			Provenance: intent.Provenance{Origin: "fpp", Provider: "fpp"},
		}
		if err := manifest.Add(ev); err != nil {
			return nil, fmt.Errorf("event %s: %w", uid, err)
		}
	}
	return manifest, nil
}

// subEventFromRow rebuilds intent from row geometry plus, for managed
// rows, the provenance marker.
func subEventFromRow(row *ScheduleEntry, tz string, resolver *holiday.Resolver, execOrder int) (intent.SubEvent, error) {
	timing, err := timingFromRow(row, tz, resolver)
	if err != nil {
		return intent.SubEvent{}, err
	}
	sub := intent.SubEvent{
		Type:   intent.SubEventType(row.Type),
		Target: row.Target,
		Timing: timing,
		Behavior: intent.Behavior{
			Enabled:  row.Enabled == 1,
			Repeat:   row.Repeat,
			StopType: row.StopType,
		},
		Role:           intent.BaseRole,
		ExecutionOrder: execOrder,
	}
	if row.Managed() {
		p := row.Provenance
		sub.Role = p.Role
		sub.BundleID = p.Bundle
		sub.SourceUID = p.Source
		if len(p.Payload) > 0 {
			sub.Payload = p.Payload
		}
	} else {
		sub.BundleID = intent.BundleIDFor(timing.StartDate, timing.EndDate)
		if len(row.Args) > 0 {
			sub.Payload = map[string]string{"args": strings.Join(row.Args, ",")}
		}
	}
	return sub, nil
}

func timingFromRow(row *ScheduleEntry, tz string, resolver *holiday.Resolver) (intent.Timing, error) {
	start, err := dateFromRow(row.StartDate, annotation(row, "start"), resolver)
	if err != nil {
		return intent.Timing{}, fmt.Errorf("startDate: %w", err)
	}
	end, err := dateFromRow(row.EndDate, annotation(row, "end"), resolver)
	if err != nil {
		return intent.Timing{}, fmt.Errorf("endDate: %w", err)
	}
	days, err := ConstraintForDay(row.Day)
	if err != nil {
		return intent.Timing{}, err
	}
	timing := intent.Timing{
		StartDate: start,
		EndDate:   end,
		Days:      days,
		Timezone:  tz,
	}
	if row.StartTime == midnight && row.EndTime == DayEnd &&
		row.StartTimeOffset == 0 && row.EndTimeOffset == 0 {
		timing.AllDay = true
		return timing, nil
	}
	timing.StartTime, err = timeFromRow(row.StartTime, row.StartTimeOffset, false)
	if err != nil {
		return intent.Timing{}, fmt.Errorf("startTime: %w", err)
	}
	timing.EndTime, err = timeFromRow(row.EndTime, row.EndTimeOffset, true)
	if err != nil {
		return intent.Timing{}, fmt.Errorf("endTime: %w", err)
	}
	return timing, nil
}

func annotation(row *ScheduleEntry, side string) string {
	if row.Provenance == nil {
		return ""
	}
	if side == "start" {
		return row.Provenance.StartDateHard
	}
	return row.Provenance.EndDateHard
}

// dateFromRow maps a date cell to a DateValue: a holiday token becomes
// a symbolic date (canonical spelling when the resolver knows it,
// verbatim otherwise), anything else is a hard pattern. A hard
// annotation preserved in provenance is reattached.
func dateFromRow(s, hardAnnotation string, resolver *holiday.Resolver) (intent.DateValue, error) {
	if isTokenDate(s) {
		token := s
		if resolver != nil {
			if canon, err := resolver.Canonical(s); err == nil {
				token = canon
			}
		}
		v := intent.SymbolicDate(intent.HolidayToken(token))
		if hardAnnotation != "" {
			p, err := intent.ParseDatePattern(hardAnnotation)
			if err != nil {
				return intent.DateValue{}, err
			}
			v.Hard = &p
		}
		return v, nil
	}
	p, err := intent.ParseDatePattern(s)
	if err != nil {
		return intent.DateValue{}, err
	}
	return intent.HardDate(p), nil
}

// timeFromRow maps a time cell to a TimeValue. The 24:00:00 end
// sentinel becomes a midnight end; intent never carries it.
func timeFromRow(s string, offset int, endOfDay bool) (*intent.TimeValue, error) {
	if ref, ok := intent.ParseSymbolicTime(s); ok {
		return intent.SymbolicTimeValue(ref, offset), nil
	}
	if endOfDay && s == DayEnd {
		s = midnight
	}
	tv, err := intent.HardTime(s)
	if err != nil {
		return nil, err
	}
	if offset != 0 {
		return nil, fmt.Errorf("%w: offset on fixed time", ErrInvalidEntry)
	}
	return tv, nil
}

// ComposeRows renders managed manifest events as scheduler rows in
// their global execution order.
func ComposeRows(events []*intent.ManifestEvent) ([]ScheduleEntry, error) {
	type flat struct {
		ev  *intent.ManifestEvent
		sub intent.SubEvent
	}
	var flats []flat
	for _, ev := range events {
		if !ev.Ownership.Managed {
			return nil, fmt.Errorf("%w: event %s is unmanaged", ErrUngroupableRow, ev.IdentityHash)
		}
		if ev.Correlation.ExternalID == "" {
			return nil, fmt.Errorf("%w: event %s has no source uid", ErrUngroupableRow, ev.IdentityHash)
		}
		for _, sub := range ev.SubEvents {
			flats = append(flats, flat{ev: ev, sub: sub})
		}
	}
	sort.SliceStable(flats, func(i, j int) bool {
		a, b := flats[i], flats[j]
		if a.sub.ExecutionOrder != b.sub.ExecutionOrder {
			return a.sub.ExecutionOrder < b.sub.ExecutionOrder
		}
		if a.ev.IdentityHash != b.ev.IdentityHash {
			return a.ev.IdentityHash < b.ev.IdentityHash
		}
		return a.sub.BundleID < b.sub.BundleID
	})

	rows := make([]ScheduleEntry, 0, len(flats))
	for _, f := range flats {
		row, err := rowFromSubEvent(f.ev, f.sub)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", f.ev.IdentityHash, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func rowFromSubEvent(ev *intent.ManifestEvent, sub intent.SubEvent) (ScheduleEntry, error) {
	day, err := DayEnumFor(sub.Timing.Days)
	if err != nil {
		return ScheduleEntry{}, err
	}
	row := ScheduleEntry{
		Type:     string(sub.Type),
		Target:   sub.Target,
		Day:      day,
		Repeat:   sub.Behavior.Repeat,
		StopType: sub.Behavior.StopType,
		Provenance: &Provenance{
			UID:      ev.Correlation.ExternalID,
			Calendar: ev.Correlation.CalendarID,
			Bundle:   sub.BundleID,
			Role:     sub.Role,
			Source:   sub.SourceUID,
			Payload:  sub.Payload,
		},
	}
	if sub.Behavior.Enabled {
		row.Enabled = 1
	}
	row.StartDate, row.Provenance.StartDateHard = dateCell(sub.Timing.StartDate)
	row.EndDate, row.Provenance.EndDateHard = dateCell(sub.Timing.EndDate)
	if sub.Timing.AllDay {
		row.StartTime, row.EndTime = midnight, DayEnd
	} else {
		row.StartTime, row.StartTimeOffset = timeCell(sub.Timing.StartTime, false)
		row.EndTime, row.EndTimeOffset = timeCell(sub.Timing.EndTime, true)
	}
	if args, ok := sub.Payload["args"]; ok && args != "" {
		row.Args = strings.Split(args, ",")
	}
	if err := row.Validate(); err != nil {
		return ScheduleEntry{}, err
	}
	return row, nil
}

// dateCell picks the cell text for a DateValue. A symbolic token wins
// the cell; a coexisting hard pattern survives as a provenance
// annotation so reading the row back loses nothing.
func dateCell(v intent.DateValue) (cell, hardAnnotation string) {
	if v.Symbolic != nil {
		cell = string(*v.Symbolic)
		if v.Hard != nil {
			hardAnnotation = string(*v.Hard)
		}
		return cell, hardAnnotation
	}
	if v.Hard != nil {
		return string(*v.Hard), ""
	}
	return "", ""
}

// timeCell renders a TimeValue; a hard midnight end becomes the
// 24:00:00 sentinel the scheduler expects.
func timeCell(tv *intent.TimeValue, endOfDay bool) (string, int) {
	if tv == nil {
		return "", 0
	}
	if tv.Symbolic != nil {
		return string(*tv.Symbolic), tv.OffsetMinutes
	}
	hard := *tv.Hard
	if endOfDay && hard == midnight {
		hard = DayEnd
	}
	return hard, 0
}

// MergeRows rebuilds the full row list for the file: unmanaged rows
// stay at their original indices wherever the managed rows around them
// leave those indices reachable, and the managed set is replaced
// wholesale in its computed order.
func MergeRows(current, managed []ScheduleEntry) []ScheduleEntry {
	type anchored struct {
		row   ScheduleEntry
		index int
	}
	var unmanaged []anchored
	for i, row := range current {
		if !row.Managed() {
			unmanaged = append(unmanaged, anchored{row: row, index: i})
		}
	}
	out := make([]ScheduleEntry, 0, len(unmanaged)+len(managed))
	mi, ui := 0, 0
	for mi < len(managed) || ui < len(unmanaged) {
		if ui < len(unmanaged) && unmanaged[ui].index <= len(out) {
			out = append(out, unmanaged[ui].row)
			ui++
			continue
		}
		if mi < len(managed) {
			out = append(out, managed[mi])
			mi++
			continue
		}
		out = append(out, unmanaged[ui].row)
		ui++
	}
	return out
}

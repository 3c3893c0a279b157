// Package normalize turns resolved calendar series into manifest
// events. The settings block decides type and behavior, the summary
// names the target, and symbolic start/end values from settings stand
// in for the provider's wall-clock times. Identity and state hashes
// fall out of Finalize; nothing here resolves a symbolic value to a
// hard one.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fppkit/calbridge/internal/holiday"
	"github.com/fppkit/calbridge/internal/intent"
	"github.com/fppkit/calbridge/internal/provider"
	"github.com/fppkit/calbridge/internal/resolution"
)

// ErrNotIntent marks calendar events without a settings block; they
// are someone's ordinary appointments, not show intents, and are
// skipped rather than synchronized.
var ErrNotIntent = errors.New("event carries no settings block")

const midnight = "00:00:00"

// Normalizer builds manifest events in the player's timezone.
type Normalizer struct {
	loc      *time.Location
	holidays *holiday.Resolver
	provider string
}

func New(loc *time.Location, holidays *holiday.Resolver, providerName string) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{loc: loc, holidays: holidays, provider: providerName}
}

// Normalize produces the manifest event for one resolved series. The
// master row supplies the settings block, the summary and the etag.
func (n *Normalizer) Normalize(res *resolution.Resolved, master provider.RawEvent, calendarID string) (*intent.ManifestEvent, error) {
	masterSettings, err := intent.ParseSettings(master.Description)
	if errors.Is(err, intent.ErrNoSettingsBlock) {
		return nil, fmt.Errorf("%w: %s", ErrNotIntent, master.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", master.ID, err)
	}

	target := strings.TrimSpace(master.Summary)
	if target == "" {
		return nil, fmt.Errorf("event %s: %w", master.ID, &intent.InvariantError{Field: "target", Reason: "empty summary"})
	}
	typ := intent.PlaylistEvent
	if masterSettings.Type != nil {
		typ = *masterSettings.Type
	}

	ev := &intent.ManifestEvent{
		Ownership:   intent.Ownership{Managed: true, Controller: "calendar"},
		Correlation: intent.Correlation{Source: "calendar", ExternalID: res.UID, CalendarID: calendarID, ETag: master.ETag},
		Provenance:  intent.Provenance{Origin: "calendar", Provider: n.provider},
	}
	if !res.UpdatedAt.IsZero() {
		ev.Provenance.SyncedAtEpoch = res.UpdatedAt.Unix()
	}

	if masterSettings.Date != nil {
		sub, err := n.symbolicSubEvent(res, master, masterSettings, typ, target)
		if err != nil {
			return nil, err
		}
		ev.SubEvents = []intent.SubEvent{sub}
	} else {
		for _, b := range res.Bundles {
			subs, err := n.bundleSubEvents(res, b, masterSettings, typ, target)
			if err != nil {
				return nil, fmt.Errorf("event %s: %w", master.ID, err)
			}
			ev.SubEvents = append(ev.SubEvents, subs...)
		}
	}

	if err := ev.Finalize(); err != nil {
		return nil, fmt.Errorf("event %s: %w", master.ID, err)
	}
	return ev, nil
}

func (n *Normalizer) bundleSubEvents(res *resolution.Resolved, b resolution.Bundle, master *intent.Settings, typ intent.SubEventType, target string) ([]intent.SubEvent, error) {
	out := make([]intent.SubEvent, 0, 1+len(b.Extras))
	for _, w := range b.Windows() {
		s, err := windowSettings(w, master)
		if err != nil {
			return nil, err
		}
		timing, err := n.windowTiming(res, w, s)
		if err != nil {
			return nil, err
		}
		out = append(out, intent.SubEvent{
			Type:      typ,
			Target:    target,
			Timing:    timing,
			Behavior:  behaviorFrom(s),
			Payload:   payloadFrom(s),
			Role:      w.Role,
			BundleID:  b.ID,
			SourceUID: w.SourceID,
		})
	}
	return out, nil
}

// symbolicSubEvent handles a settings date token: the whole event
// collapses to one base window pinned to the holiday, whatever
// concrete dates the calendar rows carried.
func (n *Normalizer) symbolicSubEvent(res *resolution.Resolved, master provider.RawEvent, s *intent.Settings, typ intent.SubEventType, target string) (intent.SubEvent, error) {
	if n.holidays == nil {
		return intent.SubEvent{}, fmt.Errorf("event %s: %w: no holiday table loaded", master.ID, holiday.ErrUnknownHoliday)
	}
	canon, err := n.holidays.Canonical(string(*s.Date))
	if err != nil {
		return intent.SubEvent{}, fmt.Errorf("event %s: %w", master.ID, err)
	}
	if len(res.Bundles) != 1 || len(res.Bundles[0].Extras) > 0 {
		return intent.SubEvent{}, fmt.Errorf("event %s: %w: date token with per-occurrence exceptions", master.ID, intent.ErrInvalidSettings)
	}

	timing, err := n.windowTiming(res, res.Bundles[0].Base, s)
	if err != nil {
		return intent.SubEvent{}, fmt.Errorf("event %s: %w", master.ID, err)
	}
	tok := intent.HolidayToken(canon)
	timing.StartDate = intent.SymbolicDate(tok)
	timing.EndDate = intent.SymbolicDate(tok)
	timing.Days = nil
	return intent.SubEvent{
		Type:      typ,
		Target:    target,
		Timing:    timing,
		Behavior:  behaviorFrom(s),
		Payload:   payloadFrom(s),
		Role:      intent.BaseRole,
		BundleID:  intent.BundleIDFor(timing.StartDate, timing.EndDate),
		SourceUID: master.ID,
	}, nil
}

// windowSettings picks the settings governing one window: its own
// block when the row carries one, the master's otherwise. Providers
// copy the master description onto override rows, so an untouched
// override inherits naturally.
func windowSettings(w resolution.Window, master *intent.Settings) (*intent.Settings, error) {
	if w.Description == "" {
		return master, nil
	}
	s, err := intent.ParseSettings(w.Description)
	if errors.Is(err, intent.ErrNoSettingsBlock) {
		return master, nil
	}
	if err != nil {
		return nil, fmt.Errorf("row %s: %w", w.SourceID, err)
	}
	return s, nil
}

// windowTiming converts one window. Settings times take the slot when
// present; a timed window that ends up midnight-to-midnight is the
// all-day shape and must hash as one.
func (n *Normalizer) windowTiming(res *resolution.Resolved, w resolution.Window, s *intent.Settings) (intent.Timing, error) {
	t := intent.Timing{
		AllDay:    w.AllDay,
		StartDate: intent.HardDate(w.StartDate),
		EndDate:   intent.HardDate(w.EndDate),
		Timezone:  n.loc.String(),
	}
	// detached windows sit on their own dates, outside the weekday
	// pattern of the series
	if w.Role == intent.BaseRole && w.SourceID == res.UID {
		t.Days = res.Days
	}

	var start, end *intent.TimeValue
	if !w.AllDay {
		var err error
		start, err = intent.HardTime(w.StartTime)
		if err != nil {
			return intent.Timing{}, fmt.Errorf("row %s: start time: %w", w.SourceID, err)
		}
		end, err = intent.HardTime(w.EndTime)
		if err != nil {
			return intent.Timing{}, fmt.Errorf("row %s: end time: %w", w.SourceID, err)
		}
	}
	if s.Start != nil {
		start = s.Start
	}
	if s.End != nil {
		end = s.End
	}
	if w.AllDay && (start == nil) != (end == nil) {
		return intent.Timing{}, fmt.Errorf("row %s: %w: an all-day window needs both start and end to become timed", w.SourceID, intent.ErrInvalidSettings)
	}
	if start != nil || end != nil {
		t.AllDay = false
		t.StartTime = start
		t.EndTime = end
	}
	if fullDay(t.StartTime, t.EndTime) {
		t.AllDay = true
		t.StartTime = nil
		t.EndTime = nil
	}
	return t, nil
}

func fullDay(start, end *intent.TimeValue) bool {
	return start != nil && end != nil &&
		start.Hard != nil && *start.Hard == midnight &&
		end.Hard != nil && *end.Hard == midnight &&
		start.OffsetMinutes == 0 && end.OffsetMinutes == 0
}

func behaviorFrom(s *intent.Settings) intent.Behavior {
	b := intent.Behavior{Enabled: true, Repeat: intent.RepeatNone, StopType: intent.StopGraceful}
	if s.Enabled != nil {
		b.Enabled = *s.Enabled
	}
	if s.Repeat != nil {
		b.Repeat = *s.Repeat
	}
	if s.StopType != nil {
		b.StopType = *s.StopType
	}
	return b
}

func payloadFrom(s *intent.Settings) map[string]string {
	if len(s.Extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(s.Extra))
	for k, v := range s.Extra {
		out[k] = v
	}
	return out
}

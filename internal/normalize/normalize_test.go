package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fppkit/calbridge/internal/holiday"
	"github.com/fppkit/calbridge/internal/intent"
	"github.com/fppkit/calbridge/internal/provider"
	"github.com/fppkit/calbridge/internal/resolution"
)

const showSettings = `Pre-show notes for the crew.

[settings]
type = playlist
repeat = immediate
volume = 80

Doors open at 17:30.`

func testNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return New(loc, holiday.MustResolver(), "google")
}

func baseWindow(desc string) resolution.Window {
	return resolution.Window{
		StartDate:   "2026-02-01",
		EndDate:     "2026-02-28",
		StartTime:   "18:00:00",
		EndTime:     "22:00:00",
		Role:        intent.BaseRole,
		SourceID:    "m1",
		Summary:     "Main Show",
		Description: desc,
	}
}

func resolved(bundles ...resolution.Bundle) *resolution.Resolved {
	return &resolution.Resolved{
		UID:       "m1",
		Timezone:  "America/New_York",
		Bundles:   bundles,
		UpdatedAt: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func masterRow(desc string) provider.RawEvent {
	return provider.RawEvent{ID: "m1", Summary: "Main Show", Description: desc, ETag: `"etag-1"`}
}

func TestNormalizeBasicEvent(t *testing.T) {
	n := testNormalizer(t)
	res := resolved(resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: baseWindow(showSettings)})

	ev, err := n.Normalize(res, masterRow(showSettings), "cal-primary")
	require.NoError(t, err)

	require.Len(t, ev.SubEvents, 1)
	sub := ev.SubEvents[0]
	assert.Equal(t, intent.PlaylistEvent, sub.Type)
	assert.Equal(t, "Main Show", sub.Target)
	assert.Equal(t, intent.BaseRole, sub.Role)
	assert.Equal(t, "2026-02-01..2026-02-28", sub.BundleID)
	assert.Equal(t, "m1", sub.SourceUID)
	assert.Equal(t, intent.Behavior{Enabled: true, Repeat: intent.RepeatImmediate, StopType: intent.StopGraceful}, sub.Behavior)
	assert.Equal(t, map[string]string{"volume": "80"}, sub.Payload)

	require.NotNil(t, sub.Timing.StartTime)
	assert.Equal(t, "18:00:00", *sub.Timing.StartTime.Hard)
	assert.Equal(t, "22:00:00", *sub.Timing.EndTime.Hard)
	assert.Equal(t, "America/New_York", sub.Timing.Timezone)

	assert.True(t, ev.Ownership.Managed)
	assert.Equal(t, "calendar", ev.Ownership.Controller)
	assert.Equal(t, "m1", ev.Correlation.ExternalID)
	assert.Equal(t, "cal-primary", ev.Correlation.CalendarID)
	assert.Equal(t, `"etag-1"`, ev.Correlation.ETag)
	assert.Equal(t, "google", ev.Provenance.Provider)
	assert.Equal(t, res.UpdatedAt.Unix(), ev.Provenance.SyncedAtEpoch)
	assert.NotEmpty(t, ev.IdentityHash)
	assert.NotEmpty(t, ev.StateHash)
	assert.True(t, ev.Status.Enabled)
}

func TestNormalizeSkipsEventsWithoutSettings(t *testing.T) {
	n := testNormalizer(t)
	res := resolved(resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: baseWindow("Band rehearsal, do not sync")})

	_, err := n.Normalize(res, masterRow("Band rehearsal, do not sync"), "cal-primary")
	require.ErrorIs(t, err, ErrNotIntent)
}

func TestNormalizeMalformedSettings(t *testing.T) {
	n := testNormalizer(t)
	desc := "[settings]\ntype = interpretive_dance"
	res := resolved(resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: baseWindow(desc)})

	_, err := n.Normalize(res, masterRow(desc), "cal-primary")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotIntent)
}

func TestNormalizeSymbolicTimes(t *testing.T) {
	n := testNormalizer(t)
	desc := "[settings]\nstart = SunSet\nstart_offset = -30\nend = 22:30:00"
	res := resolved(resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: baseWindow(desc)})

	ev, err := n.Normalize(res, masterRow(desc), "cal-primary")
	require.NoError(t, err)

	sub := ev.SubEvents[0]
	require.NotNil(t, sub.Timing.StartTime.Symbolic)
	assert.Equal(t, intent.SunSet, *sub.Timing.StartTime.Symbolic)
	assert.Equal(t, -30, sub.Timing.StartTime.OffsetMinutes)
	require.NotNil(t, sub.Timing.EndTime.Hard)
	assert.Equal(t, "22:30:00", *sub.Timing.EndTime.Hard)
}

func TestNormalizeDateToken(t *testing.T) {
	n := testNormalizer(t)
	desc := "[settings]\ndate = xmas"
	res := resolved(resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: baseWindow(desc)})

	ev, err := n.Normalize(res, masterRow(desc), "cal-primary")
	require.NoError(t, err)

	require.Len(t, ev.SubEvents, 1)
	sub := ev.SubEvents[0]
	require.NotNil(t, sub.Timing.StartDate.Symbolic)
	assert.Equal(t, intent.HolidayToken("Christmas"), *sub.Timing.StartDate.Symbolic)
	assert.Nil(t, sub.Timing.StartDate.Hard)
	assert.Equal(t, "Christmas..Christmas", sub.BundleID)
	assert.Nil(t, sub.Timing.Days)
}

func TestNormalizeDateTokenRejects(t *testing.T) {
	n := testNormalizer(t)

	t.Run("unknown token", func(t *testing.T) {
		desc := "[settings]\ndate = FestivusForTheRest"
		res := resolved(resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: baseWindow(desc)})
		_, err := n.Normalize(res, masterRow(desc), "cal-primary")
		require.ErrorIs(t, err, holiday.ErrUnknownHoliday)
	})

	t.Run("split coverage", func(t *testing.T) {
		desc := "[settings]\ndate = xmas"
		b1 := resolution.Bundle{ID: "2026-02-01..2026-02-09", Base: baseWindow(desc)}
		b2 := resolution.Bundle{ID: "2026-02-11..2026-02-28", Base: baseWindow(desc)}
		_, err := n.Normalize(resolved(b1, b2), masterRow(desc), "cal-primary")
		require.ErrorIs(t, err, intent.ErrInvalidSettings)
	})
}

func TestNormalizeAllDay(t *testing.T) {
	n := testNormalizer(t)
	allDay := baseWindow("[settings]\ntype = command")
	allDay.AllDay = true
	allDay.StartTime = ""
	allDay.EndTime = ""

	t.Run("stays all-day without settings times", func(t *testing.T) {
		res := resolved(resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: allDay})
		ev, err := n.Normalize(res, masterRow(allDay.Description), "cal-primary")
		require.NoError(t, err)
		sub := ev.SubEvents[0]
		assert.True(t, sub.Timing.AllDay)
		assert.Nil(t, sub.Timing.StartTime)
		assert.Nil(t, sub.Timing.EndTime)
	})

	t.Run("settings times make it timed", func(t *testing.T) {
		w := allDay
		w.Description = "[settings]\nstart = Dusk\nend = 23:00:00"
		res := resolved(resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: w})
		ev, err := n.Normalize(res, masterRow(w.Description), "cal-primary")
		require.NoError(t, err)
		sub := ev.SubEvents[0]
		assert.False(t, sub.Timing.AllDay)
		require.NotNil(t, sub.Timing.StartTime.Symbolic)
		assert.Equal(t, intent.Dusk, *sub.Timing.StartTime.Symbolic)
	})

	t.Run("one-sided settings time is rejected", func(t *testing.T) {
		w := allDay
		w.Description = "[settings]\nstart = Dusk"
		res := resolved(resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: w})
		_, err := n.Normalize(res, masterRow(w.Description), "cal-primary")
		require.ErrorIs(t, err, intent.ErrInvalidSettings)
	})
}

func TestNormalizeFullDayShapeHashesAsAllDay(t *testing.T) {
	n := testNormalizer(t)
	desc := "[settings]\ntype = playlist"

	timed := baseWindow(desc)
	timed.StartTime = "00:00:00"
	timed.EndTime = "00:00:00"
	evTimed, err := n.Normalize(resolved(resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: timed}), masterRow(desc), "cal-primary")
	require.NoError(t, err)

	allDay := baseWindow(desc)
	allDay.AllDay = true
	allDay.StartTime = ""
	allDay.EndTime = ""
	evAllDay, err := n.Normalize(resolved(resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: allDay}), masterRow(desc), "cal-primary")
	require.NoError(t, err)

	assert.True(t, evTimed.SubEvents[0].Timing.AllDay)
	assert.Equal(t, evAllDay.IdentityHash, evTimed.IdentityHash)
	assert.Equal(t, evAllDay.StateHash, evTimed.StateHash)
}

func TestNormalizeOverrideInheritance(t *testing.T) {
	n := testNormalizer(t)
	ov := resolution.Window{
		StartDate: "2026-02-10",
		EndDate:   "2026-02-10",
		StartTime: "18:00:00",
		EndTime:   "21:00:00",
		Role:      intent.OverrideRole,
		SourceID:  "o1",
		Summary:   "Main Show",
	}

	t.Run("no own block inherits master behavior", func(t *testing.T) {
		b := resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: baseWindow(showSettings), Extras: []resolution.Window{ov}}
		ev, err := n.Normalize(resolved(b), masterRow(showSettings), "cal-primary")
		require.NoError(t, err)

		require.Len(t, ev.SubEvents, 2)
		var base, override intent.SubEvent
		for _, s := range ev.SubEvents {
			if s.Role == intent.BaseRole {
				base = s
			} else {
				override = s
			}
		}
		assert.Equal(t, base.Behavior, override.Behavior)
		assert.Equal(t, base.Payload, override.Payload)
		assert.Equal(t, "21:00:00", *override.Timing.EndTime.Hard)
		assert.Equal(t, "o1", override.SourceUID)
	})

	t.Run("own block wins", func(t *testing.T) {
		quiet := ov
		quiet.Description = "[settings]\nenabled = false\nvolume = 40"
		b := resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: baseWindow(showSettings), Extras: []resolution.Window{quiet}}
		ev, err := n.Normalize(resolved(b), masterRow(showSettings), "cal-primary")
		require.NoError(t, err)

		for _, s := range ev.SubEvents {
			if s.Role == intent.OverrideRole {
				assert.False(t, s.Behavior.Enabled)
				assert.Equal(t, map[string]string{"volume": "40"}, s.Payload)
			} else {
				assert.True(t, s.Behavior.Enabled)
			}
		}
		// the event still counts as enabled while its base runs
		assert.True(t, ev.Status.Enabled)
	})
}

func TestNormalizeDaysOnlyOnSeriesBase(t *testing.T) {
	n := testNormalizer(t)
	days := intent.MustWeekly("MO", "WE", "FR")

	detached := resolution.Window{
		StartDate: "2026-03-15",
		EndDate:   "2026-03-15",
		StartTime: "18:00:00",
		EndTime:   "22:00:00",
		Role:      intent.BaseRole,
		SourceID:  "o1",
		Summary:   "Main Show",
	}
	res := resolved(
		resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: baseWindow(showSettings)},
		resolution.Bundle{ID: "2026-03-15..2026-03-15", Base: detached},
	)
	res.Days = days

	ev, err := n.Normalize(res, masterRow(showSettings), "cal-primary")
	require.NoError(t, err)

	require.Len(t, ev.SubEvents, 2)
	for _, s := range ev.SubEvents {
		if s.SourceUID == "m1" {
			assert.Equal(t, days, s.Timing.Days)
		} else {
			assert.Nil(t, s.Timing.Days)
		}
	}
}

func TestNormalizeEmptyTarget(t *testing.T) {
	n := testNormalizer(t)
	res := resolved(resolution.Bundle{ID: "2026-02-01..2026-02-28", Base: baseWindow(showSettings)})
	master := masterRow(showSettings)
	master.Summary = "   "

	_, err := n.Normalize(res, master, "cal-primary")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target")
}

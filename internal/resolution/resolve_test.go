package resolution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fppkit/calbridge/internal/ingest"
	"github.com/fppkit/calbridge/internal/intent"
	"github.com/fppkit/calbridge/internal/provider"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return New(loc)
}

// timedMaster is a recurring show row: Feb 2026, 18:00 to 22:00 local.
func timedMaster(recurrence ...string) provider.RawEvent {
	return provider.RawEvent{
		ID:         "m1",
		Summary:    "Playlist A",
		Start:      &provider.EventTime{DateTime: "2026-02-01T18:00:00-05:00", TimeZone: "America/New_York"},
		End:        &provider.EventTime{DateTime: "2026-02-01T22:00:00-05:00", TimeZone: "America/New_York"},
		Recurrence: recurrence,
		Updated:    "2026-01-15T10:00:00Z",
	}
}

func override(id, orig, start, end string) provider.RawEvent {
	return provider.RawEvent{
		ID:               id,
		RecurringEventID: "m1",
		Summary:          "Playlist A",
		Start:            &provider.EventTime{DateTime: start, TimeZone: "America/New_York"},
		End:              &provider.EventTime{DateTime: end, TimeZone: "America/New_York"},
		OriginalStart:    &provider.EventTime{DateTime: orig, TimeZone: "America/New_York"},
		Updated:          "2026-01-20T10:00:00Z",
	}
}

func cancelled(id, orig string) provider.RawEvent {
	return provider.RawEvent{
		ID:               id,
		RecurringEventID: "m1",
		Status:           "cancelled",
		OriginalStart:    &provider.EventTime{DateTime: orig, TimeZone: "America/New_York"},
	}
}

func requireRange(t *testing.T, b Bundle, start, end string) {
	t.Helper()
	assert.Equal(t, intent.DatePattern(start), b.Base.StartDate)
	assert.Equal(t, intent.DatePattern(end), b.Base.EndDate)
	assert.Equal(t, start+".."+end, b.ID)
}

func diagCodes(res *Resolved) []string {
	out := make([]string, 0, len(res.Diagnostics))
	for _, d := range res.Diagnostics {
		out = append(out, d.Code)
	}
	return out
}

func TestResolveDailyExDateSplit(t *testing.T) {
	r := testResolver(t)
	res, err := r.Resolve(ingest.Series{Master: timedMaster(
		"RRULE:FREQ=DAILY;UNTIL=20260228",
		"EXDATE;TZID=America/New_York:20260210T180000",
		"EXDATE;TZID=America/New_York:20260215T180000",
	)})
	require.NoError(t, err)

	require.Len(t, res.Bundles, 3)
	requireRange(t, res.Bundles[0], "2026-02-01", "2026-02-09")
	requireRange(t, res.Bundles[1], "2026-02-11", "2026-02-14")
	requireRange(t, res.Bundles[2], "2026-02-16", "2026-02-28")
	for _, b := range res.Bundles {
		assert.Equal(t, "18:00:00", b.Base.StartTime)
		assert.Equal(t, "22:00:00", b.Base.EndTime)
		assert.Equal(t, intent.BaseRole, b.Base.Role)
		assert.Empty(t, b.Extras)
	}
	assert.Nil(t, res.Days)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, "m1", res.UID)
	assert.Equal(t, "America/New_York", res.Timezone)
}

func TestResolveOverrideStaysInOneBundle(t *testing.T) {
	r := testResolver(t)
	res, err := r.Resolve(ingest.Series{
		Master: timedMaster("RRULE:FREQ=DAILY;UNTIL=20260228"),
		Overrides: []provider.RawEvent{
			override("o1", "2026-02-10T18:00:00-05:00", "2026-02-10T18:00:00-05:00", "2026-02-10T21:00:00-05:00"),
		},
	})
	require.NoError(t, err)

	require.Len(t, res.Bundles, 1)
	requireRange(t, res.Bundles[0], "2026-02-01", "2026-02-28")
	require.Len(t, res.Bundles[0].Extras, 1)
	ov := res.Bundles[0].Extras[0]
	assert.Equal(t, intent.OverrideRole, ov.Role)
	assert.Equal(t, intent.DatePattern("2026-02-10"), ov.StartDate)
	assert.Equal(t, intent.DatePattern("2026-02-10"), ov.EndDate)
	assert.Equal(t, "21:00:00", ov.EndTime)
	assert.Equal(t, "o1", ov.SourceID)
	// the override row is newer than the master
	assert.Equal(t, "2026-01-20T10:00:00Z", res.UpdatedAt.Format(time.RFC3339))
}

func TestResolveCancelledOverrideCarves(t *testing.T) {
	r := testResolver(t)
	res, err := r.Resolve(ingest.Series{
		Master:    timedMaster("RRULE:FREQ=DAILY;UNTIL=20260228"),
		Overrides: []provider.RawEvent{cancelled("o1", "2026-02-10T18:00:00-05:00")},
	})
	require.NoError(t, err)

	require.Len(t, res.Bundles, 2)
	requireRange(t, res.Bundles[0], "2026-02-01", "2026-02-09")
	requireRange(t, res.Bundles[1], "2026-02-11", "2026-02-28")
	assert.Empty(t, res.Bundles[0].Extras)
	assert.Empty(t, res.Bundles[1].Extras)
}

func TestResolveMovedOverride(t *testing.T) {
	r := testResolver(t)
	res, err := r.Resolve(ingest.Series{
		Master: timedMaster("RRULE:FREQ=DAILY;UNTIL=20260228"),
		Overrides: []provider.RawEvent{
			override("o1", "2026-02-10T18:00:00-05:00", "2026-02-20T19:00:00-05:00", "2026-02-20T23:00:00-05:00"),
		},
	})
	require.NoError(t, err)

	require.Len(t, res.Bundles, 2)
	requireRange(t, res.Bundles[0], "2026-02-01", "2026-02-09")
	requireRange(t, res.Bundles[1], "2026-02-11", "2026-02-28")
	require.Len(t, res.Bundles[1].Extras, 1)
	ov := res.Bundles[1].Extras[0]
	assert.Equal(t, intent.DatePattern("2026-02-20"), ov.StartDate)
	assert.Equal(t, "19:00:00", ov.StartTime)
	assert.Contains(t, diagCodes(res), DiagMovedOverride)
}

func TestResolveDetachedOverride(t *testing.T) {
	r := testResolver(t)
	res, err := r.Resolve(ingest.Series{
		Master: timedMaster("RRULE:FREQ=DAILY;UNTIL=20260228"),
		Overrides: []provider.RawEvent{
			override("o1", "2026-02-10T18:00:00-05:00", "2026-03-15T18:00:00-04:00", "2026-03-15T22:00:00-04:00"),
		},
	})
	require.NoError(t, err)

	require.Len(t, res.Bundles, 3)
	requireRange(t, res.Bundles[0], "2026-02-01", "2026-02-09")
	requireRange(t, res.Bundles[1], "2026-02-11", "2026-02-28")
	requireRange(t, res.Bundles[2], "2026-03-15", "2026-03-15")
	// a detached window anchors its own bundle
	assert.Equal(t, intent.BaseRole, res.Bundles[2].Base.Role)
	assert.Equal(t, "o1", res.Bundles[2].Base.SourceID)
	assert.Contains(t, diagCodes(res), DiagDetachedOverride)
	assert.Contains(t, diagCodes(res), DiagMovedOverride)
}

func TestResolveUntilBounds(t *testing.T) {
	r := testResolver(t)

	t.Run("timed until is exclusive", func(t *testing.T) {
		// 23:00Z is exactly 18:00 in New York that day
		res, err := r.Resolve(ingest.Series{Master: timedMaster("RRULE:FREQ=DAILY;UNTIL=20260205T230000Z")})
		require.NoError(t, err)
		require.Len(t, res.Bundles, 1)
		requireRange(t, res.Bundles[0], "2026-02-01", "2026-02-04")
	})

	t.Run("date until is inclusive", func(t *testing.T) {
		res, err := r.Resolve(ingest.Series{Master: timedMaster("RRULE:FREQ=DAILY;UNTIL=20260205")})
		require.NoError(t, err)
		require.Len(t, res.Bundles, 1)
		requireRange(t, res.Bundles[0], "2026-02-01", "2026-02-05")
	})

	t.Run("count", func(t *testing.T) {
		res, err := r.Resolve(ingest.Series{Master: timedMaster("RRULE:FREQ=DAILY;COUNT=5")})
		require.NoError(t, err)
		require.Len(t, res.Bundles, 1)
		requireRange(t, res.Bundles[0], "2026-02-01", "2026-02-05")
	})
}

func TestResolveUnboundedRule(t *testing.T) {
	r := testResolver(t)

	t.Run("no exceptions", func(t *testing.T) {
		res, err := r.Resolve(ingest.Series{Master: timedMaster("RRULE:FREQ=DAILY")})
		require.NoError(t, err)
		require.Len(t, res.Bundles, 1)
		requireRange(t, res.Bundles[0], "2026-02-01", string(OpenEndDate))
	})

	t.Run("exdate splits and the tail stays open", func(t *testing.T) {
		res, err := r.Resolve(ingest.Series{Master: timedMaster(
			"RRULE:FREQ=DAILY",
			"EXDATE;TZID=America/New_York:20260210T180000",
		)})
		require.NoError(t, err)
		require.Len(t, res.Bundles, 2)
		requireRange(t, res.Bundles[0], "2026-02-01", "2026-02-09")
		requireRange(t, res.Bundles[1], "2026-02-11", string(OpenEndDate))
	})
}

func TestResolveWeekly(t *testing.T) {
	r := testResolver(t)

	t.Run("byday", func(t *testing.T) {
		master := timedMaster("RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR;UNTIL=20260228")
		master.Start = &provider.EventTime{DateTime: "2026-02-02T18:00:00-05:00", TimeZone: "America/New_York"}
		master.End = &provider.EventTime{DateTime: "2026-02-02T22:00:00-05:00", TimeZone: "America/New_York"}
		res, err := r.Resolve(ingest.Series{Master: master})
		require.NoError(t, err)

		require.Len(t, res.Bundles, 1)
		requireRange(t, res.Bundles[0], "2026-02-02", "2026-02-27")
		require.NotNil(t, res.Days)
		assert.Equal(t, []intent.Weekday{intent.Friday, intent.Monday, intent.Wednesday}, res.Days.Days)
	})

	t.Run("exdate splits at the excluded occurrence", func(t *testing.T) {
		master := timedMaster(
			"RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR;UNTIL=20260228",
			"EXDATE;TZID=America/New_York:20260211T180000",
		)
		master.Start = &provider.EventTime{DateTime: "2026-02-02T18:00:00-05:00", TimeZone: "America/New_York"}
		master.End = &provider.EventTime{DateTime: "2026-02-02T22:00:00-05:00", TimeZone: "America/New_York"}
		res, err := r.Resolve(ingest.Series{Master: master})
		require.NoError(t, err)

		require.Len(t, res.Bundles, 2)
		requireRange(t, res.Bundles[0], "2026-02-02", "2026-02-09")
		requireRange(t, res.Bundles[1], "2026-02-13", "2026-02-27")
	})

	t.Run("no byday falls back to the start weekday", func(t *testing.T) {
		master := timedMaster("RRULE:FREQ=WEEKLY;UNTIL=20260228")
		master.Start = &provider.EventTime{DateTime: "2026-02-02T18:00:00-05:00", TimeZone: "America/New_York"}
		master.End = &provider.EventTime{DateTime: "2026-02-02T22:00:00-05:00", TimeZone: "America/New_York"}
		res, err := r.Resolve(ingest.Series{Master: master})
		require.NoError(t, err)

		require.NotNil(t, res.Days)
		assert.Equal(t, []intent.Weekday{intent.Monday}, res.Days.Days)
	})

	t.Run("full byday set means every day", func(t *testing.T) {
		res, err := r.Resolve(ingest.Series{Master: timedMaster(
			"RRULE:FREQ=WEEKLY;BYDAY=SU,MO,TU,WE,TH,FR,SA;UNTIL=20260228",
		)})
		require.NoError(t, err)
		assert.Nil(t, res.Days)
	})
}

func TestResolveCrossTimezoneWeekday(t *testing.T) {
	// Monday 01:00 in Tokyo is still Sunday on the player's side
	r := testResolver(t)
	master := provider.RawEvent{
		ID:         "m1",
		Summary:    "Early Show",
		Start:      &provider.EventTime{DateTime: "2026-02-02T01:00:00+09:00", TimeZone: "Asia/Tokyo"},
		End:        &provider.EventTime{DateTime: "2026-02-02T03:00:00+09:00", TimeZone: "Asia/Tokyo"},
		Recurrence: []string{"RRULE:FREQ=WEEKLY;BYDAY=MO;UNTIL=20260228"},
	}
	res, err := r.Resolve(ingest.Series{Master: master})
	require.NoError(t, err)

	require.NotNil(t, res.Days)
	assert.Equal(t, []intent.Weekday{intent.Sunday}, res.Days.Days)
	require.NotEmpty(t, res.Bundles)
	assert.Equal(t, intent.DatePattern("2026-02-01"), res.Bundles[0].Base.StartDate)
	assert.Equal(t, "11:00:00", res.Bundles[0].Base.StartTime)
	assert.Equal(t, "13:00:00", res.Bundles[0].Base.EndTime)
}

func TestResolveSingleEvents(t *testing.T) {
	r := testResolver(t)

	t.Run("timed", func(t *testing.T) {
		res, err := r.Resolve(ingest.Series{Master: timedMaster()})
		require.NoError(t, err)
		require.Len(t, res.Bundles, 1)
		requireRange(t, res.Bundles[0], "2026-02-01", "2026-02-01")
		assert.False(t, res.Bundles[0].Base.AllDay)
	})

	t.Run("all-day spans its whole range", func(t *testing.T) {
		master := provider.RawEvent{
			ID:      "m2",
			Summary: "Open House",
			Start:   &provider.EventTime{Date: "2025-12-24"},
			End:     &provider.EventTime{Date: "2025-12-27"},
		}
		res, err := r.Resolve(ingest.Series{Master: master})
		require.NoError(t, err)
		require.Len(t, res.Bundles, 1)
		requireRange(t, res.Bundles[0], "2025-12-24", "2025-12-26")
		assert.True(t, res.Bundles[0].Base.AllDay)
		assert.Empty(t, res.Bundles[0].Base.StartTime)
	})

	t.Run("exdate without a rule is diagnosed", func(t *testing.T) {
		master := timedMaster("EXDATE;TZID=America/New_York:20260201T180000")
		res, err := r.Resolve(ingest.Series{Master: master})
		require.NoError(t, err)
		require.Len(t, res.Bundles, 1)
		assert.Contains(t, diagCodes(res), DiagExDateWithoutRRule)
	})
}

func TestResolveAllDayRecurring(t *testing.T) {
	r := testResolver(t)
	master := provider.RawEvent{
		ID:         "m3",
		Summary:    "Lights On",
		Start:      &provider.EventTime{Date: "2026-02-01"},
		End:        &provider.EventTime{Date: "2026-02-02"},
		Recurrence: []string{"RRULE:FREQ=DAILY;UNTIL=20260205"},
	}
	res, err := r.Resolve(ingest.Series{Master: master})
	require.NoError(t, err)

	require.Len(t, res.Bundles, 1)
	requireRange(t, res.Bundles[0], "2026-02-01", "2026-02-05")
	assert.True(t, res.Bundles[0].Base.AllDay)
}

func TestResolveMergesAdjacentOverrides(t *testing.T) {
	r := testResolver(t)

	t.Run("same content on consecutive days", func(t *testing.T) {
		res, err := r.Resolve(ingest.Series{
			Master: timedMaster("RRULE:FREQ=DAILY;UNTIL=20260228"),
			Overrides: []provider.RawEvent{
				override("o1", "2026-02-10T18:00:00-05:00", "2026-02-10T18:00:00-05:00", "2026-02-10T21:00:00-05:00"),
				override("o2", "2026-02-11T18:00:00-05:00", "2026-02-11T18:00:00-05:00", "2026-02-11T21:00:00-05:00"),
			},
		})
		require.NoError(t, err)
		require.Len(t, res.Bundles, 1)
		require.Len(t, res.Bundles[0].Extras, 1)
		ov := res.Bundles[0].Extras[0]
		assert.Equal(t, intent.DatePattern("2026-02-10"), ov.StartDate)
		assert.Equal(t, intent.DatePattern("2026-02-11"), ov.EndDate)
		assert.Contains(t, diagCodes(res), DiagMergedOverrides)
	})

	t.Run("a gap keeps them apart", func(t *testing.T) {
		res, err := r.Resolve(ingest.Series{
			Master: timedMaster("RRULE:FREQ=DAILY;UNTIL=20260228"),
			Overrides: []provider.RawEvent{
				override("o1", "2026-02-10T18:00:00-05:00", "2026-02-10T18:00:00-05:00", "2026-02-10T21:00:00-05:00"),
				override("o2", "2026-02-12T18:00:00-05:00", "2026-02-12T18:00:00-05:00", "2026-02-12T21:00:00-05:00"),
			},
		})
		require.NoError(t, err)
		require.Len(t, res.Bundles[0].Extras, 2)
	})

	t.Run("different content keeps them apart", func(t *testing.T) {
		res, err := r.Resolve(ingest.Series{
			Master: timedMaster("RRULE:FREQ=DAILY;UNTIL=20260228"),
			Overrides: []provider.RawEvent{
				override("o1", "2026-02-10T18:00:00-05:00", "2026-02-10T18:00:00-05:00", "2026-02-10T21:00:00-05:00"),
				override("o2", "2026-02-11T18:00:00-05:00", "2026-02-11T18:00:00-05:00", "2026-02-11T23:00:00-05:00"),
			},
		})
		require.NoError(t, err)
		require.Len(t, res.Bundles[0].Extras, 2)
	})
}

func TestResolveIgnoredExDate(t *testing.T) {
	r := testResolver(t)
	res, err := r.Resolve(ingest.Series{Master: timedMaster(
		"RRULE:FREQ=DAILY;UNTIL=20260228",
		"EXDATE;TZID=America/New_York:20260310T180000",
	)})
	require.NoError(t, err)

	require.Len(t, res.Bundles, 1)
	requireRange(t, res.Bundles[0], "2026-02-01", "2026-02-28")
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, DiagIgnoredExDate, res.Diagnostics[0].Code)
	assert.Equal(t, "2026-03-10", res.Diagnostics[0].Detail)
}

func TestResolveUnresolvableRules(t *testing.T) {
	r := testResolver(t)
	cases := map[string][]string{
		"monthly":        {"RRULE:FREQ=MONTHLY;UNTIL=20260228"},
		"interval":       {"RRULE:FREQ=DAILY;INTERVAL=2;UNTIL=20260228"},
		"ordinal byday":  {"RRULE:FREQ=WEEKLY;BYDAY=2MO;UNTIL=20260228"},
		"bymonth":        {"RRULE:FREQ=DAILY;BYMONTH=2;UNTIL=20260228"},
		"rdate":          {"RRULE:FREQ=DAILY;UNTIL=20260228", "RDATE;TZID=America/New_York:20260301T180000"},
		"second rrule":   {"RRULE:FREQ=DAILY;UNTIL=20260228", "RRULE:FREQ=WEEKLY"},
		"empty after ex": {"RRULE:FREQ=DAILY;COUNT=1", "EXDATE;TZID=America/New_York:20260201T180000"},
	}
	for name, recurrence := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(ingest.Series{Master: timedMaster(recurrence...)})
			require.ErrorIs(t, err, ErrUnresolvableRecurrence)
		})
	}

	t.Run("overrides without a rule", func(t *testing.T) {
		_, err := r.Resolve(ingest.Series{
			Master:    timedMaster(),
			Overrides: []provider.RawEvent{cancelled("o1", "2026-02-10T18:00:00-05:00")},
		})
		require.ErrorIs(t, err, ErrUnresolvableRecurrence)
	})

	t.Run("multi-day all-day recurrence", func(t *testing.T) {
		master := provider.RawEvent{
			ID:         "m4",
			Start:      &provider.EventTime{Date: "2026-02-01"},
			End:        &provider.EventTime{Date: "2026-02-03"},
			Recurrence: []string{"RRULE:FREQ=WEEKLY;UNTIL=20260301"},
		}
		_, err := r.Resolve(ingest.Series{Master: master})
		require.ErrorIs(t, err, ErrUnresolvableRecurrence)
	})
}

func TestResolveBadEventTimes(t *testing.T) {
	r := testResolver(t)

	t.Run("zero length", func(t *testing.T) {
		master := timedMaster()
		master.End = master.Start
		_, err := r.Resolve(ingest.Series{Master: master})
		require.ErrorIs(t, err, ErrBadEventTime)
	})

	t.Run("missing end", func(t *testing.T) {
		master := timedMaster()
		master.End = nil
		_, err := r.Resolve(ingest.Series{Master: master})
		require.ErrorIs(t, err, ErrBadEventTime)
	})

	t.Run("mixed boundary kinds", func(t *testing.T) {
		master := timedMaster()
		master.End = &provider.EventTime{Date: "2026-02-02"}
		_, err := r.Resolve(ingest.Series{Master: master})
		require.ErrorIs(t, err, ErrBadEventTime)
	})
}

func TestResolvePartialResolution(t *testing.T) {
	r := testResolver(t)

	t.Run("broken override time", func(t *testing.T) {
		bad := override("o1", "2026-02-10T18:00:00-05:00", "not-a-time", "2026-02-10T21:00:00-05:00")
		_, err := r.Resolve(ingest.Series{
			Master:    timedMaster("RRULE:FREQ=DAILY;UNTIL=20260228"),
			Overrides: []provider.RawEvent{bad},
		})
		require.ErrorIs(t, err, ErrPartialResolution)
		var pe *PartialError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "m1", pe.UID)
		require.Len(t, pe.Problems, 1)
		assert.Contains(t, pe.Problems[0], "o1")
	})

	t.Run("cancelled override without original start", func(t *testing.T) {
		c := cancelled("o2", "2026-02-10T18:00:00-05:00")
		c.OriginalStart = nil
		_, err := r.Resolve(ingest.Series{
			Master:    timedMaster("RRULE:FREQ=DAILY;UNTIL=20260228"),
			Overrides: []provider.RawEvent{c},
		})
		require.ErrorIs(t, err, ErrPartialResolution)
	})
}

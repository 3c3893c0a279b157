package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fppkit/calbridge/internal/provider"
)

func timedRow(id, start string) provider.RawEvent {
	return provider.RawEvent{
		ID:     id,
		Status: "confirmed",
		Start:  &provider.EventTime{DateTime: start, TimeZone: "America/New_York"},
	}
}

func overrideRow(id, masterID, originalStart string) provider.RawEvent {
	row := timedRow(id, originalStart)
	row.RecurringEventID = masterID
	row.OriginalStart = &provider.EventTime{DateTime: originalStart, TimeZone: "America/New_York"}
	return row
}

func TestGroupAttachesOverridesToMaster(t *testing.T) {
	rows := []provider.RawEvent{
		overrideRow("show#2", "show", "2025-12-05T18:00:00-05:00"),
		timedRow("show", "2025-12-01T18:00:00-05:00"),
		overrideRow("show#1", "show", "2025-12-03T18:00:00-05:00"),
		timedRow("standalone", "2025-12-24T18:00:00-05:00"),
	}

	result, err := Group(rows)
	require.NoError(t, err)
	require.Len(t, result.Series, 2)
	assert.Empty(t, result.Diagnostics)

	show := result.Series[0]
	assert.Equal(t, "show", show.Master.ID)
	require.Len(t, show.Overrides, 2)
	assert.Equal(t, "show#1", show.Overrides[0].ID, "overrides sort by original start")
	assert.Equal(t, "show#2", show.Overrides[1].ID)

	assert.Equal(t, "standalone", result.Series[1].Master.ID)
	assert.Empty(t, result.Series[1].Overrides)
}

func TestGroupSeriesOrderIsDeterministic(t *testing.T) {
	rows := []provider.RawEvent{
		timedRow("zeta", "2025-12-01T18:00:00-05:00"),
		timedRow("alpha", "2025-12-01T19:00:00-05:00"),
		timedRow("mid", "2025-12-01T20:00:00-05:00"),
	}

	result, err := Group(rows)
	require.NoError(t, err)
	require.Len(t, result.Series, 3)
	assert.Equal(t, "alpha", result.Series[0].Master.ID)
	assert.Equal(t, "mid", result.Series[1].Master.ID)
	assert.Equal(t, "zeta", result.Series[2].Master.ID)
}

func TestGroupDropsCancelledMasterWithOverrides(t *testing.T) {
	master := timedRow("gone", "2025-12-01T18:00:00-05:00")
	master.Status = "cancelled"
	rows := []provider.RawEvent{
		master,
		overrideRow("gone#1", "gone", "2025-12-03T18:00:00-05:00"),
	}

	result, err := Group(rows)
	require.NoError(t, err)
	assert.Empty(t, result.Series)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, DiagCancelledSeries, result.Diagnostics[0].Code)
	assert.Equal(t, "gone", result.Diagnostics[0].EventID)
}

func TestGroupKeepsCancelledOverrides(t *testing.T) {
	cancelled := overrideRow("show#1", "show", "2025-12-03T18:00:00-05:00")
	cancelled.Status = "cancelled"
	rows := []provider.RawEvent{
		timedRow("show", "2025-12-01T18:00:00-05:00"),
		cancelled,
	}

	result, err := Group(rows)
	require.NoError(t, err)
	require.Len(t, result.Series, 1)
	require.Len(t, result.Series[0].Overrides, 1)
	assert.True(t, result.Series[0].Overrides[0].IsCancelled())
}

func TestGroupOrphanOverrideIsDiagnosed(t *testing.T) {
	rows := []provider.RawEvent{
		overrideRow("lost#1", "missing", "2025-12-03T18:00:00-05:00"),
	}

	result, err := Group(rows)
	require.NoError(t, err)
	assert.Empty(t, result.Series)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, DiagOrphanOverride, result.Diagnostics[0].Code)
	assert.Equal(t, "lost#1", result.Diagnostics[0].EventID)
}

func TestGroupRejectsMalformedRows(t *testing.T) {
	t.Run("missing id", func(t *testing.T) {
		_, err := Group([]provider.RawEvent{{Status: "confirmed"}})
		require.ErrorIs(t, err, ErrMalformedRow)
	})

	t.Run("duplicate master id", func(t *testing.T) {
		_, err := Group([]provider.RawEvent{
			timedRow("dup", "2025-12-01T18:00:00-05:00"),
			timedRow("dup", "2025-12-02T18:00:00-05:00"),
		})
		require.ErrorIs(t, err, ErrMalformedRow)
	})
}

func TestGroupAllDayOverrideSortKey(t *testing.T) {
	first := overrideRow("ad#1", "ad", "")
	first.OriginalStart = &provider.EventTime{Date: "2025-12-03"}
	second := overrideRow("ad#2", "ad", "")
	second.OriginalStart = &provider.EventTime{Date: "2025-12-01"}
	rows := []provider.RawEvent{
		timedRow("ad", "2025-12-01T00:00:00-05:00"),
		first,
		second,
	}

	result, err := Group(rows)
	require.NoError(t, err)
	require.Len(t, result.Series, 1)
	require.Len(t, result.Series[0].Overrides, 2)
	assert.Equal(t, "ad#2", result.Series[0].Overrides[0].ID)
	assert.Equal(t, "ad#1", result.Series[0].Overrides[1].ID)
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *RunJournal {
	t.Helper()
	j, err := OpenJournal(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalBeginFinish(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	started := time.Date(2026, 8, 25, 18, 0, 0, 0, time.UTC)
	require.NoError(t, j.Begin(ctx, RunRecord{
		ID:            "run-1",
		Kind:          "apply",
		StartedAt:     started,
		Mode:          "both",
		CalendarID:    "primary",
		CorrelationID: "corr-1",
	}))

	rec, ok, err := j.Last(ctx, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RunOutcomeRunning, rec.Outcome)
	assert.True(t, rec.FinishedAt.IsZero())

	counts := RunCounts{Creates: 2, Updates: 1, Deletes: 1, Blocked: 3}
	require.NoError(t, j.Finish(ctx, "run-1", counts, RunOutcomeOK, "", started.Add(4*time.Second)))

	rec, ok, err = j.Last(ctx, "apply")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-1", rec.ID)
	assert.Equal(t, RunOutcomeOK, rec.Outcome)
	assert.Equal(t, counts, rec.Counts)
	assert.Equal(t, "corr-1", rec.CorrelationID)
	assert.Equal(t, started.Add(4*time.Second), rec.FinishedAt)
}

func TestJournalRecentOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, j.Begin(ctx, RunRecord{
			ID:         id,
			Kind:       "preview",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			Mode:       "both",
			CalendarID: "primary",
		}))
	}

	recent, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "run-c", recent[0].ID)
	assert.Equal(t, "run-b", recent[1].ID)
}

func TestJournalLastFiltersByKind(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Begin(ctx, RunRecord{ID: "p1", Kind: "preview", StartedAt: base, Mode: "both", CalendarID: "primary"}))
	require.NoError(t, j.Begin(ctx, RunRecord{ID: "a1", Kind: "apply", StartedAt: base.Add(time.Minute), Mode: "both", CalendarID: "primary"}))

	rec, ok, err := j.Last(ctx, "preview")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1", rec.ID)

	_, ok, err = j.Last(ctx, "nothing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJournalNilReceiverIsSafe(t *testing.T) {
	ctx := context.Background()
	var j *RunJournal
	assert.NoError(t, j.Begin(ctx, RunRecord{ID: "x"}))
	assert.NoError(t, j.Finish(ctx, "x", RunCounts{}, RunOutcomeOK, "", time.Now()))
	_, ok, err := j.Last(ctx, "")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, j.Close())
}

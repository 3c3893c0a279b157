package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fppkit/calbridge/internal/intent"
)

func showEvent(t *testing.T, target, startDate, endDate string) *intent.ManifestEvent {
	t.Helper()
	tm := intent.Timing{
		StartDate: intent.HardDate(intent.DatePattern(startDate)),
		EndDate:   intent.HardDate(intent.DatePattern(endDate)),
		StartTime: intent.MustHardTime("18:00"),
		EndTime:   intent.MustHardTime("22:00"),
		Timezone:  "America/New_York",
	}
	ev := &intent.ManifestEvent{
		SubEvents: []intent.SubEvent{{
			Type:     intent.PlaylistEvent,
			Target:   target,
			Timing:   tm,
			Behavior: intent.Behavior{Enabled: true},
			Role:     intent.BaseRole,
			BundleID: intent.BundleIDFor(tm.StartDate, tm.EndDate),
		}},
		Ownership: intent.Ownership{Managed: true, Controller: "calendar"},
	}
	require.NoError(t, ev.Finalize())
	return ev
}

func manifestOf(t *testing.T, events ...*intent.ManifestEvent) *intent.Manifest {
	t.Helper()
	m := intent.NewManifest("test")
	for _, ev := range events {
		require.NoError(t, m.Add(ev))
	}
	return m
}

func TestComputeClassifiesOperations(t *testing.T) {
	kept := showEvent(t, "Main Show", "2026-02-01", "2026-02-28")
	moved := showEvent(t, "Moved Show", "2026-03-01", "2026-03-31")
	added := showEvent(t, "New Show", "2026-04-01", "2026-04-30")
	removed := showEvent(t, "Old Show", "2026-01-01", "2026-01-31")

	movedBefore := showEvent(t, "Moved Show", "2026-03-05", "2026-03-31")
	require.Equal(t, moved.IdentityHash, movedBefore.IdentityHash,
		"a date shift keeps the identity")
	require.NotEqual(t, moved.StateHash, movedBefore.StateHash)

	desired := manifestOf(t, kept, moved, added)
	current := manifestOf(t, showEvent(t, "Main Show", "2026-02-01", "2026-02-28"), movedBefore, removed)

	res, err := Compute(desired, current)
	require.NoError(t, err)

	require.Len(t, res.Creates, 1)
	assert.Equal(t, added.IdentityHash, res.Creates[0].IdentityHash)
	assert.Nil(t, res.Creates[0].Current)

	require.Len(t, res.Updates, 1)
	assert.Equal(t, moved.IdentityHash, res.Updates[0].IdentityHash)
	assert.Same(t, moved, res.Updates[0].Desired)
	assert.Same(t, movedBefore, res.Updates[0].Current)

	require.Len(t, res.Deletes, 1)
	assert.Equal(t, removed.IdentityHash, res.Deletes[0].IdentityHash)
	assert.Nil(t, res.Deletes[0].Desired)

	require.Len(t, res.Unchanged, 1)
	assert.Equal(t, kept.IdentityHash, res.Unchanged[0].IdentityHash)

	assert.False(t, res.Empty())
	assert.Equal(t, Counts{Creates: 1, Updates: 1, Deletes: 1, Unchanged: 1}, res.Counts())
}

func TestComputeOrderOnlyChangeIsAnUpdate(t *testing.T) {
	a := showEvent(t, "Main Show", "2026-02-01", "2026-02-28")
	b := showEvent(t, "Main Show", "2026-02-01", "2026-02-28")
	b.SubEvents[0].ExecutionOrder = 5
	require.NoError(t, b.Finalize())

	res, err := Compute(manifestOf(t, a), manifestOf(t, b))
	require.NoError(t, err)
	require.Len(t, res.Updates, 1)
	assert.Empty(t, res.Unchanged)
}

func TestComputeSortsByIdentityHash(t *testing.T) {
	evs := []*intent.ManifestEvent{
		showEvent(t, "Show A", "2026-02-01", "2026-02-28"),
		showEvent(t, "Show B", "2026-03-01", "2026-03-31"),
		showEvent(t, "Show C", "2026-04-01", "2026-04-30"),
	}
	res, err := Compute(manifestOf(t, evs...), nil)
	require.NoError(t, err)
	require.Len(t, res.Creates, 3)
	for i := 1; i < len(res.Creates); i++ {
		assert.Less(t, res.Creates[i-1].IdentityHash, res.Creates[i].IdentityHash)
	}
}

func TestComputeEmptySides(t *testing.T) {
	res, err := Compute(nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Empty())

	only := showEvent(t, "Main Show", "2026-02-01", "2026-02-28")
	res, err = Compute(nil, manifestOf(t, only))
	require.NoError(t, err)
	require.Len(t, res.Deletes, 1)
}

func TestComputeIdenticalManifestsAreClean(t *testing.T) {
	a := manifestOf(t, showEvent(t, "Main Show", "2026-02-01", "2026-02-28"))
	b := manifestOf(t, showEvent(t, "Main Show", "2026-02-01", "2026-02-28"))
	res, err := Compute(a, b)
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Len(t, res.Unchanged, 1)
}

func TestComputeRejectsCorruptManifest(t *testing.T) {
	ev := showEvent(t, "Main Show", "2026-02-01", "2026-02-28")
	twin := showEvent(t, "Main Show", "2026-02-01", "2026-02-28")

	corrupt := intent.NewManifest("test")
	corrupt.Events[ev.IdentityHash] = ev
	corrupt.Events["someplace-else"] = twin

	_, err := Compute(corrupt, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateIdentity)

	misfiled := intent.NewManifest("test")
	misfiled.Events["wrong-key"] = ev
	_, err = Compute(nil, misfiled)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filed under")
}

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fppkit/calbridge/internal/intent"
	"github.com/fppkit/calbridge/internal/provider"
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

func TestPathsLayout(t *testing.T) {
	p := NewPaths("/var/lib/calbridge")
	assert.Equal(t, "/var/lib/calbridge/manifest.json", p.Manifest())
	assert.Equal(t, "/var/lib/calbridge/runtime/tombstones.json", p.Tombstones())
	assert.Equal(t, "/var/lib/calbridge/runtime/fpp-times.json", p.FppTimes())
	assert.Equal(t, "/var/lib/calbridge/runtime/calendar-snapshot.json", p.Snapshot())
	assert.Equal(t, "/var/lib/calbridge/runtime/settings.json", p.Settings())
	assert.Equal(t, "/var/lib/calbridge/runtime/journal.db", p.Journal())
	assert.Equal(t, "/var/lib/calbridge/runtime/run.lock", p.RunLock())
	assert.Equal(t, "/var/lib/calbridge/runtime/token.json", p.Token())
}

func TestManifestStoreRoundTrip(t *testing.T) {
	s := NewManifestStore(filepath.Join(t.TempDir(), "manifest.json"))

	first, err := s.Load()
	require.NoError(t, err)
	assert.Zero(t, first.Len(), "missing file loads as an empty manifest")

	ev := showEvent(t, "Main Show", "2026-12-01", "2026-12-26")
	m := intent.NewManifest("sync")
	require.NoError(t, m.Add(ev))
	m.GeneratedAt = 1767225600
	require.NoError(t, s.Save(m))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())
	got, ok := loaded.Get(ev.IdentityHash)
	require.True(t, ok)
	assert.Equal(t, ev.IdentityHash, got.IdentityHash)
	assert.Equal(t, ev.StateHash, got.StateHash, "hashes survive the round trip")
	assert.Equal(t, int64(1767225600), loaded.GeneratedAt)
}

func TestManifestStoreSaveIsByteStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	s := NewManifestStore(path)

	m := intent.NewManifest("sync")
	require.NoError(t, m.Add(showEvent(t, "B Show", "2026-03-01", "2026-03-31")))
	require.NoError(t, m.Add(showEvent(t, "A Show", "2026-02-01", "2026-02-28")))
	m.GeneratedAt = 100

	require.NoError(t, s.Save(m))
	one, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, s.Save(m))
	two, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, one, two)
}

func TestManifestStoreRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := NewManifestStore(path).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)

	// an event filed under the wrong identity must not load either
	ev := showEvent(t, "Main Show", "2026-12-01", "2026-12-26")
	m := intent.NewManifest("sync")
	m.Events["0000000000000000000000000000dead"] = ev
	require.NoError(t, writeJSON(path, m))
	_, err = NewManifestStore(path).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestTombstoneStoreRoundTrip(t *testing.T) {
	s := NewTombstoneStore(filepath.Join(t.TempDir(), "tombstones.json"))

	empty, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, empty.Sources.Calendar)
	assert.Empty(t, empty.Sources.Fpp)

	ts := NewTombstones()
	ts.MarkCalendar("primary::abc123", 1700000000)
	ts.MarkFpp("abc123", 1700000001)
	require.NoError(t, s.Save(ts, 1700000002))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, TombstoneVersion, loaded.Version)
	assert.Equal(t, int64(1700000002), loaded.GeneratedAt)
	assert.Equal(t, int64(1700000000), loaded.Sources.Calendar["primary::abc123"])
	assert.Equal(t, int64(1700000001), loaded.Sources.Fpp["abc123"])

	loaded.Expire([]string{"primary::abc123", "primary::unknown"}, []string{"abc123"})
	assert.Empty(t, loaded.Sources.Calendar)
	assert.Empty(t, loaded.Sources.Fpp)
}

func TestTimestampStoreAbsorb(t *testing.T) {
	s := NewTimestampStore(filepath.Join(t.TempDir(), "fpp-times.json"))

	ts, err := s.Load()
	require.NoError(t, err)
	ts.Identity["old"] = 100
	ts.Identity["gone"] = 100
	ts.State["state-old"] = 100

	ts.Absorb(
		map[string]int64{"old": 200, "new": 200},
		map[string]int64{"state-new": 200},
		[]string{"gone"},
	)
	assert.Equal(t, map[string]int64{"old": 200, "new": 200}, ts.Identity)
	assert.Equal(t, map[string]int64{"state-new": 200}, ts.State,
		"a schedule write replaces the state stamps")

	require.NoError(t, s.Save(ts))
	back, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, ts.Identity, back.Identity)
	assert.Equal(t, ts.State, back.State)
}

func TestTimestampStoreCorruptFileComesBackEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fpp-times.json")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))

	ts, err := NewTimestampStore(path).Load()
	require.Error(t, err)
	require.NotNil(t, ts, "authority falls back to the file mtime")
	assert.Empty(t, ts.Identity)
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	s := NewSnapshotStore(filepath.Join(t.TempDir(), "calendar-snapshot.json"))

	none, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, none)

	snap := &Snapshot{
		CalendarID:  "primary",
		Provider:    "google",
		GeneratedAt: 1700000000,
		Events: []provider.RawEvent{
			{ID: "ev1", UID: "uid-1", Summary: "Main Show"},
		},
	}
	require.NoError(t, s.Save(snap))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "primary", loaded.CalendarID)
	require.Len(t, loaded.Events, 1)
	assert.Equal(t, "uid-1", loaded.Events[0].UID)
	assert.Equal(t, int64(360), loaded.AgeSeconds(1700000360))
	assert.Equal(t, int64(0), loaded.AgeSeconds(1699999999))
}

func TestSettingsStoreRoundTrip(t *testing.T) {
	s := NewSettingsStore(filepath.Join(t.TempDir(), "settings.json"))

	defaults, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, defaults.CalendarID)
	assert.Empty(t, defaults.SyncMode)

	require.NoError(t, s.Save(&RuntimeSettings{
		CalendarID: "shows@example.com",
		SyncMode:   "calendar-to-fpp",
		UpdatedAt:  1700000000,
	}))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "shows@example.com", loaded.CalendarID)
	assert.Equal(t, "calendar-to-fpp", loaded.SyncMode)
	assert.Equal(t, int64(1700000000), loaded.UpdatedAt)
}

func TestWriteJSONCreatesParentAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "state.json")
	require.NoError(t, writeJSON(path, map[string]int{"a": 1}))

	_, err := os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

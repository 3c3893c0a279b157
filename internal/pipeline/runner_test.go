package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fppkit/calbridge/internal/apply"
	"github.com/fppkit/calbridge/internal/authority"
	"github.com/fppkit/calbridge/internal/fpp"
	"github.com/fppkit/calbridge/internal/holiday"
	"github.com/fppkit/calbridge/internal/intent"
	"github.com/fppkit/calbridge/internal/normalize"
	"github.com/fppkit/calbridge/internal/ordering"
	"github.com/fppkit/calbridge/internal/provider"
	"github.com/fppkit/calbridge/internal/reconcile"
	"github.com/fppkit/calbridge/internal/resolution"
	"github.com/fppkit/calbridge/internal/store"
)

// fakeCalendar is an in-memory provider.Client. Updates of unknown ids
// are upserts, the way instance rows behave on the real service, and a
// mismatched etag fails the precondition.
type fakeCalendar struct {
	mu      sync.Mutex
	events  map[string]provider.RawEvent
	listErr error
	nextID  int

	lists, inserts, updates, deletes int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: make(map[string]provider.RawEvent)}
}

func (c *fakeCalendar) Name() string { return "fake" }

func (c *fakeCalendar) put(ev provider.RawEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[ev.ID] = ev
}

func (c *fakeCalendar) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.events, id)
}

func (c *fakeCalendar) get(id string) (provider.RawEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[id]
	return ev, ok
}

func (c *fakeCalendar) ListEvents(_ context.Context, _ string, _ provider.ListOptions) ([]provider.RawEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	c.lists++
	ids := make([]string, 0, len(c.events))
	for id := range c.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]provider.RawEvent, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.events[id])
	}
	return out, nil
}

func (c *fakeCalendar) InsertEvent(_ context.Context, _ string, ev *provider.RawEvent) (*provider.RawEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.inserts++
	cp := *ev
	cp.ID = fmt.Sprintf("gen-%d", c.nextID)
	cp.ETag = fmt.Sprintf(`"rev-%d"`, c.nextID)
	cp.Updated = time.Now().UTC().Format(time.RFC3339)
	c.events[cp.ID] = cp
	return &cp, nil
}

func (c *fakeCalendar) UpdateEvent(_ context.Context, _ string, ev *provider.RawEvent) (*provider.RawEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stored, ok := c.events[ev.ID]; ok && ev.ETag != "" && stored.ETag != ev.ETag {
		return nil, fmt.Errorf("update %s: %w", ev.ID, provider.ErrPreconditionFailed)
	}
	c.nextID++
	c.updates++
	cp := *ev
	cp.ETag = fmt.Sprintf(`"rev-%d"`, c.nextID)
	cp.Updated = time.Now().UTC().Format(time.RFC3339)
	c.events[cp.ID] = cp
	return &cp, nil
}

func (c *fakeCalendar) DeleteEvent(_ context.Context, _ string, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.events[eventID]; !ok {
		return fmt.Errorf("delete %s: %w", eventID, provider.ErrNotFound)
	}
	c.deletes++
	delete(c.events, eventID)
	return nil
}

func (c *fakeCalendar) Calendars(_ context.Context) ([]provider.CalendarInfo, error) {
	return []provider.CalendarInfo{{ID: "cal-1", Summary: "Show Calendar", Primary: true}}, nil
}

// showMaster is a daily December show with a settings block. Its update
// stamp sits far in the past so a fresh file mtime outranks it.
func showMaster() provider.RawEvent {
	return provider.RawEvent{
		ID:          "evt-main",
		Summary:     "Main Show",
		Description: "[settings]\ntype = playlist\nrepeat = immediate",
		Start:       &provider.EventTime{DateTime: "2026-12-01T18:00:00-05:00", TimeZone: "America/New_York"},
		End:         &provider.EventTime{DateTime: "2026-12-01T22:00:00-05:00", TimeZone: "America/New_York"},
		Recurrence:  []string{"RRULE:FREQ=DAILY;UNTIL=20261231"},
		Updated:     "2024-03-01T10:00:00Z",
		ETag:        `"v1"`,
	}
}

const seedSchedule = `[
  {
    "enabled": 1,
    "type": "playlist",
    "target": "Background Loop",
    "startTime": "08:00:00",
    "endTime": "17:00:00",
    "startDate": "2026-01-01",
    "endDate": "2026-12-31",
    "dayEnum": 7,
    "repeat": 1,
    "stopType": 0,
    "playlist": "legacy-field"
  }
]
`

type pipeHarness struct {
	t        *testing.T
	client   *fakeCalendar
	deps     Deps
	journal  *store.RunJournal
	schedule string
	paths    store.Paths
}

func newPipeHarness(t *testing.T, mode reconcile.SyncMode) *pipeHarness {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	hol := holiday.MustResolver()

	dir := t.TempDir()
	schedule := filepath.Join(dir, "schedule.json")
	require.NoError(t, os.WriteFile(schedule, []byte(seedSchedule), 0o644))
	paths := store.NewPaths(filepath.Join(dir, "state"))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := newFakeCalendar()
	client.put(showMaster())

	journal, err := store.OpenJournal(context.Background(), paths.Journal())
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	writer := fpp.NewWriter(schedule, logger)
	applier := apply.New(writer, client, apply.NewComposer(loc, hol), ordering.New(nil, hol, loc), "cal-1", logger)

	deps := Deps{
		Logger:       logger,
		Client:       client,
		Resolver:     resolution.New(loc),
		Normalizer:   normalize.New(loc, hol, "fake"),
		Orderer:      ordering.New(nil, hol, loc),
		Applier:      applier,
		SchedulePath: schedule,
		TZName:       "America/New_York",
		Holidays:     hol,
		Manifests:    store.NewManifestStore(paths.Manifest()),
		Tombstones:   store.NewTombstoneStore(paths.Tombstones()),
		Stamps:       store.NewTimestampStore(paths.FppTimes()),
		Snapshots:    store.NewSnapshotStore(paths.Snapshot()),
		Journal:      journal,
		RunLockPath:  paths.RunLock(),
		CalendarID:   "cal-1",
		ProviderName: "fake",
		Mode:         mode,
	}
	return &pipeHarness{t: t, client: client, deps: deps, journal: journal, schedule: schedule, paths: paths}
}

func (h *pipeHarness) runner() *Runner { return NewRunner(h.deps) }

func (h *pipeHarness) readRows() []fpp.ScheduleEntry {
	h.t.Helper()
	rows, _, err := fpp.ReadSchedule(h.schedule)
	require.NoError(h.t, err)
	return rows
}

func (h *pipeHarness) managedRows() []fpp.ScheduleEntry {
	var out []fpp.ScheduleEntry
	for _, row := range h.readRows() {
		if row.Managed() {
			out = append(out, row)
		}
	}
	return out
}

func TestPreviewPlansImportWithoutSideEffects(t *testing.T) {
	h := newPipeHarness(t, reconcile.ModeBoth)
	before, err := os.ReadFile(h.schedule)
	require.NoError(t, err)

	res, err := h.runner().Preview(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Plan)
	assert.NotEmpty(t, res.RunID)

	counts := res.Plan.Counts()
	assert.Equal(t, 1, counts.Creates)
	assert.Equal(t, 1, counts.Noops)
	assert.Zero(t, counts.Conflicts)
	assert.Zero(t, counts.Blocked)

	exec := res.Plan.Executable()
	require.Len(t, exec, 1)
	assert.Equal(t, reconcile.OpCreate, exec[0].Op)
	assert.Equal(t, "Main Show", exec[0].Event.Identity.Target)

	// preview must not touch the schedule or the synced state
	after, err := os.ReadFile(h.schedule)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, err = os.Stat(h.paths.Manifest())
	assert.True(t, os.IsNotExist(err))

	// the provider snapshot cache is the one thing it refreshes
	snap, err := h.deps.Snapshots.Load()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "cal-1", snap.CalendarID)
	require.Len(t, snap.Events, 1)
}

func TestApplyImportsAndRepreviewIsEmpty(t *testing.T) {
	h := newPipeHarness(t, reconcile.ModeBoth)
	ctx := context.Background()

	res, out, err := h.runner().Apply(ctx, ApplyOptions{})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.FppWritten)
	assert.Zero(t, out.CalendarWrites)

	rows := h.readRows()
	require.Len(t, rows, 2)
	assert.False(t, rows[0].Managed(), "unmanaged row keeps its slot")
	assert.Equal(t, "Background Loop", rows[0].Target)
	require.True(t, rows[1].Managed())
	assert.Equal(t, "Main Show", rows[1].Target)
	assert.Equal(t, "evt-main", rows[1].Provenance.UID)
	assert.Equal(t, "cal-1", rows[1].Provenance.Calendar)
	assert.Equal(t, "18:00:00", rows[1].StartTime)
	assert.Equal(t, "22:00:00", rows[1].EndTime)
	assert.Equal(t, "2026-12-01", rows[1].StartDate)
	assert.Equal(t, "2026-12-31", rows[1].EndDate)

	// unknown keys on the untouched row survive the rewrite
	raw, err := os.ReadFile(h.schedule)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "legacy-field")

	_, err = os.Stat(filepath.Join(filepath.Dir(h.schedule), fpp.BackupName))
	require.NoError(t, err)

	// synced state recorded the event with its provider correlation
	current, err := h.deps.Manifests.Load()
	require.NoError(t, err)
	require.Equal(t, 1, current.Len())
	for _, ev := range current.Sorted() {
		assert.Equal(t, "evt-main", ev.Correlation.ExternalID)
		assert.Equal(t, "cal-1", ev.Correlation.CalendarID)
		assert.True(t, ev.Ownership.Managed)
	}
	assert.Equal(t, out.AppliedAtEpoch, current.GeneratedAt)

	// write stamps cover the managed identity and its state
	stamps, err := h.deps.Stamps.Load()
	require.NoError(t, err)
	assert.Len(t, stamps.Identity, 1)
	assert.Len(t, stamps.State, 1)

	again, err := h.runner().Preview(ctx)
	require.NoError(t, err)
	assert.True(t, again.Plan.Empty(), "apply then preview must converge: %+v", again.Plan.Counts())
	assert.Empty(t, again.Unresolved)

	assert.Equal(t, 1, res.Plan.Counts().Creates)

	// the journal saw both runs
	recs, err := h.journal.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, RunKindPreview, recs[0].Kind)
	assert.Equal(t, RunKindApply, recs[1].Kind)
	for _, rec := range recs {
		assert.Equal(t, store.RunOutcomeOK, rec.Outcome)
	}

	_, out2, err := h.runner().Apply(ctx, ApplyOptions{})
	require.NoError(t, err)
	assert.False(t, out2.FppWritten, "an in-sync apply writes nothing")
}

func TestCalendarRemovalDeletesManagedRows(t *testing.T) {
	h := newPipeHarness(t, reconcile.ModeBoth)
	ctx := context.Background()

	_, _, err := h.runner().Apply(ctx, ApplyOptions{})
	require.NoError(t, err)
	require.Len(t, h.managedRows(), 1)

	h.client.remove("evt-main")

	res, err := h.runner().Preview(ctx)
	require.NoError(t, err)
	exec := res.Plan.Executable()
	require.Len(t, exec, 1)
	assert.Equal(t, reconcile.OpDelete, exec[0].Op)
	assert.Equal(t, reconcile.ReasonTombstone, exec[0].Reason)

	_, out, err := h.runner().Apply(ctx, ApplyOptions{})
	require.NoError(t, err)
	assert.True(t, out.FppWritten)
	require.Len(t, out.CalendarTombstones, 1)

	rows := h.readRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Background Loop", rows[0].Target)

	tombs, err := h.deps.Tombstones.Load()
	require.NoError(t, err)
	key := reconcile.ScopedKey("cal-1", out.CalendarTombstones[0])
	assert.Contains(t, tombs.Sources.Calendar, key)

	current, err := h.deps.Manifests.Load()
	require.NoError(t, err)
	assert.Zero(t, current.Len())

	again, err := h.runner().Preview(ctx)
	require.NoError(t, err)
	assert.True(t, again.Plan.Empty())
}

func TestManualScheduleEditExportsToCalendar(t *testing.T) {
	h := newPipeHarness(t, reconcile.ModeBoth)
	ctx := context.Background()

	_, _, err := h.runner().Apply(ctx, ApplyOptions{})
	require.NoError(t, err)

	// hand-edit the managed row: push the end time out an hour, and
	// make the file strictly newer than the recorded write stamp
	rows := h.readRows()
	edited := false
	for i := range rows {
		if rows[i].Managed() {
			rows[i].EndTime = "23:00:00"
			edited = true
		}
	}
	require.True(t, edited)
	data, err := json.MarshalIndent(rows, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(h.schedule, data, 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(h.schedule, future, future))

	res, err := h.runner().Preview(ctx)
	require.NoError(t, err)
	counts := res.Plan.Counts()
	assert.Equal(t, 1, counts.Deletes, "old shape leaves the calendar")
	assert.Equal(t, 1, counts.Creates, "edited shape is exported")
	assert.Zero(t, counts.Conflicts)
	for _, it := range res.Plan.Executable() {
		assert.Equal(t, authority.FppSide, it.AuthoritativeSide)
	}

	_, out, err := h.runner().Apply(ctx, ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.CalendarWrites)
	assert.False(t, out.FppWritten, "the player file was the source, not the target")
	assert.Equal(t, 1, h.client.deletes)
	assert.Equal(t, 1, h.client.inserts)

	_, stillThere := h.client.get("evt-main")
	assert.False(t, stillThere)
	exported, ok := h.client.get("gen-1")
	require.True(t, ok)
	assert.Equal(t, "Main Show", exported.Summary)
	require.NotNil(t, exported.End)
	assert.Contains(t, exported.End.DateTime, "23:00:00")
	assert.Equal(t, provider.ManagedMarkerValue, exported.Private[provider.ManagedMarkerKey])

	again, err := h.runner().Preview(ctx)
	require.NoError(t, err)
	assert.True(t, again.Plan.Empty(), "export must round-trip: %+v", again.Plan.Counts())
}

func TestSyncModeGatesExport(t *testing.T) {
	h := newPipeHarness(t, reconcile.ModeCalendarToFpp)
	ctx := context.Background()

	// a managed player-only row: someone authored it on the player side
	localRow := json.RawMessage(`{
		"enabled": 1,
		"type": "sequence",
		"target": "House Lights",
		"startTime": "19:00:00",
		"endTime": "21:00:00",
		"startDate": "2026-12-05",
		"endDate": "2026-12-05",
		"dayEnum": 7,
		"repeat": 0,
		"stopType": 0,
		"calbridge": {"uid": "local-1", "bundle": "2026-12-05..2026-12-05", "role": "base", "source": "local-1"}
	}`)
	var seed []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(seedSchedule), &seed))
	seed = append(seed, localRow)
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(h.schedule, data, 0o644))

	res, err := h.runner().Preview(ctx)
	require.NoError(t, err)
	counts := res.Plan.Counts()
	assert.Equal(t, 2, counts.Creates)
	assert.Equal(t, 1, counts.Blocked)
	blocked := res.Plan.BlockedItems()
	require.Len(t, blocked, 1)
	assert.Equal(t, "House Lights", blocked[0].Event.Identity.Target)

	_, _, err = h.runner().Apply(ctx, ApplyOptions{FailOnBlocked: true})
	require.ErrorIs(t, err, apply.ErrBlockedRemain)

	_, out, err := h.runner().Apply(ctx, ApplyOptions{})
	require.NoError(t, err)
	assert.True(t, out.FppWritten)
	assert.Zero(t, out.CalendarWrites)
	assert.Zero(t, h.client.inserts, "gated export must not reach the provider")

	// the local row survives untouched and the import landed
	targets := make([]string, 0, 3)
	for _, row := range h.readRows() {
		targets = append(targets, row.Target)
	}
	assert.ElementsMatch(t, []string{"Background Loop", "House Lights", "Main Show"}, targets)

	// the gated identity must not enter the synced state: recording it
	// would read as "deleted remotely" on a later bidirectional run
	current, err := h.deps.Manifests.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, current.Len())

	again, err := h.runner().Preview(ctx)
	require.NoError(t, err)
	assert.True(t, again.Plan.Empty())
	assert.Equal(t, 1, again.Plan.Counts().Blocked, "the export stays gated, not forgotten")
}

func TestPreviewStaleSnapshotFallback(t *testing.T) {
	h := newPipeHarness(t, reconcile.ModeBoth)
	ctx := context.Background()

	t.Run("unreachable without cache fails", func(t *testing.T) {
		h.deps.AllowStale = true
		defer func() { h.deps.AllowStale = false }()
		h.client.listErr = provider.ErrUnavailable
		defer func() { h.client.listErr = nil }()

		_, err := h.runner().Preview(ctx)
		require.ErrorIs(t, err, ErrStaleRefused)
	})

	t.Run("unreachable with cache degrades", func(t *testing.T) {
		_, err := h.runner().Preview(ctx)
		require.NoError(t, err)

		h.client.listErr = provider.ErrUnavailable
		defer func() { h.client.listErr = nil }()

		_, err = h.runner().Preview(ctx)
		require.Error(t, err, "stale reads are opt-in")

		h.deps.AllowStale = true
		defer func() { h.deps.AllowStale = false }()
		res, err := h.runner().Preview(ctx)
		require.NoError(t, err)
		assert.True(t, res.Stale)
		assert.GreaterOrEqual(t, res.SnapshotAge, int64(0))
		assert.Equal(t, 1, res.Plan.Counts().Creates)
	})

	t.Run("apply never uses the cache", func(t *testing.T) {
		h.deps.AllowStale = true
		defer func() { h.deps.AllowStale = false }()
		h.client.listErr = provider.ErrUnavailable
		defer func() { h.client.listErr = nil }()

		_, _, err := h.runner().Apply(ctx, ApplyOptions{})
		require.ErrorIs(t, err, provider.ErrUnavailable)
	})
}

func TestApplyRefusesConcurrentRun(t *testing.T) {
	h := newPipeHarness(t, reconcile.ModeBoth)

	held, err := acquireRunLock(h.deps.RunLockPath)
	require.NoError(t, err)
	defer held.release()

	_, _, err = h.runner().Apply(context.Background(), ApplyOptions{})
	require.ErrorIs(t, err, ErrConcurrentRun)
}

func TestUnresolvedSeriesCarriesForward(t *testing.T) {
	h := newPipeHarness(t, reconcile.ModeBoth)
	ctx := context.Background()

	_, _, err := h.runner().Apply(ctx, ApplyOptions{})
	require.NoError(t, err)

	// the series now fails to resolve; its last synced state must hold
	// the line so nothing reads the failure as a deletion
	broken := showMaster()
	broken.Description = "[settings]\ntype = interpretive_dance"
	h.client.put(broken)

	res, err := h.runner().Preview(ctx)
	require.NoError(t, err)
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, "evt-main", res.Unresolved[0].UID)
	assert.Equal(t, "invalid_settings", res.Unresolved[0].Code)
	assert.True(t, res.Plan.Empty(), "carry-forward keeps the plan quiet: %+v", res.Plan.Counts())
	require.Len(t, h.managedRows(), 1)
}

func TestDryRunTouchesNothing(t *testing.T) {
	h := newPipeHarness(t, reconcile.ModeBoth)
	ctx := context.Background()
	before, err := os.ReadFile(h.schedule)
	require.NoError(t, err)

	res, out, err := h.runner().Apply(ctx, ApplyOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, out.DryRun)
	assert.False(t, out.FppWritten)
	assert.Equal(t, 1, res.Plan.Counts().Creates)

	after, err := os.ReadFile(h.schedule)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, err = os.Stat(h.paths.Manifest())
	assert.True(t, os.IsNotExist(err), "dry run persists no state")

	// the real apply still sees the full plan afterwards
	_, out, err = h.runner().Apply(ctx, ApplyOptions{})
	require.NoError(t, err)
	assert.True(t, out.FppWritten)
}

func TestApplyOptionsPolicy(t *testing.T) {
	pol := ApplyOptions{FppOnly: true}.policy()
	assert.True(t, pol.Fpp)
	assert.False(t, pol.Calendar)

	pol = ApplyOptions{CalendarOnly: true, DryRun: true}.policy()
	assert.False(t, pol.Fpp)
	assert.True(t, pol.Calendar)
	assert.True(t, pol.DryRun)

	pol = ApplyOptions{FailOnBlocked: true}.policy()
	assert.True(t, pol.Fpp)
	assert.True(t, pol.Calendar)
	assert.True(t, pol.FailOnBlocked)
}

func TestFppEpochsPreferStamps(t *testing.T) {
	stamps := store.NewTimestamps()
	stamps.Identity["id-1"] = 1000
	stamps.State["state-1"] = 1000

	mtime := time.Unix(2000, 0)

	// state hash still matches: the write epoch stands even though the
	// file was touched afterwards
	assert.Equal(t, int64(1000), epochFor("id-1", "state-1", stamps, mtime.Unix()))

	// state changed and the file is newer than our write: manual edit
	assert.Equal(t, int64(2000), epochFor("id-1", "state-x", stamps, mtime.Unix()))

	// state changed but the file is no newer than the stamp: our write
	assert.Equal(t, int64(1000), epochFor("id-1", "state-x", stamps, 900))

	// unknown identity falls back to mtime
	assert.Equal(t, mtime.Unix(), epochFor("id-9", "state-9", stamps, mtime.Unix()))
}

func TestFppEpochsCoverDeletedIdentities(t *testing.T) {
	tm := intent.Timing{
		StartDate: intent.HardDate(intent.DatePattern("2026-12-01")),
		EndDate:   intent.HardDate(intent.DatePattern("2026-12-31")),
		StartTime: intent.MustHardTime("18:00"),
		EndTime:   intent.MustHardTime("22:00"),
		Timezone:  "America/New_York",
	}
	gone := &intent.ManifestEvent{
		SubEvents: []intent.SubEvent{{
			Type:     intent.PlaylistEvent,
			Target:   "Gone Show",
			Timing:   tm,
			Behavior: intent.Behavior{Enabled: true},
			Role:     intent.BaseRole,
			BundleID: intent.BundleIDFor(tm.StartDate, tm.EndDate),
		}},
		Ownership:   intent.Ownership{Managed: true, Controller: "calendar"},
		Correlation: intent.Correlation{Source: "calendar", ExternalID: "evt-gone", CalendarID: "cal-1"},
	}
	current := intent.NewManifest("sync")
	require.NoError(t, current.Add(gone))

	// the identity only exists in the synced state: the row is gone
	// from the file, and the deletion is as old as the file itself
	mtime := time.Unix(5000, 0)
	epochs := fppEpochs(intent.NewManifest("fpp"), current, store.NewTimestamps(), mtime)
	require.Len(t, epochs, 1)
	assert.Equal(t, int64(5000), epochs[gone.IdentityHash])
}

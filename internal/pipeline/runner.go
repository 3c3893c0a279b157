package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fppkit/calbridge/internal/apply"
	"github.com/fppkit/calbridge/internal/fpp"
	"github.com/fppkit/calbridge/internal/holiday"
	"github.com/fppkit/calbridge/internal/ingest"
	"github.com/fppkit/calbridge/internal/intent"
	"github.com/fppkit/calbridge/internal/normalize"
	"github.com/fppkit/calbridge/internal/ordering"
	"github.com/fppkit/calbridge/internal/provider"
	"github.com/fppkit/calbridge/internal/reconcile"
	"github.com/fppkit/calbridge/internal/resolution"
	"github.com/fppkit/calbridge/internal/store"
	"github.com/fppkit/calbridge/pkg/observability"
)

// Journal run kinds.
const (
	RunKindPreview = "preview"
	RunKindApply   = "apply"
)

// Deps are the runner's collaborators, wired once per run
// configuration.
type Deps struct {
	Logger     *slog.Logger
	Client     provider.Client
	Resolver   *resolution.Resolver
	Normalizer *normalize.Normalizer
	Orderer    *ordering.Engine
	Applier    *apply.Engine

	SchedulePath string
	TZName       string
	Holidays     *holiday.Resolver

	Manifests  *store.ManifestStore
	Tombstones *store.TombstoneStore
	Stamps     *store.TimestampStore
	Snapshots  *store.SnapshotStore
	Journal    *store.RunJournal

	RunLockPath  string
	CalendarID   string
	ProviderName string
	Mode         reconcile.SyncMode
	AllowStale   bool
}

// Diagnostic is one non-fatal observation from any pipeline stage.
type Diagnostic struct {
	Stage   string `json:"stage"`
	Code    string `json:"code"`
	EventID string `json:"eventId,omitempty"`
	Detail  string `json:"detail"`
}

// Unresolved names a calendar series this run could not turn into
// intent. Its last synced state is carried forward untouched, so the
// failure shows up here instead of as a phantom delete.
type Unresolved struct {
	UID     string `json:"uid"`
	Summary string `json:"summary,omitempty"`
	Code    string `json:"code"`
	Detail  string `json:"detail"`
}

// RunResult is everything one pass over both sides produced.
type RunResult struct {
	RunID         string
	Plan          *reconcile.Plan
	Calendar      *intent.Manifest
	Fpp           *intent.Manifest
	Current       *intent.Manifest
	ScheduleRows  []fpp.ScheduleEntry
	ScheduleMtime time.Time
	Diagnostics   []Diagnostic
	Unresolved    []Unresolved
	Stale         bool
	SnapshotAge   int64
}

// Details projects the result into envelope details. Both control
// planes report runs through this one shape.
func (res *RunResult) Details() map[string]any {
	details := map[string]any{
		"runId":  res.RunID,
		"counts": res.Plan.Counts(),
		"plan":   res.Plan,
	}
	if len(res.Diagnostics) > 0 {
		details["diagnostics"] = res.Diagnostics
	}
	if len(res.Unresolved) > 0 {
		details["unresolved"] = res.Unresolved
	}
	if res.Stale {
		details["stale"] = true
		details["snapshotAgeSeconds"] = res.SnapshotAge
	}
	return details
}

// ApplyOptions select the write surface of one apply.
type ApplyOptions struct {
	DryRun        bool
	FppOnly       bool
	CalendarOnly  bool
	FailOnBlocked bool
}

func (o ApplyOptions) policy() apply.Policy {
	pol := apply.DefaultPolicy()
	pol.DryRun = o.DryRun
	pol.FailOnBlocked = o.FailOnBlocked
	if o.FppOnly {
		pol.Calendar = false
	}
	if o.CalendarOnly {
		pol.Fpp = false
	}
	return pol
}

// Runner executes the fixed phase ladder: load state, read the
// schedule, refresh the calendar, resolve and normalize, order, plan,
// and for an apply, execute and persist.
type Runner struct {
	d   Deps
	now func() time.Time
}

func NewRunner(d Deps) *Runner {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Runner{d: d, now: time.Now}
}

// WithClock fixes the runner clock.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Preview computes the plan without side effects on sync state. The
// provider snapshot cache is refreshed on success; with AllowStale
// set, an unreachable provider degrades to the cache instead of
// failing.
func (r *Runner) Preview(ctx context.Context) (*RunResult, error) {
	runID := uuid.New().String()
	ctx = observability.WithRunID(ctx, runID)
	r.journalBegin(ctx, runID, RunKindPreview)

	res, err := r.build(ctx, r.d.AllowStale)
	if res != nil {
		res.RunID = runID
	}
	r.journalFinish(ctx, runID, res, err)
	return res, err
}

// Apply recomputes the plan under the run lock and executes it, then
// persists the next synced state. Stale provider reads are never
// allowed here.
func (r *Runner) Apply(ctx context.Context, opts ApplyOptions) (*RunResult, *apply.Outcome, error) {
	runID := uuid.New().String()
	ctx = observability.WithRunID(ctx, runID)

	lock, err := acquireRunLock(r.d.RunLockPath)
	if err != nil {
		return nil, nil, err
	}
	defer lock.release()

	r.journalBegin(ctx, runID, RunKindApply)

	res, err := r.build(ctx, false)
	if res != nil {
		res.RunID = runID
	}
	if err != nil {
		r.journalFinish(ctx, runID, res, err)
		return res, nil, err
	}

	out, err := r.d.Applier.Apply(ctx, apply.Input{
		Plan:         res.Plan,
		Fpp:          res.Fpp,
		Current:      res.Current,
		ScheduleRows: res.ScheduleRows,
	}, opts.policy())
	if err != nil {
		r.journalFinish(ctx, runID, res, err)
		return res, nil, err
	}

	if !opts.DryRun {
		if err := r.persist(res, out); err != nil {
			r.journalFinish(ctx, runID, res, err)
			return res, out, err
		}
	}
	r.journalFinish(ctx, runID, res, nil)
	return res, out, nil
}

// build runs the read-only part of the ladder and yields the plan.
func (r *Runner) build(ctx context.Context, allowStale bool) (*RunResult, error) {
	res := &RunResult{SnapshotAge: -1}

	current, err := r.d.Manifests.Load()
	if err != nil {
		return res, err
	}
	res.Current = current

	rows, mtime, err := fpp.ReadSchedule(r.d.SchedulePath)
	if err != nil {
		return res, err
	}
	res.ScheduleRows, res.ScheduleMtime = rows, mtime

	fppManifest, err := fpp.ReadManifest(rows, r.d.TZName, r.d.Holidays)
	if err != nil {
		return res, err
	}
	res.Fpp = fppManifest

	raw, stale, age, err := r.refresh(ctx, allowStale)
	if err != nil {
		return res, err
	}
	res.Stale, res.SnapshotAge = stale, age

	calManifest, err := r.desiredCalendar(raw, current, res)
	if err != nil {
		return res, err
	}
	res.Calendar = calManifest

	if err := r.orderUnion(calManifest, fppManifest); err != nil {
		return res, err
	}

	tombs, err := r.d.Tombstones.Load()
	if err != nil {
		return res, err
	}
	stamps, err := r.d.Stamps.Load()
	if err != nil {
		r.d.Logger.Warn("player write stamps unreadable, using file mtime only",
			slog.String("error", err.Error()))
	}

	plan, err := reconcile.Build(reconcile.Inputs{
		Calendar:           calManifest,
		Fpp:                fppManifest,
		Current:            current,
		CalendarID:         r.d.CalendarID,
		Mode:               r.d.Mode,
		NowEpoch:           r.now().Unix(),
		FppEpochs:          fppEpochs(fppManifest, current, stamps, mtime),
		CalendarTombstones: tombs.Sources.Calendar,
		FppTombstones:      tombs.Sources.Fpp,
	})
	if err != nil {
		return res, err
	}
	res.Plan = plan
	return res, nil
}

// refresh lists the bound calendar. On success the snapshot cache is
// replaced; on failure the cache is served only when the caller opted
// into stale reads and the cache matches the bound calendar.
func (r *Runner) refresh(ctx context.Context, allowStale bool) ([]provider.RawEvent, bool, int64, error) {
	if r.d.Client == nil {
		return nil, false, -1, fmt.Errorf("%w: no provider client wired", provider.ErrUnsupported)
	}
	now := r.now()
	events, err := r.d.Client.ListEvents(ctx, r.d.CalendarID, provider.ListOptions{ShowDeleted: true})
	if err == nil {
		snap := &store.Snapshot{
			CalendarID:  r.d.CalendarID,
			Provider:    r.d.ProviderName,
			GeneratedAt: now.Unix(),
			Events:      events,
		}
		if serr := r.d.Snapshots.Save(snap); serr != nil {
			r.d.Logger.Warn("snapshot cache not updated", slog.String("error", serr.Error()))
		}
		return events, false, 0, nil
	}
	if !allowStale {
		return nil, false, -1, err
	}
	snap, serr := r.d.Snapshots.Load()
	if serr != nil || snap == nil || snap.CalendarID != r.d.CalendarID {
		return nil, false, -1, fmt.Errorf("%w: no usable snapshot: %v", ErrStaleRefused, err)
	}
	age := snap.AgeSeconds(now.Unix())
	r.d.Logger.Warn("provider unreachable, serving snapshot cache",
		slog.Int64("age_seconds", age),
		slog.String("error", err.Error()))
	return snap.Events, true, age, nil
}

// desiredCalendar turns the raw rows into the calendar-side manifest.
// Series that fail to resolve are reported and their last synced
// state carried forward, never silently dropped.
func (r *Runner) desiredCalendar(raw []provider.RawEvent, current *intent.Manifest, res *RunResult) (*intent.Manifest, error) {
	grouped, err := ingest.Group(raw)
	if err != nil {
		return nil, err
	}
	for _, d := range grouped.Diagnostics {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Stage: "ingest", Code: d.Code, EventID: d.EventID, Detail: d.Detail,
		})
	}

	m := intent.NewManifest("calendar")
	failed := make(map[string]bool)
	report := func(master provider.RawEvent, cause error) {
		f := Classify(cause)
		res.Unresolved = append(res.Unresolved, Unresolved{
			UID:     master.ID,
			Summary: master.Summary,
			Code:    f.Code,
			Detail:  cause.Error(),
		})
		failed[master.ID] = true
	}

	for _, series := range grouped.Series {
		if _, perr := intent.ParseSettings(series.Master.Description); perr != nil {
			if errors.Is(perr, intent.ErrNoSettingsBlock) {
				continue
			}
			report(series.Master, perr)
			continue
		}
		resolved, rerr := r.d.Resolver.Resolve(series)
		if rerr != nil {
			report(series.Master, rerr)
			continue
		}
		for _, d := range resolved.Diagnostics {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Stage: "resolution", Code: d.Code, EventID: series.Master.ID, Detail: d.Detail,
			})
		}
		ev, nerr := r.d.Normalizer.Normalize(resolved, series.Master, r.d.CalendarID)
		if errors.Is(nerr, normalize.ErrNotIntent) {
			continue
		}
		if nerr != nil {
			report(series.Master, nerr)
			continue
		}
		if aerr := m.Add(ev); aerr != nil {
			// two series collapsing onto one identity is a real
			// authoring error; planning on either would be a guess
			return nil, aerr
		}
	}

	if len(failed) > 0 && current != nil {
		for _, ev := range current.Sorted() {
			if ev.Correlation.ExternalID == "" || !failed[ev.Correlation.ExternalID] {
				continue
			}
			if _, exists := m.Get(ev.IdentityHash); exists {
				continue
			}
			if aerr := m.Add(ev.Clone()); aerr != nil {
				return nil, aerr
			}
		}
	}
	return m, nil
}

// orderUnion numbers the calendar manifest canonically. Managed
// player-only identities join the numbering as throwaway clones, so
// the sequence stays stable whether or not those events ever make it
// onto the calendar.
func (r *Runner) orderUnion(cal, fppManifest *intent.Manifest) error {
	if r.d.Orderer == nil {
		return nil
	}
	union := intent.NewManifest("ordering")
	for id, ev := range cal.Events {
		union.Events[id] = ev
	}
	if fppManifest != nil {
		for id, ev := range fppManifest.Events {
			if !ev.Ownership.Managed {
				continue
			}
			if _, ok := union.Events[id]; ok {
				continue
			}
			union.Events[id] = ev.Clone()
		}
	}
	return r.d.Orderer.Order(union)
}

// fppEpochs assigns each player-side identity its authority
// timestamp: the write stamp when the row still matches what the
// bridge wrote, the file mtime once anything touched it afterwards.
func fppEpochs(fppManifest, current *intent.Manifest, stamps *store.Timestamps, mtime time.Time) map[string]int64 {
	if stamps == nil {
		stamps = store.NewTimestamps()
	}
	var mt int64
	if !mtime.IsZero() {
		mt = mtime.Unix()
	}
	epochs := make(map[string]int64)
	if fppManifest != nil {
		for id, ev := range fppManifest.Events {
			epochs[id] = epochFor(id, ev.StateHash, stamps, mt)
		}
	}
	if current != nil {
		// identities missing from the file: the deletion happened no
		// later than the file's mtime
		for id := range current.Events {
			if _, ok := epochs[id]; !ok {
				epochs[id] = mt
			}
		}
	}
	return epochs
}

func epochFor(id, stateHash string, stamps *store.Timestamps, mtime int64) int64 {
	if epoch, ok := stamps.State[stateHash]; ok {
		return epoch
	}
	if epoch, ok := stamps.Identity[id]; ok && mtime <= epoch {
		return epoch
	}
	return mtime
}

// persist writes the post-apply state: next manifest, tombstone
// mutations, and the player write stamps.
func (r *Runner) persist(res *RunResult, out *apply.Outcome) error {
	next := out.NextCurrent
	if next == nil {
		next = res.Current
	}
	next.GeneratedAt = out.AppliedAtEpoch
	if err := r.d.Manifests.Save(next); err != nil {
		return err
	}

	tombs, err := r.d.Tombstones.Load()
	if err != nil {
		return err
	}
	for _, id := range out.CalendarTombstones {
		tombs.MarkCalendar(reconcile.ScopedKey(r.d.CalendarID, id), out.AppliedAtEpoch)
	}
	for _, id := range out.FppTombstones {
		tombs.MarkFpp(id, out.AppliedAtEpoch)
	}
	tombs.Expire(res.Plan.ExpireCalendarTombstones, res.Plan.ExpireFppTombstones)
	if err := r.d.Tombstones.Save(tombs, out.AppliedAtEpoch); err != nil {
		return err
	}

	if len(out.FppStamps) > 0 || len(out.CalendarTombstones) > 0 || len(out.FppTombstones) > 0 {
		stamps, serr := r.d.Stamps.Load()
		if serr != nil {
			stamps = store.NewTimestamps()
		}
		deleted := make([]string, 0, len(out.CalendarTombstones)+len(out.FppTombstones))
		deleted = append(deleted, out.CalendarTombstones...)
		deleted = append(deleted, out.FppTombstones...)
		stamps.Absorb(out.FppStamps, out.FppStateStamps, deleted)
		if err := r.d.Stamps.Save(stamps); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) journalBegin(ctx context.Context, runID, kind string) {
	err := r.d.Journal.Begin(ctx, store.RunRecord{
		ID:            runID,
		Kind:          kind,
		StartedAt:     r.now(),
		Mode:          string(r.d.Mode),
		CalendarID:    r.d.CalendarID,
		CorrelationID: observability.CorrelationIDFromContext(ctx),
	})
	if err != nil {
		r.d.Logger.Warn("run journal unavailable", slog.String("error", err.Error()))
	}
}

func (r *Runner) journalFinish(ctx context.Context, runID string, res *RunResult, runErr error) {
	outcome := store.RunOutcomeOK
	detail := ""
	if runErr != nil {
		outcome = store.RunOutcomeFailed
		detail = runErr.Error()
	}
	var counts store.RunCounts
	if res != nil && res.Plan != nil {
		c := res.Plan.Counts()
		counts = store.RunCounts{
			Creates:   c.Creates,
			Updates:   c.Updates,
			Deletes:   c.Deletes,
			Conflicts: c.Conflicts,
			Blocked:   c.Blocked,
			Noops:     c.Noops,
		}
	}
	if err := r.d.Journal.Finish(ctx, runID, counts, outcome, detail, r.now()); err != nil {
		r.d.Logger.Warn("run journal unavailable", slog.String("error", err.Error()))
	}
}

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fppkit/calbridge/internal/apply"
	"github.com/fppkit/calbridge/internal/fpp"
	"github.com/fppkit/calbridge/internal/pipeline"
	"github.com/fppkit/calbridge/internal/provider"
	"github.com/fppkit/calbridge/internal/provider/oauth"
	"github.com/fppkit/calbridge/internal/reconcile"
	"github.com/fppkit/calbridge/internal/store"
)

// ScheduleStatus summarizes the scheduler file.
type ScheduleStatus struct {
	Path       string `json:"path"`
	Rows       int    `json:"rows"`
	Managed    int    `json:"managed"`
	MtimeEpoch int64  `json:"mtimeEpoch,omitempty"`
}

// StateStatus summarizes the synced state on disk.
type StateStatus struct {
	ManagedIdentities  int   `json:"managedIdentities"`
	GeneratedAtEpoch   int64 `json:"generatedAtEpoch,omitempty"`
	SnapshotAgeSeconds int64 `json:"snapshotAgeSeconds"`
}

// RunSummary is the journal view of one preview or apply.
type RunSummary struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	StartedAtEpoch  int64  `json:"startedAtEpoch"`
	FinishedAtEpoch int64  `json:"finishedAtEpoch,omitempty"`
	Mode            string `json:"mode"`
	CalendarID      string `json:"calendarId"`
	Creates         int    `json:"creates"`
	Updates         int    `json:"updates"`
	Deletes         int    `json:"deletes"`
	Conflicts       int    `json:"conflicts"`
	Blocked         int    `json:"blocked"`
	Noops           int    `json:"noops"`
	Outcome         string `json:"outcome"`
	Detail          string `json:"detail,omitempty"`
	CorrelationID   string `json:"correlationId,omitempty"`
}

func summarizeRun(rec store.RunRecord) RunSummary {
	s := RunSummary{
		ID:             rec.ID,
		Kind:           rec.Kind,
		StartedAtEpoch: rec.StartedAt.Unix(),
		Mode:           rec.Mode,
		CalendarID:     rec.CalendarID,
		Creates:        rec.Counts.Creates,
		Updates:        rec.Counts.Updates,
		Deletes:        rec.Counts.Deletes,
		Conflicts:      rec.Counts.Conflicts,
		Blocked:        rec.Counts.Blocked,
		Noops:          rec.Counts.Noops,
		Outcome:        rec.Outcome,
		Detail:         rec.Detail,
		CorrelationID:  rec.CorrelationID,
	}
	if !rec.FinishedAt.IsZero() {
		s.FinishedAtEpoch = rec.FinishedAt.Unix()
	}
	return s
}

// StatusReport is the operator-facing state summary. It is assembled
// entirely from local files; the provider is never contacted.
type StatusReport struct {
	Provider    string         `json:"provider"`
	CalendarID  string         `json:"calendarId"`
	SyncMode    string         `json:"syncMode"`
	Timezone    string         `json:"timezone"`
	SunTimes    bool           `json:"sunTimes"`
	Schedule    ScheduleStatus `json:"schedule"`
	State       StateStatus    `json:"state"`
	Auth        oauth.Status   `json:"auth"`
	LastPreview *RunSummary    `json:"lastPreview,omitempty"`
	LastApply   *RunSummary    `json:"lastApply,omitempty"`
}

// Status reports the active binding and the health of both sides.
func (c *Container) Status(ctx context.Context) (*StatusReport, error) {
	mode, err := c.SyncMode()
	if err != nil {
		return nil, err
	}

	rep := &StatusReport{
		Provider:   c.ProviderName(),
		CalendarID: c.CalendarID(),
		SyncMode:   string(mode),
		Timezone:   c.Location.String(),
		SunTimes:   c.Sun.Enabled(),
		State:      StateStatus{SnapshotAgeSeconds: -1},
	}

	rows, mtime, err := fpp.ReadSchedule(c.Config.ScheduleFile)
	if err != nil {
		return nil, err
	}
	rep.Schedule = ScheduleStatus{Path: c.Config.ScheduleFile, Rows: len(rows)}
	if !mtime.IsZero() {
		rep.Schedule.MtimeEpoch = mtime.Unix()
	}
	for i := range rows {
		if rows[i].Managed() {
			rep.Schedule.Managed++
		}
	}

	manifest, err := c.Manifests.Load()
	if err != nil {
		return nil, err
	}
	rep.State.ManagedIdentities = manifest.Len()
	rep.State.GeneratedAtEpoch = manifest.GeneratedAt

	if snap, err := c.Snapshots.Load(); err == nil && snap != nil {
		rep.State.SnapshotAgeSeconds = snap.AgeSeconds(time.Now().Unix())
	}

	if svc, err := c.OAuth(); err == nil {
		rep.Auth = svc.Status()
	}

	if rec, ok, err := c.Journal.Last(ctx, pipeline.RunKindPreview); err == nil && ok {
		s := summarizeRun(rec)
		rep.LastPreview = &s
	}
	if rec, ok, err := c.Journal.Last(ctx, pipeline.RunKindApply); err == nil && ok {
		s := summarizeRun(rec)
		rep.LastApply = &s
	}
	return rep, nil
}

// Diagnostics lists the most recent journal entries, newest first.
func (c *Container) Diagnostics(ctx context.Context, limit int) ([]RunSummary, error) {
	recs, err := c.Journal.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summarizeRun(rec))
	}
	return out, nil
}

// Preview computes the reconciliation plan without writing anything.
func (c *Container) Preview(ctx context.Context) (*pipeline.RunResult, error) {
	runner, err := c.Runner(ctx)
	if err != nil {
		return nil, err
	}
	return runner.Preview(ctx)
}

// Apply executes the plan under the run lock.
func (c *Container) Apply(ctx context.Context, opts pipeline.ApplyOptions) (*pipeline.RunResult, *apply.Outcome, error) {
	runner, err := c.Runner(ctx)
	if err != nil {
		return nil, nil, err
	}
	return runner.Apply(ctx, opts)
}

// Calendars lists the calendars visible to the authorized account.
func (c *Container) Calendars(ctx context.Context) ([]provider.CalendarInfo, error) {
	client, err := c.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Calendars(ctx)
}

// BindCalendar persists a new calendar binding.
func (c *Container) BindCalendar(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("calendar id must not be empty")
	}
	return c.updateSettings(func(rs *store.RuntimeSettings) {
		rs.CalendarID = id
	})
}

// SetSyncMode persists a new sync mode, canonicalized.
func (c *Container) SetSyncMode(raw string) (reconcile.SyncMode, error) {
	mode, err := reconcile.ParseSyncMode(raw)
	if err != nil {
		return "", err
	}
	if err := c.updateSettings(func(rs *store.RuntimeSettings) {
		rs.SyncMode = string(mode)
	}); err != nil {
		return "", err
	}
	return mode, nil
}

func (c *Container) updateSettings(mutate func(*store.RuntimeSettings)) error {
	rs, err := c.Settings.Load()
	if err != nil {
		return err
	}
	if rs == nil {
		rs = &store.RuntimeSettings{}
	}
	mutate(rs)
	rs.UpdatedAt = time.Now().Unix()
	return c.Settings.Save(rs)
}

// AuthURL returns the provider consent URL for the given state token.
func (c *Container) AuthURL(state string) (string, error) {
	svc, err := c.OAuth()
	if err != nil {
		return "", err
	}
	return svc.AuthURL(state), nil
}

// AuthExchange trades an authorization code for a stored token.
func (c *Container) AuthExchange(ctx context.Context, code string) error {
	svc, err := c.OAuth()
	if err != nil {
		return err
	}
	if _, err := svc.Exchange(ctx, code); err != nil {
		return err
	}
	return nil
}

// AuthStatus reports the stored authorization without token material.
// Incomplete oauth configuration reads as unauthorized.
func (c *Container) AuthStatus() oauth.Status {
	svc, err := c.OAuth()
	if err != nil {
		return oauth.Status{Authorized: false}
	}
	return svc.Status()
}

// Package app wires the configuration, the player environment, the
// state stores, and the provider client into one container shared by
// the CLI and the HTTP control plane.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fppkit/calbridge/internal/apply"
	"github.com/fppkit/calbridge/internal/fpp"
	"github.com/fppkit/calbridge/internal/holiday"
	"github.com/fppkit/calbridge/internal/normalize"
	"github.com/fppkit/calbridge/internal/ordering"
	"github.com/fppkit/calbridge/internal/pipeline"
	"github.com/fppkit/calbridge/internal/provider"
	"github.com/fppkit/calbridge/internal/provider/oauth"
	"github.com/fppkit/calbridge/internal/provider/registry"
	"github.com/fppkit/calbridge/internal/reconcile"
	"github.com/fppkit/calbridge/internal/resolution"
	"github.com/fppkit/calbridge/internal/store"
	"github.com/fppkit/calbridge/internal/suntime"
	"github.com/fppkit/calbridge/pkg/config"
)

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Show environment
	Location *time.Location
	Holidays *holiday.Resolver
	Sun      *suntime.Estimator

	// State stores
	Paths      store.Paths
	Manifests  *store.ManifestStore
	Tombstones *store.TombstoneStore
	Stamps     *store.TimestampStore
	Snapshots  *store.SnapshotStore
	Settings   *store.SettingsStore
	Journal    *store.RunJournal

	mu     sync.Mutex
	client provider.Client
}

// NewContainer reads the player environment and wires all
// dependencies. The provider client is built lazily on first use so
// commands that never talk to the provider work unauthorized.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	env, err := fpp.LoadEnvironment(cfg.FPPEnvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load player environment: %w", err)
	}
	loc, err := env.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve show timezone: %w", err)
	}
	rules, err := env.HolidayRules()
	if err != nil {
		return nil, fmt.Errorf("failed to read locale holidays: %w", err)
	}
	holidays, err := holiday.NewResolver(rules...)
	if err != nil {
		return nil, fmt.Errorf("failed to build holiday resolver: %w", err)
	}

	// Environment coordinates win; the config pair is the fallback for
	// hosts without a settings file.
	lat, lon := env.Latitude, env.Longitude
	if lat == 0 && lon == 0 {
		lat, lon = cfg.Latitude, cfg.Longitude
	}

	c := &Container{
		Config:   cfg,
		Logger:   logger,
		Location: loc,
		Holidays: holidays,
		Sun:      suntime.New(lat, lon),
		Paths:    store.NewPaths(cfg.StateDir),
	}
	c.Manifests = store.NewManifestStore(c.Paths.Manifest())
	c.Tombstones = store.NewTombstoneStore(c.Paths.Tombstones())
	c.Stamps = store.NewTimestampStore(c.Paths.FppTimes())
	c.Snapshots = store.NewSnapshotStore(c.Paths.Snapshot())
	c.Settings = store.NewSettingsStore(c.Paths.Settings())

	journal, err := store.OpenJournal(ctx, c.Paths.Journal())
	if err != nil {
		logger.Warn("run journal unavailable, runs will not be recorded", "error", err)
	} else {
		c.Journal = journal
	}

	logger.Info("sync container initialized",
		"schedule", cfg.ScheduleFile,
		"state_dir", cfg.StateDir,
		"timezone", loc.String(),
		"sun_times", c.Sun.Enabled(),
	)
	return c, nil
}

// Close cleans up all resources.
func (c *Container) Close() {
	if c.Journal != nil {
		if err := c.Journal.Close(); err != nil {
			c.Logger.Warn("error closing run journal", "error", err)
		}
	}
}

// runtimeSettings reads the operator overrides. A broken settings file
// degrades to the configured defaults rather than blocking every
// command.
func (c *Container) runtimeSettings() store.RuntimeSettings {
	rs, err := c.Settings.Load()
	if err != nil {
		c.Logger.Warn("runtime settings unreadable, using configured defaults", "error", err)
		return store.RuntimeSettings{}
	}
	if rs == nil {
		return store.RuntimeSettings{}
	}
	return *rs
}

// CalendarID returns the bound calendar: the runtime override when
// set, otherwise the configured default.
func (c *Container) CalendarID() string {
	if id := c.runtimeSettings().CalendarID; id != "" {
		return id
	}
	return c.Config.CalendarID
}

// ProviderName returns the active provider name.
func (c *Container) ProviderName() string {
	if name := c.runtimeSettings().Provider; name != "" {
		return name
	}
	return c.Config.Provider
}

// SyncMode returns the active sync mode, canonicalized.
func (c *Container) SyncMode() (reconcile.SyncMode, error) {
	raw := c.runtimeSettings().SyncMode
	if raw == "" {
		raw = c.Config.SyncMode
	}
	return reconcile.ParseSyncMode(raw)
}

// Client returns the provider client, building it on first use.
func (c *Container) Client(ctx context.Context) (provider.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	cfg := *c.Config
	cfg.Provider = c.ProviderName()
	client, err := registry.New(ctx, &cfg, c.Logger)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// SetClient overrides the provider client. Tests use this to swap in
// a fake without an authorization flow.
func (c *Container) SetClient(client provider.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = client
}

// OAuth returns the authorization-flow service for the configured
// provider endpoints.
func (c *Container) OAuth() (*oauth.Service, error) {
	return registry.OAuthService(c.Config)
}

// Runner wires a pipeline runner against the active calendar, the
// active sync mode, and a live provider client.
func (c *Container) Runner(ctx context.Context) (*pipeline.Runner, error) {
	client, err := c.Client(ctx)
	if err != nil {
		return nil, err
	}
	mode, err := c.SyncMode()
	if err != nil {
		return nil, err
	}
	calendarID := c.CalendarID()

	writer := fpp.NewWriter(c.Config.ScheduleFile, c.Logger)
	orderer := ordering.New(c.Sun, c.Holidays, c.Location)
	applier := apply.New(writer, client, apply.NewComposer(c.Location, c.Holidays), orderer, calendarID, c.Logger)

	return pipeline.NewRunner(pipeline.Deps{
		Logger:     c.Logger,
		Client:     client,
		Resolver:   resolution.New(c.Location),
		Normalizer: normalize.New(c.Location, c.Holidays, c.ProviderName()),
		Orderer:    orderer,
		Applier:    applier,

		SchedulePath: c.Config.ScheduleFile,
		TZName:       c.Location.String(),
		Holidays:     c.Holidays,

		Manifests:  c.Manifests,
		Tombstones: c.Tombstones,
		Stamps:     c.Stamps,
		Snapshots:  c.Snapshots,
		Journal:    c.Journal,

		RunLockPath:  c.Paths.RunLock(),
		CalendarID:   calendarID,
		ProviderName: c.ProviderName(),
		Mode:         mode,
		AllowStale:   c.Config.AllowStale,
	}), nil
}

// Package app is the application root. It builds the one Store of the
// process and injects it into persistence, the sync engine and the
// conflict detector.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/orgplan/planner/internal/config"
	"github.com/orgplan/planner/internal/conflict"
	"github.com/orgplan/planner/internal/logging"
	"github.com/orgplan/planner/internal/model"
	"github.com/orgplan/planner/internal/notify"
	"github.com/orgplan/planner/internal/persist"
	"github.com/orgplan/planner/internal/store"
	plansync "github.com/orgplan/planner/internal/sync"
	"github.com/orgplan/planner/internal/tier/db"
	"github.com/orgplan/planner/internal/tier/flat"
)

// App wires the planner core together.
type App struct {
	Config    *config.Config
	Bus       *notify.Bus
	Store     *store.Store
	Persister *persist.Persister
	Engine    *plansync.Engine
	Detector  *conflict.Detector

	tiers      []persist.Tier
	closers    []io.Closer
	loadedFrom string
	logs       *logging.Output
	logger     *log.Logger
}

// Status is the combined health view reported by `planner status` and
// GET /api/status.
type Status struct {
	Store      store.Stats    `json:"store"`
	Persist    persist.Status `json:"persist"`
	Sync       plansync.Stats `json:"sync"`
	Conflicts  int            `json:"conflicts"`
	LoadedFrom string         `json:"loaded_from,omitempty"`
}

// Option customizes New.
type Option func(*options)

type options struct {
	tiers    []persist.Tier
	notifier notify.Notifier
	clock    model.Clock
}

// WithTiers replaces the configured tiers. Used by tests and tools.
func WithTiers(tiers ...persist.Tier) Option {
	return func(o *options) { o.tiers = tiers }
}

// WithNotifier sets the user-facing notifier (default: log lines).
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithClock pins the clock of the store and the persister.
func WithClock(c model.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New builds the application. Tiers that cannot be opened on this host are
// kept as unavailable placeholders so every round skips them.
func New(cfg *config.Config, logs *logging.Output, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logs == nil {
		logs = logging.Open(cfg.Log, nil)
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config: cfg,
		logs:   logs,
		logger: logs.Logger("app"),
	}
	if o.notifier == nil {
		o.notifier = notify.LogNotifier{Logger: logs.Logger("notify")}
	}

	a.Bus = notify.NewBus(logs.Logger("notify"))

	storeCfg := store.DefaultConfig()
	storeCfg.CacheTTL = cfg.Query.CacheTTL
	storeCfg.Clock = o.clock
	storeCfg.Logger = logs.Logger("store")
	a.Store = store.New(a.Bus, storeCfg)

	a.tiers = o.tiers
	if a.tiers == nil {
		a.tiers = a.openTiers()
	}

	persistCfg := persist.DefaultConfig()
	persistCfg.Debounce = cfg.Persist.Debounce
	persistCfg.MaxWait = cfg.Persist.MaxWait
	persistCfg.RetryInterval = cfg.Persist.RetryInterval
	persistCfg.ProbeTimeout = cfg.Remote.ProbeTimeout
	persistCfg.Notifier = o.notifier
	persistCfg.Bus = a.Bus
	persistCfg.Clock = o.clock
	persistCfg.Logger = logs.Logger("persist")
	p, err := persist.New(a.Store, a.tiers, persistCfg)
	if err != nil {
		a.closeTiers()
		return nil, fmt.Errorf("failed to create persister: %w", err)
	}
	a.Persister = p
	a.Store.SetPersister(p)

	syncCfg := plansync.DefaultConfig()
	syncCfg.OriginMarker = cfg.Sync.OriginMarker
	syncCfg.DefaultDuration = cfg.Promote.DefaultDuration
	syncCfg.DefaultStart = cfg.Promote.DefaultStart
	syncCfg.Logger = logs.Logger("sync")
	a.Engine = plansync.New(a.Store, syncCfg)

	conflictCfg := conflict.DefaultConfig()
	conflictCfg.DefaultDuration = cfg.Conflict.DefaultDuration
	conflictCfg.MaxResults = cfg.Conflict.MaxResults
	conflictCfg.Logger = logs.Logger("conflict")
	a.Detector = conflict.New(a.Store, a.Bus, conflictCfg)

	return a, nil
}

func (a *App) openTiers() []persist.Tier {
	var tiers []persist.Tier

	if a.Config.Remote.URL != "" {
		remote, err := db.OpenRemote(a.Config.Remote.URL, a.Config.Remote.AuthToken, a.logs.Logger("remote"))
		if err != nil {
			a.logger.Printf("WARNING: remote tier unavailable: %v", err)
			tiers = append(tiers, persist.Unavailable("remote", true, err))
		} else {
			tiers = append(tiers, remote)
			a.closers = append(a.closers, remote)
		}
	}

	local, err := db.OpenLocal(a.Config.LocalDBPath(), a.logs.Logger("local"))
	if err != nil {
		a.logger.Printf("WARNING: local database unavailable: %v", err)
		tiers = append(tiers, persist.Unavailable("local", false, err))
	} else {
		tiers = append(tiers, local)
		a.closers = append(a.closers, local)
	}

	flatTier, err := flat.New(a.Config.FlatDir(), a.Config.Flat.File, a.Config.Flat.MaxBytes)
	if err != nil {
		a.logger.Printf("WARNING: flat tier unavailable: %v", err)
		tiers = append(tiers, persist.Unavailable("flat", false, err))
	} else {
		tiers = append(tiers, flatTier)
	}
	return tiers
}

// Open loads the initial snapshot, starts the persistence scheduler and
// turns on reactive fan-out. It returns the name of the tier the data came
// from ("" when starting empty).
func (a *App) Open(ctx context.Context) (string, error) {
	from, err := a.Persister.LoadInitial(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load initial data: %w", err)
	}
	a.loadedFrom = from
	a.Persister.Start()
	a.Engine.Start()
	if from != "" {
		st := a.Store.Stats()
		a.logger.Printf("Loaded %d events and %d tasks from %s", st.Events, st.Tasks, from)
	}
	return from, nil
}

// Close finishes pending fan-out, flushes pending changes and releases the
// tiers. A failed final flush is returned but does not stop the release.
func (a *App) Close(ctx context.Context) error {
	a.Engine.Stop()
	var errs []error
	if err := a.Persister.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}
	errs = append(errs, a.closeTiers())
	return errors.Join(errs...)
}

func (a *App) closeTiers() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Logs returns the shared log output.
func (a *App) Logs() *logging.Output {
	return a.logs
}

// ===== Collaborator operations =====

func (a *App) CreateEvent(e model.Event) (model.Event, error) { return a.Store.CreateEvent(e) }
func (a *App) DeleteEvent(id string) error                    { return a.Store.DeleteEvent(id) }
func (a *App) GetEvent(id string) (model.Event, error)        { return a.Store.GetEvent(id) }
func (a *App) ListEvents() []model.Event                      { return a.Store.ListEvents() }
func (a *App) CreateTask(t model.Task) (model.Task, error)    { return a.Store.CreateTask(t) }
func (a *App) DeleteTask(id string) error                     { return a.Store.DeleteTask(id) }
func (a *App) GetTask(id string) (model.Task, error)          { return a.Store.GetTask(id) }
func (a *App) ListTasks() []model.Task                        { return a.Store.ListTasks() }

func (a *App) EditEvent(id string, patch model.EventPatch) (model.Event, error) {
	return a.Store.EditEvent(id, patch)
}

func (a *App) EditTask(id string, patch model.TaskPatch) (model.Task, error) {
	return a.Store.EditTask(id, patch)
}

func (a *App) QueryEventsForUser(user string) []model.Event {
	return a.Store.QueryEventsForUser(user)
}

func (a *App) QueryTasksForUser(user string) []model.Task {
	return a.Store.QueryTasksForUser(user)
}

func (a *App) PromoteTaskToEvent(taskID string) (model.Event, error) {
	return a.Engine.PromoteTaskToEvent(taskID)
}

func (a *App) SyncEventsToTasks() (plansync.Result, error) {
	return a.Engine.SyncEventsToTasks()
}

func (a *App) SweepDuplicates() plansync.SweepResult {
	return a.Engine.SweepDuplicates()
}

func (a *App) DetectConflicts() []conflict.Conflict {
	return a.Detector.DetectConflicts()
}

// Status reports counts, tier health and engine counters.
func (a *App) Status() Status {
	return Status{
		Store:      a.Store.Stats(),
		Persist:    a.Persister.Status(),
		Sync:       a.Engine.Stats(),
		Conflicts:  len(a.Detector.Last()),
		LoadedFrom: a.loadedFrom,
	}
}

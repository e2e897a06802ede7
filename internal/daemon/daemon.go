// Package daemon runs the long-lived side of the planner: scheduled
// sweeps, conflict scans and remote probes, reactive fan-out, and an
// inbox directory where other tools drop records as JSON files.
package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/orgplan/planner/internal/app"
	"github.com/orgplan/planner/internal/config"
	"github.com/orgplan/planner/internal/model"
)

// Job names, as they appear in logs and Jobs().
const (
	JobSweep     = "sweep"
	JobConflicts = "conflicts"
	JobProbe     = "probe"
	JobFanOut    = "fanout"
)

// Config holds configuration for the daemon.
type Config struct {
	// InboxDir holds the events/ and tasks/ drop directories
	InboxDir string

	// SweepInterval is how often duplicate and orphaned derived tasks are removed
	SweepInterval time.Duration

	// FanOutInterval is how often a backstop fan-out pass is requested
	FanOutInterval time.Duration

	// ConflictInterval is how often the conflict detector runs
	ConflictInterval time.Duration

	// ProbeInterval is how often an unavailable remote tier is probed
	ProbeInterval time.Duration

	// ProbeTimeout bounds one probe
	ProbeTimeout time.Duration

	// SettleInterval is how long a dropped file must stay unchanged before
	// it is imported
	SettleInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		InboxDir:         filepath.Join(".planner", "inbox"),
		SweepInterval:    5 * time.Minute,
		FanOutInterval:   5 * time.Minute,
		ConflictInterval: time.Minute,
		ProbeInterval:    time.Minute,
		ProbeTimeout:     3 * time.Second,
		SettleInterval:   200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// ConfigFrom derives the daemon configuration from the planner config.
func ConfigFrom(cfg *config.Config, logger *log.Logger) *Config {
	c := DefaultConfig()
	c.InboxDir = cfg.InboxDir()
	c.SweepInterval = cfg.Sync.SweepInterval
	c.FanOutInterval = cfg.Sync.SweepInterval
	c.ConflictInterval = cfg.Conflict.Interval
	c.ProbeInterval = cfg.Remote.ProbeInterval
	c.ProbeTimeout = cfg.Remote.ProbeTimeout
	if logger != nil {
		c.Logger = logger
	}
	return c
}

// Stats are cumulative daemon counters.
type Stats struct {
	Imported int64 `json:"imported"`
	Rejected int64 `json:"rejected"`
	Sweeps   int64 `json:"sweeps"`
	Scans    int64 `json:"scans"`
}

// Daemon orchestrates the background work around one App.
type Daemon struct {
	app    *app.App
	config *Config

	cron      *cron.Cron
	entries   map[string]cron.EntryID
	entriesMu sync.Mutex

	inbox         *InboxWatcher
	changeQueue   map[string]queuedFile
	changeQueueMu sync.Mutex

	imported atomic.Int64
	rejected atomic.Int64
	sweeps   atomic.Int64
	scans    atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

type queuedFile struct {
	typ RecordType
	at  time.Time
}

// New creates a daemon for a. Use Start or Run to begin.
func New(a *app.App, config *Config) (*Daemon, error) {
	if a == nil {
		return nil, fmt.Errorf("app cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.InboxDir == "" {
		return nil, fmt.Errorf("inbox directory cannot be empty")
	}

	inbox, err := NewInboxWatcher()
	if err != nil {
		return nil, err
	}

	logger := cron.PrintfLogger(config.Logger)
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		app:    a,
		config: config,
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		entries:     make(map[string]cron.EntryID),
		inbox:       inbox,
		changeQueue: make(map[string]queuedFile),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Run starts the daemon and blocks until ctx is cancelled, then stops it
// with a final flush bounded by shutdownTimeout.
func (d *Daemon) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := d.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	d.config.Logger.Println("Shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return d.Stop(stopCtx)
}

// Start imports files already waiting in the inbox, starts watching it,
// schedules the periodic jobs and turns on reactive fan-out.
func (d *Daemon) Start() error {
	if d.started {
		return fmt.Errorf("daemon already started")
	}
	d.config.Logger.Println("Starting daemon")

	eventsDir, tasksDir := d.inboxDirs()
	for _, dir := range []string{eventsDir, tasksDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create inbox %s: %w", dir, err)
		}
	}

	d.ImportInbox()

	if err := d.inbox.Start(eventsDir, tasksDir); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching inbox: %s", d.config.InboxDir)

	if err := d.schedule(d.config); err != nil {
		_ = d.inbox.Stop()
		return err
	}
	d.cron.Start()

	d.app.Engine.Start()

	d.wg.Add(2)
	go d.watchInbox()
	go d.processChangeQueue()

	d.started = true
	return nil
}

// Stop shuts the daemon down and flushes pending persistence immediately.
// The App itself stays open. A stopped daemon cannot be started again.
func (d *Daemon) Stop(ctx context.Context) error {
	if !d.started {
		return nil
	}
	d.started = false
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.inbox.Stop(); err != nil {
		d.config.Logger.Printf("Error closing inbox watcher: %v", err)
	}

	select {
	case <-d.cron.Stop().Done():
	case <-ctx.Done():
		d.config.Logger.Println("WARNING: scheduled jobs still running at shutdown")
	}

	d.wg.Wait()
	d.app.Engine.Stop()

	if _, err := d.app.Persister.Flush(ctx); err != nil {
		return fmt.Errorf("final flush failed: %w", err)
	}
	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Stats returns cumulative counters.
func (d *Daemon) Stats() Stats {
	return Stats{
		Imported: d.imported.Load(),
		Rejected: d.rejected.Load(),
		Sweeps:   d.sweeps.Load(),
		Scans:    d.scans.Load(),
	}
}

// ===== Scheduled jobs =====

// Reload applies new job intervals from a reloaded planner config. The
// inbox location and settle interval keep their startup values.
func (d *Daemon) Reload(cfg *config.Config) error {
	next := *d.config
	fresh := ConfigFrom(cfg, d.config.Logger)
	next.SweepInterval = fresh.SweepInterval
	next.FanOutInterval = fresh.FanOutInterval
	next.ConflictInterval = fresh.ConflictInterval
	next.ProbeInterval = fresh.ProbeInterval
	next.ProbeTimeout = fresh.ProbeTimeout

	if err := d.schedule(&next); err != nil {
		return err
	}
	d.config.Logger.Printf("Rescheduled jobs: sweep=%s fanout=%s conflicts=%s probe=%s",
		next.SweepInterval, next.FanOutInterval, next.ConflictInterval, next.ProbeInterval)
	return nil
}

// Jobs returns the interval of every scheduled job.
func (d *Daemon) Jobs() map[string]time.Duration {
	d.entriesMu.Lock()
	defer d.entriesMu.Unlock()

	jobs := make(map[string]time.Duration, len(d.entries))
	for name, id := range d.entries {
		if sched, ok := d.cron.Entry(id).Schedule.(cron.ConstantDelaySchedule); ok {
			jobs[name] = sched.Delay
		}
	}
	return jobs
}

// schedule replaces every job with one running at the intervals of cfg.
func (d *Daemon) schedule(cfg *Config) error {
	jobs := []struct {
		name     string
		interval time.Duration
		run      func()
	}{
		{JobSweep, cfg.SweepInterval, d.runSweep},
		{JobFanOut, cfg.FanOutInterval, d.app.Engine.Trigger},
		{JobConflicts, cfg.ConflictInterval, d.runConflicts},
		{JobProbe, cfg.ProbeInterval, func() { d.runProbe(cfg.ProbeTimeout) }},
	}

	d.entriesMu.Lock()
	defer d.entriesMu.Unlock()

	added := make(map[string]cron.EntryID, len(jobs))
	for _, job := range jobs {
		if job.interval <= 0 {
			return fmt.Errorf("%s interval must be positive", job.name)
		}
		id, err := d.cron.AddFunc(fmt.Sprintf("@every %s", job.interval), job.run)
		if err != nil {
			for _, id := range added {
				d.cron.Remove(id)
			}
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
		added[job.name] = id
	}

	for _, id := range d.entries {
		d.cron.Remove(id)
	}
	d.entries = added
	return nil
}

func (d *Daemon) runSweep() {
	d.sweeps.Add(1)
	res := d.app.Engine.SweepDuplicates()
	if res.Duplicates > 0 || res.Orphans > 0 {
		d.config.Logger.Printf("Sweep removed %d duplicate and %d orphaned derived tasks", res.Duplicates, res.Orphans)
	}
}

func (d *Daemon) runConflicts() {
	d.scans.Add(1)
	if fresh := d.app.Detector.Run(); len(fresh) > 0 {
		d.config.Logger.Printf("Detected %d new conflicts", len(fresh))
	}
}

func (d *Daemon) runProbe(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()
	d.app.Persister.ProbeRemote(ctx)
}

// ===== Inbox =====

func (d *Daemon) inboxDirs() (events, tasks string) {
	return filepath.Join(d.config.InboxDir, "events"), filepath.Join(d.config.InboxDir, "tasks")
}

// ImportInbox imports every file currently waiting in the inbox.
func (d *Daemon) ImportInbox() {
	eventsDir, tasksDir := d.inboxDirs()
	for _, dir := range []struct {
		path string
		typ  RecordType
	}{{eventsDir, TypeEvent}, {tasksDir, TypeTask}} {
		matches, err := filepath.Glob(filepath.Join(dir.path, "*.json"))
		if err != nil {
			d.config.Logger.Printf("WARNING: failed to list %s: %v", dir.path, err)
			continue
		}
		sort.Strings(matches)
		for _, path := range matches {
			d.importFile(path, dir.typ)
		}
	}
}

func (d *Daemon) watchInbox() {
	defer d.wg.Done()

	files, errs := d.inbox.Files(), d.inbox.Errors()
	for {
		select {
		case <-d.ctx.Done():
			return

		case f, ok := <-files:
			if !ok {
				return
			}
			d.queueChange(f)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(f InboxFile) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[f.Path] = queuedFile{typ: f.Type, at: time.Now()}
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SettleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges imports files that have been quiet for long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	var ready []string
	types := make(map[string]RecordType)
	now := time.Now()
	for path, q := range d.changeQueue {
		if now.Sub(q.at) < d.config.SettleInterval {
			continue
		}
		ready = append(ready, path)
		types[path] = q.typ
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		d.importFile(path, types[path])
	}
}

// importFile creates the records in path through the App and removes the
// file. Files that cannot be decoded or validated are renamed to
// *.rejected so they are not picked up again.
func (d *Daemon) importFile(path string, typ RecordType) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		d.config.Logger.Printf("WARNING: failed to read %s: %v", path, err)
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		// Still being written; the next write event requeues it.
		return
	}

	created, err := d.createRecords(data, typ)
	d.imported.Add(int64(created))
	if err != nil {
		d.rejected.Add(1)
		d.config.Logger.Printf("WARNING: rejected %s %s: %v", typ, path, err)
		if rerr := os.Rename(path, path+".rejected"); rerr != nil {
			d.config.Logger.Printf("WARNING: failed to move rejected file %s: %v", path, rerr)
		}
		return
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.config.Logger.Printf("WARNING: imported %s but failed to remove it: %v", path, err)
		return
	}
	d.config.Logger.Printf("Imported %d %s record(s) from %s", created, typ, filepath.Base(path))
}

// createRecords accepts a single JSON object or an array of them. Every
// record is decoded and validated before the first one is created, so a
// rejected file leaves nothing behind.
func (d *Daemon) createRecords(data []byte, typ RecordType) (int, error) {
	var raws []json.RawMessage
	if trimmed := bytes.TrimSpace(data); trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return 0, fmt.Errorf("failed to decode records: %w", err)
		}
	} else {
		raws = []json.RawMessage{trimmed}
	}

	var events []model.Event
	var tasks []model.Task
	for i, raw := range raws {
		var err error
		switch typ {
		case TypeEvent:
			var ev model.Event
			if err = json.Unmarshal(raw, &ev); err == nil {
				err = d.app.Store.CheckEvent(ev)
			}
			events = append(events, ev)
		case TypeTask:
			var t model.Task
			if err = json.Unmarshal(raw, &t); err == nil {
				err = d.app.Store.CheckTask(t)
			}
			tasks = append(tasks, t)
		default:
			err = fmt.Errorf("unknown record type %d", typ)
		}
		if err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
	}

	created := 0
	for i, ev := range events {
		if _, err := d.app.CreateEvent(ev); err != nil {
			return created, fmt.Errorf("record %d: %w", i, err)
		}
		created++
	}
	for i, t := range tasks {
		if _, err := d.app.CreateTask(t); err != nil {
			return created, fmt.Errorf("record %d: %w", i, err)
		}
		created++
	}
	return created, nil
}

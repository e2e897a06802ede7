package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orgplan/planner/internal/app"
	"github.com/orgplan/planner/internal/config"
	"github.com/orgplan/planner/internal/logging"
	"github.com/orgplan/planner/internal/model"
	"github.com/orgplan/planner/internal/tier/flat"
)

type fixture struct {
	app    *app.App
	daemon *Daemon
	tier   *flat.Store
	inbox  string
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir

	tier, err := flat.New(dir, "snapshot.json", -1)
	if err != nil {
		t.Fatalf("Failed to create flat tier: %v", err)
	}
	a, err := app.New(cfg, logging.Discard(), app.WithTiers(tier))
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}
	if _, err := a.Open(context.Background()); err != nil {
		t.Fatalf("Failed to open app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	dcfg := ConfigFrom(cfg, log.New(io.Discard, "", 0))
	dcfg.SweepInterval = time.Hour
	dcfg.FanOutInterval = time.Hour
	dcfg.ConflictInterval = time.Hour
	dcfg.ProbeInterval = time.Hour
	dcfg.SettleInterval = 20 * time.Millisecond

	d, err := New(a, dcfg)
	if err != nil {
		t.Fatalf("Failed to create daemon: %v", err)
	}
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	return &fixture{app: a, daemon: d, tier: tier, inbox: cfg.InboxDir()}
}

func (f *fixture) drop(t *testing.T, kind, name, body string) string {
	t.Helper()

	dir := filepath.Join(f.inbox, kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create inbox dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write inbox file: %v", err)
	}
	return path
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timeout waiting for %s", what)
}

func TestNew(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("New(nil) should fail")
	}

	f := setup(t)
	if _, err := New(f.app, &Config{}); err == nil {
		t.Error("New with an empty inbox directory should fail")
	}
}

func TestDaemon_ImportsWaitingFiles(t *testing.T) {
	f := setup(t)

	path := f.drop(t, "events", "kickoff.json",
		`{"title":"Kickoff","date":"2025-03-10","start_time":"10:00","end_time":"11:00"}`)

	if err := f.daemon.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	events := f.app.ListEvents()
	if len(events) != 1 || events[0].Title != "Kickoff" {
		t.Fatalf("Events after start = %+v, want the kickoff", events)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Imported file should be removed, stat err = %v", err)
	}
	if st := f.daemon.Stats(); st.Imported != 1 || st.Rejected != 0 {
		t.Errorf("Stats = %+v, want 1 imported", st)
	}
}

func TestDaemon_ImportsDroppedFiles(t *testing.T) {
	f := setup(t)

	if err := f.daemon.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	path := f.drop(t, "tasks", "batch.json", `[
		{"title":"Report","start_date":"2025-03-10","responsible":"alice"},
		{"title":"Review","start_date":"2025-03-11","responsible":"bob","priority":"high"}
	]`)

	eventually(t, "two imported tasks", func() bool { return len(f.app.ListTasks()) == 2 })
	eventually(t, "inbox file removal", func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	})
}

func TestDaemon_RejectsInvalidFiles(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing-title.json", `{"date":"2025-03-10"}`},
		{"garbage.json", `{"title":`},
	}
	var paths []string
	for _, tt := range tests {
		paths = append(paths, f.drop(t, "events", tt.name, tt.body))
	}

	if err := f.daemon.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	for _, path := range paths {
		if _, err := os.Stat(path + ".rejected"); err != nil {
			t.Errorf("Expected %s.rejected: %v", filepath.Base(path), err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("Rejected file %s should be moved away", filepath.Base(path))
		}
	}
	if got := len(f.app.ListEvents()); got != 0 {
		t.Errorf("Events = %d, want 0", got)
	}
	if st := f.daemon.Stats(); st.Rejected != 2 {
		t.Errorf("Rejected = %d, want 2", st.Rejected)
	}
}

func TestDaemon_RejectsPartiallyValidArray(t *testing.T) {
	f := setup(t)

	body := `[
		{"title":"Report","start_date":"2025-03-10","responsible":"alice"},
		{"title":"Review","start_date":"10/03/2025","responsible":"bob"}
	]`
	path := f.drop(t, "tasks", "batch.json", body)

	if err := f.daemon.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if _, err := os.Stat(path + ".rejected"); err != nil {
		t.Errorf("Expected batch.json.rejected: %v", err)
	}
	if got := len(f.app.ListTasks()); got != 0 {
		t.Errorf("Tasks = %d, want 0 (no record of a rejected file is kept)", got)
	}
	if st := f.daemon.Stats(); st.Imported != 0 || st.Rejected != 1 {
		t.Errorf("Stats = %+v, want 0 imported and 1 rejected", st)
	}

	// The corrected file imports both records exactly once.
	fixed := f.drop(t, "tasks", "batch-fixed.json", `[
		{"title":"Report","start_date":"2025-03-10","responsible":"alice"},
		{"title":"Review","start_date":"2025-03-10","responsible":"bob"}
	]`)
	eventually(t, "two imported tasks", func() bool { return len(f.app.ListTasks()) == 2 })
	eventually(t, "inbox file removal", func() bool {
		_, err := os.Stat(fixed)
		return os.IsNotExist(err)
	})
	if got := len(f.app.ListTasks()); got != 2 {
		t.Errorf("Tasks = %d after re-drop, want 2", got)
	}
}

func TestDaemon_ReactiveFanOut(t *testing.T) {
	f := setup(t)

	if err := f.daemon.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	ev, err := f.app.CreateEvent(model.Event{
		Title: "Planning", Date: "2025-03-10", Participants: []string{"bob", "carol"},
	})
	if err != nil {
		t.Fatalf("Failed to create event: %v", err)
	}

	eventually(t, "derived tasks", func() bool {
		return len(f.app.Store.DerivedTasks(ev.ID)) == 2
	})
}

func TestDaemon_Reload(t *testing.T) {
	f := setup(t)

	if err := f.daemon.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	jobs := f.daemon.Jobs()
	for _, name := range []string{JobSweep, JobFanOut, JobConflicts, JobProbe} {
		if jobs[name] != time.Hour {
			t.Errorf("Job %s interval = %s, want 1h", name, jobs[name])
		}
	}

	cfg := config.Default()
	cfg.Sync.SweepInterval = 2 * time.Minute
	cfg.Conflict.Interval = 30 * time.Second
	cfg.Remote.ProbeInterval = 10 * time.Minute
	if err := f.daemon.Reload(cfg); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}

	want := map[string]time.Duration{
		JobSweep:     2 * time.Minute,
		JobFanOut:    2 * time.Minute,
		JobConflicts: 30 * time.Second,
		JobProbe:     10 * time.Minute,
	}
	jobs = f.daemon.Jobs()
	if len(jobs) != len(want) {
		t.Fatalf("Jobs = %v, want %d entries", jobs, len(want))
	}
	for name, d := range want {
		if jobs[name] != d {
			t.Errorf("Job %s interval = %s, want %s", name, jobs[name], d)
		}
	}
}

func TestDaemon_StopFlushes(t *testing.T) {
	f := setup(t)

	if err := f.daemon.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if _, err := f.app.CreateTask(model.Task{Title: "Report", StartDate: "2025-03-10", Responsible: "alice"}); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.daemon.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	snap, err := f.tier.Load(ctx)
	if err != nil {
		t.Fatalf("Failed to load flat snapshot: %v", err)
	}
	if snap == nil || len(snap.Tasks) != 1 {
		t.Fatalf("Flat snapshot = %+v, want 1 task", snap)
	}
	if st := f.app.Store.Stats(); st.DirtyTasks != 0 {
		t.Errorf("Dirty tasks after stop = %d, want 0", st.DirtyTasks)
	}
}

func TestDaemon_RunStopsOnCancel(t *testing.T) {
	f := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.daemon.Run(ctx, 5*time.Second) }()

	eventually(t, "inbox watcher", func() bool { return f.daemon.inbox.IsRunning() })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

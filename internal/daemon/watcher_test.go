package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupInbox(t *testing.T) (eventsDir, tasksDir string) {
	t.Helper()

	tmpDir := t.TempDir()
	eventsDir = filepath.Join(tmpDir, "events")
	tasksDir = filepath.Join(tmpDir, "tasks")
	for _, dir := range []string{eventsDir, tasksDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	return eventsDir, tasksDir
}

func startWatcher(t *testing.T) (*InboxWatcher, string, string) {
	t.Helper()

	eventsDir, tasksDir := setupInbox(t)
	iw, err := NewInboxWatcher()
	if err != nil {
		t.Fatalf("NewInboxWatcher() failed: %v", err)
	}
	if err := iw.Start(eventsDir, tasksDir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = iw.Stop() })
	return iw, eventsDir, tasksDir
}

func waitForFile(t *testing.T, iw *InboxWatcher, want string) InboxFile {
	t.Helper()

	timeout := time.After(3 * time.Second)
	for {
		select {
		case f := <-iw.Files():
			if f.Path == want {
				return f
			}
		case err := <-iw.Errors():
			t.Fatalf("Watcher error: %v", err)
		case <-timeout:
			t.Fatalf("Timeout waiting for %s", want)
		}
	}
}

func TestInboxWatcher_StartStop(t *testing.T) {
	eventsDir, tasksDir := setupInbox(t)

	iw, err := NewInboxWatcher()
	if err != nil {
		t.Fatalf("NewInboxWatcher() failed: %v", err)
	}
	if iw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}

	if err := iw.Start(eventsDir, tasksDir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !iw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := iw.Start(eventsDir, tasksDir); err == nil {
		t.Error("Second Start() should fail when watcher is already running")
	}

	if err := iw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if iw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
	if err := iw.Stop(); err != nil {
		t.Errorf("Second Stop() should be a no-op, got %v", err)
	}
}

func TestInboxWatcher_MissingDirectory(t *testing.T) {
	eventsDir, _ := setupInbox(t)

	iw, err := NewInboxWatcher()
	if err != nil {
		t.Fatalf("NewInboxWatcher() failed: %v", err)
	}
	if err := iw.Start(eventsDir, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("Start() should fail for a missing directory")
	}
	if iw.IsRunning() {
		t.Error("Watcher should not be running after a failed Start()")
	}
}

func TestInboxWatcher_RecordTypes(t *testing.T) {
	iw, eventsDir, tasksDir := startWatcher(t)

	eventPath := filepath.Join(eventsDir, "standup.json")
	if err := os.WriteFile(eventPath, []byte(`{"title":"Standup"}`), 0644); err != nil {
		t.Fatalf("Failed to write event file: %v", err)
	}
	if f := waitForFile(t, iw, eventPath); f.Type != TypeEvent {
		t.Errorf("Type = %s, want event", f.Type)
	}

	taskPath := filepath.Join(tasksDir, "report.json")
	if err := os.WriteFile(taskPath, []byte(`{"title":"Report"}`), 0644); err != nil {
		t.Fatalf("Failed to write task file: %v", err)
	}
	if f := waitForFile(t, iw, taskPath); f.Type != TypeTask {
		t.Errorf("Type = %s, want task", f.Type)
	}
}

func TestInboxWatcher_IgnoresOtherFiles(t *testing.T) {
	iw, eventsDir, _ := startWatcher(t)

	if err := os.WriteFile(filepath.Join(eventsDir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	rejected := filepath.Join(eventsDir, "old.json.rejected")
	if err := os.WriteFile(rejected, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	select {
	case f := <-iw.Files():
		t.Errorf("Unexpected inbox file %+v", f)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRecordTypeString(t *testing.T) {
	tests := []struct {
		typ  RecordType
		want string
	}{
		{TypeEvent, "event"},
		{TypeTask, "task"},
		{RecordType(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("RecordType(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

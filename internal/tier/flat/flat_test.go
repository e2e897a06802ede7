package flat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/orgplan/planner/internal/model"
	"github.com/orgplan/planner/internal/persist"
)

func testSnapshot() *model.Snapshot {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	snap := model.NewSnapshot(now)
	snap.Events["ev-1"] = &model.Event{ID: "ev-1", Title: "Planning", Date: "2025-03-10", CreatedAt: now, UpdatedAt: now}
	snap.Tasks["tk-1"] = &model.Task{ID: "tk-1", Title: "Report", StartDate: "2025-03-10", Responsible: "alice", CreatedAt: now, UpdatedAt: now}
	snap.Seal(now)
	return snap
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		dir     string
		wantErr bool
	}{
		{name: "valid dir", dir: filepath.Join(t.TempDir(), "data")},
		{name: "empty dir", dir: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.dir, "", 0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if filepath.Base(s.Path()) != "snapshot.json" {
				t.Errorf("Path() = %s, want default file name", s.Path())
			}
			if err := s.Probe(context.Background()); err != nil {
				t.Errorf("Probe() failed: %v", err)
			}
		})
	}
}

func TestWriteLoad(t *testing.T) {
	s, err := New(t.TempDir(), "snapshot.json", 0)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ctx := context.Background()

	empty, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() of missing file failed: %v", err)
	}
	if !empty.IsEmpty() {
		t.Error("Missing file should load as an empty snapshot")
	}

	if err := s.Write(ctx, testSnapshot()); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if _, err := os.Stat(s.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file left behind after write")
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.Events["ev-1"].Title != "Planning" || got.Tasks["tk-1"].Responsible != "alice" {
		t.Errorf("Unexpected snapshot contents: %+v", got)
	}
	if got.Metadata.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", got.Metadata.TotalRecords)
	}
}

func TestWrite_SizeBudget(t *testing.T) {
	s, err := New(t.TempDir(), "snapshot.json", 64)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = s.Write(context.Background(), testSnapshot())
	if !errors.Is(err, persist.ErrTooLarge) {
		t.Fatalf("Expected ErrTooLarge, got %v", err)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("Oversized snapshot should not be written")
	}
}

func TestWriteEmergency(t *testing.T) {
	s, err := New(t.TempDir(), "snapshot.json", 64)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	data, err := testSnapshot().Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	path, err := s.WriteEmergency(context.Background(), data)
	if err != nil {
		t.Fatalf("WriteEmergency() failed: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "emergency-") {
		t.Errorf("Emergency file %s lacks the emergency prefix", path)
	}

	backups, err := s.EmergencyBackups()
	if err != nil {
		t.Fatalf("EmergencyBackups() failed: %v", err)
	}
	if len(backups) != 1 || backups[0] != path {
		t.Errorf("EmergencyBackups() = %v, want [%s]", backups, path)
	}

	// The normal snapshot is untouched.
	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !snap.IsEmpty() {
		t.Error("Emergency dump must not replace the normal snapshot")
	}
}

package model

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTask_Validate(t *testing.T) {
	base := func() Task {
		task := Task{
			Title:       "Write report",
			StartDate:   "2025-03-10",
			Responsible: "alice",
		}
		task.SetDefaults()
		return task
	}

	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr bool
		errMsg  string
	}{
		{name: "valid task", mutate: func(*Task) {}},
		{
			name:    "missing title",
			mutate:  func(t *Task) { t.Title = "" },
			wantErr: true,
			errMsg:  "title is required",
		},
		{
			name:    "title too long",
			mutate:  func(t *Task) { t.Title = strings.Repeat("x", 501) },
			wantErr: true,
			errMsg:  "title must be 500 characters or less",
		},
		{
			name:    "missing start date",
			mutate:  func(t *Task) { t.StartDate = "" },
			wantErr: true,
			errMsg:  "start date is required",
		},
		{
			name:    "bad start date",
			mutate:  func(t *Task) { t.StartDate = "10/03/2025" },
			wantErr: true,
			errMsg:  "invalid date",
		},
		{
			name:    "end date before start",
			mutate:  func(t *Task) { t.EndDate = "2025-03-09" },
			wantErr: true,
			errMsg:  "is before start date",
		},
		{
			name:    "end time without start",
			mutate:  func(t *Task) { t.EndTime = "10:00" },
			wantErr: true,
			errMsg:  "end time requires a start time",
		},
		{
			name: "end time before start time",
			mutate: func(t *Task) {
				t.StartTime = "10:00"
				t.EndTime = "09:00"
			},
			wantErr: true,
			errMsg:  "must be after start time",
		},
		{
			name:    "progress out of range",
			mutate:  func(t *Task) { t.Progress = 120 },
			wantErr: true,
			errMsg:  "progress must be between 0 and 100",
		},
		{
			name:    "progress without done",
			mutate:  func(t *Task) { t.Progress = 100 },
			wantErr: true,
			errMsg:  "does not match status",
		},
		{
			name:    "unknown priority",
			mutate:  func(t *Task) { t.Priority = "urgent!" },
			wantErr: true,
			errMsg:  "unknown priority",
		},
		{
			name: "derived without origin",
			mutate: func(t *Task) {
				t.SyncKind = SyncDerived
			},
			wantErr: true,
			errMsg:  "derived task needs an origin event",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := base()
			tt.mutate(&task)
			err := task.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("error %v does not match ErrValidation", err)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.errMsg)
				}
			}
		})
	}
}

func TestEvent_ValidateAndDefaults(t *testing.T) {
	e := Event{Title: "Planning", Date: "2025-03-10", Participants: []string{"alice", "", "bob", "alice"}}
	e.SetDefaults()

	if err := e.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if e.Category != EventOther || e.Status != EventScheduled {
		t.Errorf("defaults not applied: category=%s status=%s", e.Category, e.Status)
	}
	if e.Visibility != VisibilityPrivate {
		t.Errorf("Visibility = %s, want private for personal scope", e.Visibility)
	}
	if got := strings.Join(e.Participants, ","); got != "alice,bob" {
		t.Errorf("Participants = %s, want alice,bob", got)
	}

	missing := Event{Title: "No date"}
	missing.SetDefaults()
	if err := missing.Validate(); err == nil || !strings.Contains(err.Error(), "date is required") {
		t.Errorf("Validate() error = %v, want date is required", err)
	}
}

func TestTask_SetDefaultsKeepsProgressInvariant(t *testing.T) {
	done := Task{Title: "a", StartDate: "2025-01-01", CreatedBy: "bob", Status: TaskDone}
	done.SetDefaults()
	if done.Progress != 100 {
		t.Errorf("status done gave progress %d, want 100", done.Progress)
	}
	if done.Responsible != "bob" {
		t.Errorf("Responsible = %q, want creator bob", done.Responsible)
	}

	full := Task{Title: "b", StartDate: "2025-01-01", Responsible: "bob", Progress: 100}
	full.SetDefaults()
	if full.Status != TaskDone {
		t.Errorf("progress 100 gave status %s, want done", full.Status)
	}
}

func TestTaskPatch_ProgressStatusLink(t *testing.T) {
	intp := func(i int) *int { return &i }
	statusp := func(s TaskStatus) *TaskStatus { return &s }

	tests := []struct {
		name         string
		start        Task
		patch        TaskPatch
		wantStatus   TaskStatus
		wantProgress int
		wantErr      bool
	}{
		{
			name:         "status done sets progress",
			start:        Task{Status: TaskInProgress, Progress: 40},
			patch:        TaskPatch{Status: statusp(TaskDone)},
			wantStatus:   TaskDone,
			wantProgress: 100,
		},
		{
			name:         "progress 100 sets done",
			start:        Task{Status: TaskPending},
			patch:        TaskPatch{Progress: intp(100)},
			wantStatus:   TaskDone,
			wantProgress: 100,
		},
		{
			name:         "reopen to in-progress caps progress",
			start:        Task{Status: TaskDone, Progress: 100},
			patch:        TaskPatch{Status: statusp(TaskInProgress)},
			wantStatus:   TaskInProgress,
			wantProgress: 99,
		},
		{
			name:         "reopen to pending resets progress",
			start:        Task{Status: TaskDone, Progress: 100},
			patch:        TaskPatch{Status: statusp(TaskPending)},
			wantStatus:   TaskPending,
			wantProgress: 0,
		},
		{
			name:         "lower progress reopens",
			start:        Task{Status: TaskDone, Progress: 100},
			patch:        TaskPatch{Progress: intp(60)},
			wantStatus:   TaskInProgress,
			wantProgress: 60,
		},
		{
			name:    "contradiction rejected",
			start:   Task{Status: TaskPending},
			patch:   TaskPatch{Progress: intp(100), Status: statusp(TaskPending)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := tt.start
			err := tt.patch.Apply(&task)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Apply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if task.Status != tt.wantStatus || task.Progress != tt.wantProgress {
				t.Errorf("got status=%s progress=%d, want status=%s progress=%d",
					task.Status, task.Progress, tt.wantStatus, tt.wantProgress)
			}
		})
	}
}

func TestSnapshot_EncodeDecode(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	snap := NewSnapshot(now)
	snap.Events["e1"] = &Event{ID: "e1", Title: "Planning", Date: "2025-03-10", CreatedAt: now, UpdatedAt: now}
	snap.Tasks["t1"] = &Task{ID: "t1", Title: "Prep", StartDate: "2025-03-10", CreatedAt: now, UpdatedAt: now}
	snap.Seal(now)

	data, err := snap.Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	got, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot() failed: %v", err)
	}
	if got.Metadata.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", got.Metadata.TotalRecords)
	}
	if got.Events["e1"].Title != "Planning" || !got.Tasks["t1"].UpdatedAt.Equal(now) {
		t.Errorf("decoded snapshot lost data: %+v", got)
	}

	if _, err := DecodeSnapshot([]byte(`{"metadata":{"schema_version":99}}`)); err == nil {
		t.Error("expected error for newer schema version")
	}
}

func TestTouchIsMonotonic(t *testing.T) {
	prev := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	if got := Touch(prev, prev.Add(-time.Hour)); !got.Equal(prev) {
		t.Errorf("Touch went backwards: %v", got)
	}
	later := prev.Add(time.Minute)
	if got := Touch(prev, later); !got.Equal(later) {
		t.Errorf("Touch() = %v, want %v", got, later)
	}
}

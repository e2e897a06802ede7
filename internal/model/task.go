package model

import (
	"slices"
	"time"
)

// Task is a unit of work owned by exactly one responsible person.
type Task struct {
	// ===== Core Identification =====
	ID string `json:"id"`

	// ===== Content =====
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Category    TaskCategory `json:"category"`
	Status      TaskStatus   `json:"status"`
	Priority    Priority     `json:"priority"`
	Progress    int          `json:"progress"` // 0-100; 100 iff status is done

	// ===== Scheduling =====
	StartDate        string `json:"start_date"`           // YYYY-MM-DD
	EndDate          string `json:"end_date,omitempty"`   // YYYY-MM-DD
	StartTime        string `json:"start_time,omitempty"` // HH:MM
	EndTime          string `json:"end_time,omitempty"`   // HH:MM
	EstimatedMinutes int    `json:"estimated_minutes,omitempty"`

	// ===== People & Sharing =====
	Responsible  string     `json:"responsible"`
	Participants []string   `json:"participants,omitempty"`
	Scope        Scope      `json:"scope"`
	Visibility   Visibility `json:"visibility"`

	// ===== Synchronization =====
	SyncedFrom      string   `json:"synced_from,omitempty"` // origin event of a derived task
	SyncKind        SyncKind `json:"sync_kind"`
	PromotedEventID string   `json:"promoted_event_id,omitempty"`

	// ===== Provenance =====
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Synced        bool      `json:"synced"`
	SchemaVersion int       `json:"schema_version"`
}

// SetDefaults fills optional fields that were left empty.
func (t *Task) SetDefaults() {
	if t.Category == "" {
		t.Category = TaskPersonal
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Scope == "" {
		t.Scope = ScopePersonal
	}
	if t.Visibility == "" {
		t.Visibility = defaultVisibility(t.Scope)
	}
	if t.Responsible == "" {
		t.Responsible = t.CreatedBy
	}
	if t.Participants == nil {
		t.Participants = []string{}
	}
	t.Participants = normalizePeople(t.Participants)
	if t.SyncKind == "" {
		t.SyncKind = SyncNone
	}
	if t.SchemaVersion == 0 {
		t.SchemaVersion = SchemaVersion
	}
	t.NormalizeProgress()
}

// NormalizeProgress enforces progress == 100 <=> status == done. Status wins
// when it is done; a full progress bar completes the task otherwise.
func (t *Task) NormalizeProgress() {
	switch {
	case t.Status == TaskDone:
		t.Progress = 100
	case t.Progress >= 100:
		t.Progress = 100
		t.Status = TaskDone
	}
}

// Validate checks required fields and value ranges.
func (t *Task) Validate() error {
	if t.Title == "" {
		return invalid("title", "title is required")
	}
	if len(t.Title) > 500 {
		return invalid("title", "title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.StartDate == "" {
		return invalid("start_date", "start date is required")
	}
	start, err := ParseDate(t.StartDate)
	if err != nil {
		return invalid("start_date", "%v", err)
	}
	if t.EndDate != "" {
		end, err := ParseDate(t.EndDate)
		if err != nil {
			return invalid("end_date", "%v", err)
		}
		if end.Before(start) {
			return invalid("end_date", "end date %s is before start date %s", t.EndDate, t.StartDate)
		}
	}
	if err := validateTimes(t.StartTime, t.EndTime); err != nil {
		return err
	}
	if t.Progress < 0 || t.Progress > 100 {
		return invalid("progress", "progress must be between 0 and 100 (got %d)", t.Progress)
	}
	if (t.Progress == 100) != (t.Status == TaskDone) {
		return invalid("progress", "progress %d does not match status %q", t.Progress, t.Status)
	}
	if t.EstimatedMinutes < 0 {
		return invalid("estimated_minutes", "estimate cannot be negative")
	}
	if t.Responsible == "" {
		return invalid("responsible", "responsible person is required")
	}
	if !t.Category.IsValid() {
		return invalid("category", "unknown category %q", t.Category)
	}
	if !t.Status.IsValid() {
		return invalid("status", "unknown status %q", t.Status)
	}
	if !t.Priority.IsValid() {
		return invalid("priority", "unknown priority %q", t.Priority)
	}
	if !t.Scope.IsValid() {
		return invalid("scope", "unknown scope %q", t.Scope)
	}
	if !t.Visibility.IsValid() {
		return invalid("visibility", "unknown visibility %q", t.Visibility)
	}
	if !t.SyncKind.IsValid() {
		return invalid("sync_kind", "unknown sync kind %q", t.SyncKind)
	}
	if t.SyncKind == SyncDerived && t.SyncedFrom == "" {
		return invalid("synced_from", "derived task needs an origin event")
	}
	return nil
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	c.Participants = slices.Clone(t.Participants)
	return &c
}

// IsDerived reports whether the task was fanned out from an event.
func (t *Task) IsDerived() bool {
	return t.SyncKind == SyncDerived && t.SyncedFrom != ""
}

// Touches returns every person the task concerns: responsible, creator and
// participants.
func (t *Task) Touches() []string {
	people := make([]string, 0, len(t.Participants)+2)
	if t.Responsible != "" {
		people = append(people, t.Responsible)
	}
	if t.CreatedBy != "" && t.CreatedBy != t.Responsible {
		people = append(people, t.CreatedBy)
	}
	return append(people, t.Participants...)
}

// IsPublic reports whether everybody can see the task.
func (t *Task) IsPublic() bool {
	return t.Scope == ScopePublic || t.Visibility == VisibilityPublic
}

// HasParticipant reports whether user is an explicit participant.
func (t *Task) HasParticipant(user string) bool {
	return slices.Contains(t.Participants, user)
}

// VisibleTo reports whether user owns, created or participates in the task,
// or the task is public.
func (t *Task) VisibleTo(user string) bool {
	return t.Responsible == user || t.CreatedBy == user || t.HasParticipant(user) || t.IsPublic()
}

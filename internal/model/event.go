package model

import (
	"slices"
	"time"
)

// Event is a scheduled occurrence on a calendar date.
type Event struct {
	// ===== Core Identification =====
	ID string `json:"id"`

	// ===== Content =====
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Category    EventCategory `json:"category"`
	Status      EventStatus   `json:"status"`

	// ===== Scheduling =====
	Date      string `json:"date"`                 // YYYY-MM-DD
	StartTime string `json:"start_time,omitempty"` // HH:MM
	EndTime   string `json:"end_time,omitempty"`   // HH:MM
	Location  string `json:"location,omitempty"`

	// ===== People & Sharing =====
	Participants []string   `json:"participants,omitempty"`
	Scope        Scope      `json:"scope"`
	Visibility   Visibility `json:"visibility"`

	// ===== Provenance =====
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Synced        bool      `json:"synced"`
	SchemaVersion int       `json:"schema_version"`

	// SourceTaskID is set when the event was created by promoting a task.
	SourceTaskID string `json:"source_task_id,omitempty"`
}

// SetDefaults fills optional fields that were left empty.
func (e *Event) SetDefaults() {
	if e.Category == "" {
		e.Category = EventOther
	}
	if e.Status == "" {
		e.Status = EventScheduled
	}
	if e.Scope == "" {
		e.Scope = ScopePersonal
	}
	if e.Visibility == "" {
		e.Visibility = defaultVisibility(e.Scope)
	}
	if e.Participants == nil {
		e.Participants = []string{}
	}
	e.Participants = normalizePeople(e.Participants)
	if e.SchemaVersion == 0 {
		e.SchemaVersion = SchemaVersion
	}
}

// Validate checks that e carries a title, a valid date and consistent times.
func (e *Event) Validate() error {
	if e.Title == "" {
		return invalid("title", "title is required")
	}
	if len(e.Title) > 500 {
		return invalid("title", "title must be 500 characters or less (got %d)", len(e.Title))
	}
	if e.Date == "" {
		return invalid("date", "date is required")
	}
	if _, err := ParseDate(e.Date); err != nil {
		return invalid("date", "%v", err)
	}
	if err := validateTimes(e.StartTime, e.EndTime); err != nil {
		return err
	}
	if !e.Category.IsValid() {
		return invalid("category", "unknown category %q", e.Category)
	}
	if !e.Status.IsValid() {
		return invalid("status", "unknown status %q", e.Status)
	}
	if !e.Scope.IsValid() {
		return invalid("scope", "unknown scope %q", e.Scope)
	}
	if !e.Visibility.IsValid() {
		return invalid("visibility", "unknown visibility %q", e.Visibility)
	}
	return nil
}

// Clone returns a deep copy of e.
func (e *Event) Clone() *Event {
	c := *e
	c.Participants = slices.Clone(e.Participants)
	return &c
}

// Touches returns every person the event concerns: creator and participants.
func (e *Event) Touches() []string {
	people := make([]string, 0, len(e.Participants)+1)
	if e.CreatedBy != "" {
		people = append(people, e.CreatedBy)
	}
	return append(people, e.Participants...)
}

// IsPublic reports whether everybody can see the event.
func (e *Event) IsPublic() bool {
	return e.Scope == ScopePublic || e.Visibility == VisibilityPublic
}

// HasParticipant reports whether user is an explicit participant.
func (e *Event) HasParticipant(user string) bool {
	return slices.Contains(e.Participants, user)
}

// VisibleTo reports whether user is the creator, a participant, or the event
// is public.
func (e *Event) VisibleTo(user string) bool {
	return e.CreatedBy == user || e.HasParticipant(user) || e.IsPublic()
}

func validateTimes(start, end string) error {
	var s, en time.Duration
	var err error
	if start != "" {
		if s, err = ParseClock(start); err != nil {
			return invalid("start_time", "%v", err)
		}
	}
	if end != "" {
		if start == "" {
			return invalid("end_time", "end time requires a start time")
		}
		if en, err = ParseClock(end); err != nil {
			return invalid("end_time", "%v", err)
		}
		if en <= s {
			return invalid("end_time", "end time %s must be after start time %s", end, start)
		}
	}
	return nil
}

func defaultVisibility(s Scope) Visibility {
	switch s {
	case ScopePublic:
		return VisibilityPublic
	case ScopeTeam:
		return VisibilityTeam
	}
	return VisibilityPrivate
}

// normalizePeople drops blanks and duplicates while keeping order.
func normalizePeople(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, p := range in {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

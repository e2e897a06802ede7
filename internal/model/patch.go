package model

// EventPatch holds the fields an edit call may change. Nil fields are left
// untouched.
type EventPatch struct {
	Title        *string        `json:"title,omitempty"`
	Description  *string        `json:"description,omitempty"`
	Category     *EventCategory `json:"category,omitempty"`
	Status       *EventStatus   `json:"status,omitempty"`
	Date         *string        `json:"date,omitempty"`
	StartTime    *string        `json:"start_time,omitempty"`
	EndTime      *string        `json:"end_time,omitempty"`
	Location     *string        `json:"location,omitempty"`
	Participants *[]string      `json:"participants,omitempty"`
	Scope        *Scope         `json:"scope,omitempty"`
	Visibility   *Visibility    `json:"visibility,omitempty"`
}

// Apply merges p into e. The caller validates the result.
func (p EventPatch) Apply(e *Event) {
	setIf(&e.Title, p.Title)
	setIf(&e.Description, p.Description)
	setIf(&e.Category, p.Category)
	setIf(&e.Status, p.Status)
	setIf(&e.Date, p.Date)
	setIf(&e.StartTime, p.StartTime)
	setIf(&e.EndTime, p.EndTime)
	setIf(&e.Location, p.Location)
	setIf(&e.Scope, p.Scope)
	setIf(&e.Visibility, p.Visibility)
	if p.Participants != nil {
		e.Participants = normalizePeople(*p.Participants)
	}
}

// TaskPatch holds the fields an edit call may change. Synchronization
// metadata is not patchable; the sync engine links promotions through the
// store directly.
type TaskPatch struct {
	Title            *string       `json:"title,omitempty"`
	Description      *string       `json:"description,omitempty"`
	Category         *TaskCategory `json:"category,omitempty"`
	Status           *TaskStatus   `json:"status,omitempty"`
	Priority         *Priority     `json:"priority,omitempty"`
	Progress         *int          `json:"progress,omitempty"`
	StartDate        *string       `json:"start_date,omitempty"`
	EndDate          *string       `json:"end_date,omitempty"`
	StartTime        *string       `json:"start_time,omitempty"`
	EndTime          *string       `json:"end_time,omitempty"`
	EstimatedMinutes *int          `json:"estimated_minutes,omitempty"`
	Responsible      *string       `json:"responsible,omitempty"`
	Participants     *[]string     `json:"participants,omitempty"`
	Scope            *Scope        `json:"scope,omitempty"`
	Visibility       *Visibility   `json:"visibility,omitempty"`
}

// Apply merges p into t and keeps progress and status linked:
//   - status done forces progress 100, progress 100 forces status done
//   - moving a finished task to pending resets progress to 0; any other
//     non-done status caps progress at 99
//   - lowering progress on a done task reopens it
//
// A patch that sets both fields inconsistently is rejected.
func (p TaskPatch) Apply(t *Task) error {
	if p.Status != nil && p.Progress != nil && (*p.Progress == 100) != (*p.Status == TaskDone) {
		return invalid("progress", "progress %d contradicts status %q", *p.Progress, *p.Status)
	}

	setIf(&t.Title, p.Title)
	setIf(&t.Description, p.Description)
	setIf(&t.Category, p.Category)
	setIf(&t.Priority, p.Priority)
	setIf(&t.StartDate, p.StartDate)
	setIf(&t.EndDate, p.EndDate)
	setIf(&t.StartTime, p.StartTime)
	setIf(&t.EndTime, p.EndTime)
	setIf(&t.EstimatedMinutes, p.EstimatedMinutes)
	setIf(&t.Responsible, p.Responsible)
	setIf(&t.Scope, p.Scope)
	setIf(&t.Visibility, p.Visibility)
	if p.Participants != nil {
		t.Participants = normalizePeople(*p.Participants)
	}

	switch {
	case p.Status != nil && p.Progress != nil:
		t.Status, t.Progress = *p.Status, *p.Progress
	case p.Status != nil:
		t.Status = *p.Status
		switch {
		case t.Status == TaskDone:
			t.Progress = 100
		case t.Progress >= 100 && t.Status == TaskPending:
			t.Progress = 0
		case t.Progress >= 100:
			t.Progress = 99
		}
	case p.Progress != nil:
		t.Progress = *p.Progress
		switch {
		case t.Progress >= 100:
			t.Status = TaskDone
		case t.Status == TaskDone && t.Progress == 0:
			t.Status = TaskPending
		case t.Status == TaskDone:
			t.Status = TaskInProgress
		}
	}
	return nil
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p == TaskPatch{}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Package model defines the event and task records shared by the store,
// the persistence tiers and the sync engine.
package model

// SchemaVersion is stamped on every record and on persisted snapshots.
const SchemaVersion = 2

// EventCategory classifies an event.
type EventCategory string

const (
	EventMeeting     EventCategory = "meeting"
	EventDelivery    EventCategory = "delivery"
	EventDeadline    EventCategory = "deadline"
	EventMilestone   EventCategory = "milestone"
	EventTeamMeeting EventCategory = "team-meeting"
	EventTraining    EventCategory = "training"
	EventOther       EventCategory = "other"
)

// IsValid reports whether c is a known event category.
func (c EventCategory) IsValid() bool {
	switch c {
	case EventMeeting, EventDelivery, EventDeadline, EventMilestone,
		EventTeamMeeting, EventTraining, EventOther:
		return true
	}
	return false
}

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventConfirmed EventStatus = "confirmed"
	EventDone      EventStatus = "done"
	EventCancelled EventStatus = "cancelled"
)

// IsValid reports whether s is a known event status.
func (s EventStatus) IsValid() bool {
	switch s {
	case EventScheduled, EventConfirmed, EventDone, EventCancelled:
		return true
	}
	return false
}

// TaskCategory classifies a task.
type TaskCategory string

const (
	TaskPersonal TaskCategory = "personal"
	TaskTeam     TaskCategory = "team"
	TaskProject  TaskCategory = "project"
	TaskUrgent   TaskCategory = "urgent"
	TaskRoutine  TaskCategory = "routine"
)

// IsValid reports whether c is a known task category.
func (c TaskCategory) IsValid() bool {
	switch c {
	case TaskPersonal, TaskTeam, TaskProject, TaskUrgent, TaskRoutine:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsValid reports whether s is a known task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskDone, TaskCancelled:
		return true
	}
	return false
}

// Priority of a task. Each level has a numeric weight used for sorting.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Weight returns the sort weight of p. Higher is more urgent; unknown
// priorities weigh zero.
func (p Priority) Weight() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	return p.Weight() > 0
}

// Scope says who a record belongs to.
type Scope string

const (
	ScopePersonal Scope = "personal"
	ScopeTeam     Scope = "team"
	ScopePublic   Scope = "public"
)

// IsValid reports whether s is a known scope.
func (s Scope) IsValid() bool {
	switch s {
	case ScopePersonal, ScopeTeam, ScopePublic:
		return true
	}
	return false
}

// Visibility says who may see a record.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityTeam    Visibility = "team"
	VisibilityPublic  Visibility = "public"
)

// IsValid reports whether v is a known visibility.
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPrivate, VisibilityTeam, VisibilityPublic:
		return true
	}
	return false
}

// SyncKind records how a task relates to events.
type SyncKind string

const (
	SyncNone     SyncKind = "none"
	SyncDerived  SyncKind = "derived-from-event"
	SyncPromoted SyncKind = "promoted-to-event"
)

// IsValid reports whether k is a known sync kind.
func (k SyncKind) IsValid() bool {
	switch k {
	case SyncNone, SyncDerived, SyncPromoted:
		return true
	}
	return false
}

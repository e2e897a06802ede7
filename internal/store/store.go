// Package store is the single source of truth for events and tasks.
//
// The Store owns the canonical maps of both collections plus the derived
// lookup indices (events by date, events by participant, tasks by owner,
// tasks by status, derived tasks by origin event). Every mutation updates
// only the index buckets it affects; rebuildIndices is used once at cold
// start.
//
// Mutations are synchronous and atomic from the caller's point of view.
// Records leave the store only as copies, so no collaborator or persistence
// tier can change the canonical maps behind the store's back.
//
// After each mutation the store marks the record dirty, asks the persister
// for a debounced write and emits a change notification on the bus.
package store

import (
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orgplan/planner/internal/model"
	"github.com/orgplan/planner/internal/notify"
)

// PersistRequester schedules a debounced persistence round.
type PersistRequester interface {
	RequestPersist()
}

// Config holds store configuration.
type Config struct {
	// CacheTTL is how long per-user query results stay cached.
	CacheTTL time.Duration

	// Clock supplies timestamps (default: time.Now).
	Clock model.Clock

	// NewID generates record ids (default: uuid based).
	NewID func(kind string) string

	// Logger for store activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CacheTTL: 30 * time.Second,
		Clock:    time.Now,
		NewID:    newID,
		Logger:   log.New(os.Stderr, "[store] ", log.LstdFlags),
	}
}

func newID(kind string) string {
	prefix := "tk-"
	if kind == kindEvent {
		prefix = "ev-"
	}
	return prefix + uuid.NewString()
}

const (
	kindEvent = "event"
	kindTask  = "task"
)

// Marks records the revision of every dirty record at the moment a snapshot
// was taken. MarkSynced only flips records whose revision is unchanged.
type Marks struct {
	Events map[string]uint64
	Tasks  map[string]uint64
}

// Stats summarizes the store's contents.
type Stats struct {
	Events      int `json:"events"`
	Tasks       int `json:"tasks"`
	DerivedTask int `json:"derived_tasks"`
	DirtyEvents int `json:"dirty_events"`
	DirtyTasks  int `json:"dirty_tasks"`
}

// Store is the unified in-memory store. Create it with New; the zero value is
// not usable.
type Store struct {
	mu     sync.RWMutex
	events map[string]*model.Event
	tasks  map[string]*model.Task
	idx    indices

	rev         uint64
	dirtyEvents map[string]uint64
	dirtyTasks  map[string]uint64

	cache     *queryCache
	bus       *notify.Bus
	persister PersistRequester
	config    *Config
}

// New creates an empty store publishing notifications on bus (may be nil).
func New(bus *notify.Bus, config *Config) *Store {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.NewID == nil {
		config.NewID = defaults.NewID
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Store{
		events:      make(map[string]*model.Event),
		tasks:       make(map[string]*model.Task),
		idx:         newIndices(),
		dirtyEvents: make(map[string]uint64),
		dirtyTasks:  make(map[string]uint64),
		cache:       newQueryCache(config.CacheTTL, config.Clock),
		bus:         bus,
		config:      config,
	}
}

// SetPersister wires the persistence scheduler. It must be called before the
// store is shared between goroutines.
func (s *Store) SetPersister(p PersistRequester) {
	s.persister = p
}

// Bus returns the notification bus the store publishes on.
func (s *Store) Bus() *notify.Bus {
	return s.bus
}

// ===== Events =====

// CreateEvent validates data, assigns identity and provenance, inserts the
// event and returns a copy of it. A source task in data is ignored; promoted
// events are created with CreatePromotedEvent.
func (s *Store) CreateEvent(data model.Event) (model.Event, error) {
	return s.insertEvent(collaboratorEvent(data))
}

// CheckEvent reports whether CreateEvent would accept data, without storing
// anything.
func (s *Store) CheckEvent(data model.Event) error {
	return prepareEvent(collaboratorEvent(data))
}

func collaboratorEvent(data model.Event) *model.Event {
	e := data.Clone()
	e.SourceTaskID = ""
	return e
}

func prepareEvent(e *model.Event) error {
	e.SetDefaults()
	return e.Validate()
}

// CreatePromotedEvent creates an event that records the task it was promoted
// from. The source task must exist.
func (s *Store) CreatePromotedEvent(data model.Event) (model.Event, error) {
	if data.SourceTaskID == "" {
		return model.Event{}, &model.ValidationError{Field: "source_task_id", Message: "promoted event needs a source task"}
	}
	return s.insertEvent(data.Clone())
}

func (s *Store) insertEvent(e *model.Event) (model.Event, error) {
	if err := prepareEvent(e); err != nil {
		return model.Event{}, err
	}

	now := s.config.Clock()
	e.ID = s.config.NewID(kindEvent)
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Synced = false
	e.SchemaVersion = model.SchemaVersion

	s.mu.Lock()
	if e.SourceTaskID != "" {
		if _, ok := s.tasks[e.SourceTaskID]; !ok {
			s.mu.Unlock()
			return model.Event{}, &NotFoundError{Kind: kindTask, ID: e.SourceTaskID}
		}
	}
	s.events[e.ID] = e
	s.idx.addEvent(e)
	s.markEventDirty(e.ID)
	out := *e.Clone()
	s.mu.Unlock()

	s.invalidateEvent(nil, e)
	s.afterMutation(notify.Notification{Kind: notify.Created, Entity: notify.EntityEvent, ID: e.ID, Event: &out})
	return out, nil
}

// EditEvent merges patch into the event with the given id.
func (s *Store) EditEvent(id string, patch model.EventPatch) (model.Event, error) {
	s.mu.Lock()
	cur, ok := s.events[id]
	if !ok {
		s.mu.Unlock()
		return model.Event{}, &NotFoundError{Kind: kindEvent, ID: id}
	}

	next := cur.Clone()
	patch.Apply(next)
	next.SetDefaults()
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return model.Event{}, err
	}
	next.UpdatedAt = model.Touch(cur.UpdatedAt, s.config.Clock())
	next.Synced = false

	s.idx.removeEvent(cur)
	s.events[id] = next
	s.idx.addEvent(next)
	s.markEventDirty(id)
	out := *next.Clone()
	s.mu.Unlock()

	s.invalidateEvent(cur, next)
	s.afterMutation(notify.Notification{Kind: notify.Edited, Entity: notify.EntityEvent, ID: id, Event: &out})
	return out, nil
}

// DeleteEvent removes the event, the tasks derived from it, and the promotion
// link of the task it was promoted from.
func (s *Store) DeleteEvent(id string) error {
	s.mu.Lock()
	cur, ok := s.events[id]
	if !ok {
		s.mu.Unlock()
		return &NotFoundError{Kind: kindEvent, ID: id}
	}

	s.idx.removeEvent(cur)
	delete(s.events, id)
	delete(s.dirtyEvents, id)
	s.rev++

	var notes []notify.Notification
	notes = append(notes, notify.Notification{Kind: notify.Deleted, Entity: notify.EntityEvent, ID: id, Event: cur.Clone()})

	var touched []*model.Task
	for _, tid := range s.idx.derivedByOrigin.ids(id) {
		t := s.tasks[tid]
		s.removeTaskLocked(t)
		touched = append(touched, t)
		notes = append(notes, notify.Notification{Kind: notify.Deleted, Entity: notify.EntityTask, ID: tid, Task: t.Clone()})
	}

	if cur.SourceTaskID != "" {
		if src, ok := s.tasks[cur.SourceTaskID]; ok && src.PromotedEventID == id {
			next := src.Clone()
			next.PromotedEventID = ""
			next.SyncKind = model.SyncNone
			next.UpdatedAt = model.Touch(src.UpdatedAt, s.config.Clock())
			next.Synced = false
			s.tasks[src.ID] = next
			s.markTaskDirty(src.ID)
			touched = append(touched, next)
			notes = append(notes, notify.Notification{Kind: notify.Edited, Entity: notify.EntityTask, ID: src.ID, Task: next.Clone()})
		}
	}
	s.mu.Unlock()

	if len(notes) > 1 {
		s.config.Logger.Printf("Deleted event %s and updated %d linked tasks", id, len(notes)-1)
	}

	s.invalidateEvent(cur, nil)
	for _, t := range touched {
		s.invalidateTask(t, nil)
	}
	s.afterMutation(notes...)
	return nil
}

// GetEvent returns a copy of the event with the given id.
func (s *Store) GetEvent(id string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return model.Event{}, &NotFoundError{Kind: kindEvent, ID: id}
	}
	return *e.Clone(), nil
}

// ListEvents returns copies of all events ordered by date and start time.
func (s *Store) ListEvents() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e.Clone())
	}
	sortEvents(out)
	return out
}

// EventsOn returns the events scheduled on date (YYYY-MM-DD).
func (s *Store) EventsOn(date string) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventsByIDs(s.idx.eventsByDate.ids(date))
}

// EventsForParticipant returns the events listing user as a participant.
func (s *Store) EventsForParticipant(user string) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventsByIDs(s.idx.eventsByParticipant.ids(user))
}

// QueryEventsForUser returns every event the user created, participates in,
// or that is public. Results are cached per user.
func (s *Store) QueryEventsForUser(user string) []model.Event {
	if cached, ok := s.cache.getEvents(user); ok {
		return cloneEvents(cached)
	}

	gen := s.cache.generation()
	s.mu.RLock()
	out := make([]model.Event, 0)
	for _, e := range s.events {
		if e.VisibleTo(user) {
			out = append(out, *e.Clone())
		}
	}
	s.mu.RUnlock()

	sortEvents(out)
	s.cache.putEvents(user, out, gen)
	return cloneEvents(out)
}

// ===== Tasks =====

// CreateTask validates data, assigns identity and provenance, inserts the
// task and returns a copy of it. Sync metadata in data is ignored: tasks
// created here are never derived or promoted.
func (s *Store) CreateTask(data model.Task) (model.Task, error) {
	return s.insertTask(collaboratorTask(data))
}

// CheckTask reports whether CreateTask would accept data, without storing
// anything.
func (s *Store) CheckTask(data model.Task) error {
	return prepareTask(collaboratorTask(data))
}

func collaboratorTask(data model.Task) *model.Task {
	t := data.Clone()
	t.SyncKind = model.SyncNone
	t.SyncedFrom = ""
	return t
}

func prepareTask(t *model.Task) error {
	t.PromotedEventID = ""
	t.SetDefaults()
	return t.Validate()
}

// CreateDerivedTask inserts a task fanned out from the event named by
// data.SyncedFrom. The origin event must exist.
func (s *Store) CreateDerivedTask(data model.Task) (model.Task, error) {
	if data.SyncedFrom == "" {
		return model.Task{}, &model.ValidationError{Field: "synced_from", Message: "derived task needs an origin event"}
	}
	t := data.Clone()
	t.SyncKind = model.SyncDerived
	return s.insertTask(t)
}

func (s *Store) insertTask(t *model.Task) (model.Task, error) {
	if err := prepareTask(t); err != nil {
		return model.Task{}, err
	}

	now := s.config.Clock()
	t.ID = s.config.NewID(kindTask)
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Synced = false
	t.SchemaVersion = model.SchemaVersion

	s.mu.Lock()
	if t.SyncedFrom != "" {
		if _, ok := s.events[t.SyncedFrom]; !ok {
			s.mu.Unlock()
			return model.Task{}, &NotFoundError{Kind: kindEvent, ID: t.SyncedFrom}
		}
	}
	s.tasks[t.ID] = t
	s.idx.addTask(t)
	s.markTaskDirty(t.ID)
	out := *t.Clone()
	s.mu.Unlock()

	s.invalidateTask(nil, t)
	s.afterMutation(notify.Notification{Kind: notify.Created, Entity: notify.EntityTask, ID: t.ID, Task: &out})
	return out, nil
}

// EditTask merges patch into the task with the given id. Progress and status
// stay linked on every path.
func (s *Store) EditTask(id string, patch model.TaskPatch) (model.Task, error) {
	s.mu.Lock()
	cur, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return model.Task{}, &NotFoundError{Kind: kindTask, ID: id}
	}

	next := cur.Clone()
	if err := patch.Apply(next); err != nil {
		s.mu.Unlock()
		return model.Task{}, err
	}
	next.SetDefaults()
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return model.Task{}, err
	}
	out := s.replaceTaskLocked(cur, next)
	s.mu.Unlock()

	s.invalidateTask(cur, next)
	s.afterMutation(notify.Notification{Kind: notify.Edited, Entity: notify.EntityTask, ID: id, Task: &out})
	return out, nil
}

// LinkPromotion records that the task was promoted into eventID.
func (s *Store) LinkPromotion(taskID, eventID string) (model.Task, error) {
	s.mu.Lock()
	cur, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return model.Task{}, &NotFoundError{Kind: kindTask, ID: taskID}
	}

	next := cur.Clone()
	next.SyncKind = model.SyncPromoted
	next.PromotedEventID = eventID
	out := s.replaceTaskLocked(cur, next)
	s.mu.Unlock()

	s.invalidateTask(cur, next)
	s.afterMutation(notify.Notification{Kind: notify.Edited, Entity: notify.EntityTask, ID: taskID, Task: &out})
	return out, nil
}

// DeleteTask removes the task with the given id.
func (s *Store) DeleteTask(id string) error {
	s.mu.Lock()
	cur, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return &NotFoundError{Kind: kindTask, ID: id}
	}
	s.removeTaskLocked(cur)
	s.mu.Unlock()

	s.invalidateTask(cur, nil)
	s.afterMutation(notify.Notification{Kind: notify.Deleted, Entity: notify.EntityTask, ID: id, Task: cur.Clone()})
	return nil
}

// GetTask returns a copy of the task with the given id.
func (s *Store) GetTask(id string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return model.Task{}, &NotFoundError{Kind: kindTask, ID: id}
	}
	return *t.Clone(), nil
}

// ListTasks returns copies of all tasks, most urgent first.
func (s *Store) ListTasks() []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t.Clone())
	}
	sortTasks(out)
	return out
}

// TasksByOwner returns the tasks the user is responsible for.
func (s *Store) TasksByOwner(user string) []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasksByIDs(s.idx.tasksByOwner.ids(user))
}

// TasksByStatus returns the tasks in the given status.
func (s *Store) TasksByStatus(status model.TaskStatus) []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasksByIDs(s.idx.tasksByStatus.ids(string(status)))
}

// DerivedTasks returns the tasks fanned out from eventID.
func (s *Store) DerivedTasks(eventID string) []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasksByIDs(s.idx.derivedByOrigin.ids(eventID))
}

// AllDerivedTasks returns every derived task in the store.
func (s *Store) AllDerivedTasks() []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Task
	for origin := range s.idx.derivedByOrigin {
		out = append(out, s.tasksByIDs(s.idx.derivedByOrigin.ids(origin))...)
	}
	return out
}

// QueryTasksForUser returns every task the user owns, created, participates
// in, or that is public. Results are cached per user.
func (s *Store) QueryTasksForUser(user string) []model.Task {
	if cached, ok := s.cache.getTasks(user); ok {
		return cloneTasks(cached)
	}

	gen := s.cache.generation()
	s.mu.RLock()
	out := make([]model.Task, 0, s.idx.tasksByOwner.size(user))
	for _, t := range s.tasks {
		if t.VisibleTo(user) {
			out = append(out, *t.Clone())
		}
	}
	s.mu.RUnlock()

	sortTasks(out)
	s.cache.putTasks(user, out, gen)
	return cloneTasks(out)
}

// ===== Persistence support =====

// Snapshot returns a deep copy of the canonical collections and the revision
// marks of every dirty record. Copies carry synced=true because they are the
// form the tiers will durably hold.
func (s *Store) Snapshot() (*model.Snapshot, Marks) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := model.NewSnapshot(s.config.Clock())
	for id, e := range s.events {
		c := e.Clone()
		c.Synced = true
		snap.Events[id] = c
	}
	for id, t := range s.tasks {
		c := t.Clone()
		c.Synced = true
		snap.Tasks[id] = c
	}
	snap.Seal(s.config.Clock())

	marks := Marks{
		Events: make(map[string]uint64, len(s.dirtyEvents)),
		Tasks:  make(map[string]uint64, len(s.dirtyTasks)),
	}
	for id, rev := range s.dirtyEvents {
		marks.Events[id] = rev
	}
	for id, rev := range s.dirtyTasks {
		marks.Tasks[id] = rev
	}
	return snap, marks
}

// MarkSynced sets synced=true on every record whose revision still matches
// marks. Records edited after the snapshot stay dirty for the next round.
func (s *Store) MarkSynced(marks Marks) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rev := range marks.Events {
		if s.dirtyEvents[id] != rev {
			continue
		}
		if e, ok := s.events[id]; ok {
			e.Synced = true
			n++
		}
		delete(s.dirtyEvents, id)
	}
	for id, rev := range marks.Tasks {
		if s.dirtyTasks[id] != rev {
			continue
		}
		if t, ok := s.tasks[id]; ok {
			t.Synced = true
			n++
		}
		delete(s.dirtyTasks, id)
	}
	return n
}

// Load replaces the canonical collections with the contents of snap and
// rebuilds the indices. Loaded records count as synced.
func (s *Store) Load(snap *model.Snapshot) {
	s.mu.Lock()
	s.events = make(map[string]*model.Event, len(snap.Events))
	s.tasks = make(map[string]*model.Task, len(snap.Tasks))
	for id, e := range snap.Events {
		c := e.Clone()
		c.ID = id
		c.Synced = true
		s.events[id] = c
	}
	for id, t := range snap.Tasks {
		c := t.Clone()
		c.ID = id
		c.Synced = true
		c.NormalizeProgress()
		s.tasks[id] = c
	}
	clear(s.dirtyEvents)
	clear(s.dirtyTasks)
	s.rebuildIndicesLocked()
	s.mu.Unlock()

	s.cache.invalidateAll()
	s.config.Logger.Printf("Loaded %d events and %d tasks", len(snap.Events), len(snap.Tasks))
}

// RebuildIndices recomputes every index from the canonical collections.
// This is O(n) and meant for cold start only.
func (s *Store) RebuildIndices() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildIndicesLocked()
}

// Stats returns record and dirty counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	derived := 0
	for _, bucket := range s.idx.derivedByOrigin {
		derived += len(bucket)
	}
	return Stats{
		Events:      len(s.events),
		Tasks:       len(s.tasks),
		DerivedTask: derived,
		DirtyEvents: len(s.dirtyEvents),
		DirtyTasks:  len(s.dirtyTasks),
	}
}

// ===== Internals =====

func (s *Store) rebuildIndicesLocked() {
	s.idx = newIndices()
	for _, e := range s.events {
		s.idx.addEvent(e)
	}
	for _, t := range s.tasks {
		s.idx.addTask(t)
	}
}

// replaceTaskLocked swaps cur for next, bumping provenance and indices.
func (s *Store) replaceTaskLocked(cur, next *model.Task) model.Task {
	next.UpdatedAt = model.Touch(cur.UpdatedAt, s.config.Clock())
	next.Synced = false

	s.idx.removeTask(cur)
	s.tasks[next.ID] = next
	s.idx.addTask(next)
	s.markTaskDirty(next.ID)
	return *next.Clone()
}

func (s *Store) removeTaskLocked(t *model.Task) {
	s.idx.removeTask(t)
	delete(s.tasks, t.ID)
	delete(s.dirtyTasks, t.ID)
	s.rev++
}

func (s *Store) markEventDirty(id string) {
	s.rev++
	s.dirtyEvents[id] = s.rev
}

func (s *Store) markTaskDirty(id string) {
	s.rev++
	s.dirtyTasks[id] = s.rev
}

func (s *Store) invalidateEvent(before, after *model.Event) {
	if (before != nil && before.IsPublic()) || (after != nil && after.IsPublic()) {
		s.cache.invalidateAll()
		return
	}
	if before != nil {
		s.cache.invalidate(before.Touches()...)
	}
	if after != nil {
		s.cache.invalidate(after.Touches()...)
	}
}

func (s *Store) invalidateTask(before, after *model.Task) {
	if (before != nil && before.IsPublic()) || (after != nil && after.IsPublic()) {
		s.cache.invalidateAll()
		return
	}
	if before != nil {
		s.cache.invalidate(before.Touches()...)
	}
	if after != nil {
		s.cache.invalidate(after.Touches()...)
	}
}

// afterMutation requests a debounced persist and emits notifications. It runs
// outside the store lock so listeners may call back into the store.
func (s *Store) afterMutation(notes ...notify.Notification) {
	if s.persister != nil {
		s.persister.RequestPersist()
	}
	for _, n := range notes {
		s.bus.Emit(n)
	}
}

func (s *Store) eventsByIDs(ids []string) []model.Event {
	out := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			out = append(out, *e.Clone())
		}
	}
	sortEvents(out)
	return out
}

func (s *Store) tasksByIDs(ids []string) []model.Task {
	out := make([]model.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			out = append(out, *t.Clone())
		}
	}
	sortTasks(out)
	return out
}

func sortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
}

// sortTasks orders by priority weight (highest first), then start date.
func sortTasks(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
			return wa > wb
		}
		if a.StartDate != b.StartDate {
			return a.StartDate < b.StartDate
		}
		return a.ID < b.ID
	})
}

func cloneEvents(in []model.Event) []model.Event {
	out := make([]model.Event, len(in))
	for i := range in {
		out[i] = *in[i].Clone()
	}
	return out
}

func cloneTasks(in []model.Task) []model.Task {
	out := make([]model.Task, len(in))
	for i := range in {
		out[i] = *in[i].Clone()
	}
	return out
}

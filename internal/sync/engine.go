// Package sync keeps events and tasks loosely consistent.
//
// Fan-out derives one task per event participant. Fan-in promotes a task
// into a new event. For any (event, participant) pair there is at most one
// derived task: fan-out is single-flight, and a periodic sweep heals the
// duplicates that concurrent passes can still produce.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/orgplan/planner/internal/model"
	"github.com/orgplan/planner/internal/notify"
	"github.com/orgplan/planner/internal/store"
)

// Config holds engine configuration.
type Config struct {
	// OriginMarker prefixes the title of every derived task.
	OriginMarker string

	// DefaultDuration is used for promoted events when the task carries no
	// estimate.
	DefaultDuration time.Duration

	// DefaultStart is the HH:MM start of promoted events when the task has
	// no start time.
	DefaultStart string

	// Logger for sync activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OriginMarker:    "[Event] ",
		DefaultDuration: time.Hour,
		DefaultStart:    "09:00",
		Logger:          log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Result summarizes a fan-out call.
type Result struct {
	Skipped bool `json:"skipped"`
	Passes  int  `json:"passes"`
	Created int  `json:"created"`
	Removed int  `json:"removed"`
}

// SweepResult summarizes a duplicate sweep.
type SweepResult struct {
	Duplicates int `json:"duplicates"`
	Orphans    int `json:"orphans"`
}

// Stats are cumulative engine counters.
type Stats struct {
	Passes            int64     `json:"passes"`
	DerivedCreated    int64     `json:"derived_created"`
	DuplicatesRemoved int64     `json:"duplicates_removed"`
	OrphansRemoved    int64     `json:"orphans_removed"`
	LastPass          time.Time `json:"last_pass"`
}

// Engine is the event-task synchronization engine.
type Engine struct {
	store  *store.Store
	config *Config

	running atomic.Bool
	rerun   atomic.Bool

	// promoting serializes promotions so a task cannot be promoted twice.
	promoting chan struct{}

	passes            atomic.Int64
	created           atomic.Int64
	duplicatesRemoved atomic.Int64
	orphansRemoved    atomic.Int64
	lastPass          atomic.Int64

	trigger chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	unsub   func()
}

// New creates an engine operating on s.
func New(s *store.Store, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.DefaultDuration <= 0 {
		config.DefaultDuration = defaults.DefaultDuration
	}
	if config.DefaultStart == "" {
		config.DefaultStart = defaults.DefaultStart
	}

	return &Engine{
		store:     s,
		config:    config,
		promoting: make(chan struct{}, 1),
		trigger:   make(chan struct{}, 1),
	}
}

// ===== Fan-out =====

// SyncEventsToTasks derives missing tasks for every event participant and
// removes duplicate derived tasks it finds on the way. If a pass is already
// running the call returns immediately with Skipped set, and the running
// pass does one more round before it finishes.
func (e *Engine) SyncEventsToTasks() (Result, error) {
	var total Result
	var errs []error

	// rerun is raised before the running check and re-read after running is
	// released, so a request is either served here or seen by the holder.
	e.rerun.Store(true)
	for e.rerun.Load() {
		if !e.running.CompareAndSwap(false, true) {
			break
		}
		for e.rerun.Swap(false) {
			r, err := e.fanOut()
			total.Passes++
			total.Created += r.Created
			total.Removed += r.Removed
			if err != nil {
				errs = append(errs, err)
			}
		}
		e.running.Store(false)
	}

	if total.Passes == 0 {
		total.Skipped = true
	}
	return total, errors.Join(errs...)
}

func (e *Engine) fanOut() (Result, error) {
	var r Result
	var errs []error
	var stale []string

	for _, ev := range e.store.ListEvents() {
		if len(ev.Participants) == 0 {
			continue
		}

		byOwner := make(map[string][]model.Task)
		for _, t := range e.store.DerivedTasks(ev.ID) {
			byOwner[t.Responsible] = append(byOwner[t.Responsible], t)
		}
		skip := e.sourceOwner(ev)

		for _, who := range ev.Participants {
			if who == skip {
				continue
			}
			matches := byOwner[who]
			switch len(matches) {
			case 0:
				if _, err := e.store.CreateDerivedTask(e.deriveTask(ev, who)); err != nil {
					errs = append(errs, fmt.Errorf("failed to derive task for %s from %s: %w", who, ev.ID, err))
					continue
				}
				r.Created++
			case 1:
			default:
				_, rest := keepNewest(matches)
				for _, t := range rest {
					stale = append(stale, t.ID)
				}
			}
		}
	}

	// Duplicates are removed after the scan so the pass never reads a
	// half-cleaned bucket.
	r.Removed = e.removeTasks(stale)
	if r.Removed > 0 {
		e.recordDuplicates(r.Removed)
	}

	e.passes.Add(1)
	e.created.Add(int64(r.Created))
	e.lastPass.Store(time.Now().UnixNano())
	if r.Created > 0 || r.Removed > 0 {
		e.config.Logger.Printf("Fan-out pass: %d derived tasks created, %d duplicates removed", r.Created, r.Removed)
	}
	return r, errors.Join(errs...)
}

// sourceOwner returns the responsible person of the task an event was
// promoted from; that person already owns the work.
func (e *Engine) sourceOwner(ev model.Event) string {
	if ev.SourceTaskID == "" {
		return ""
	}
	t, err := e.store.GetTask(ev.SourceTaskID)
	if err != nil {
		return ""
	}
	return t.Responsible
}

func (e *Engine) deriveTask(ev model.Event, who string) model.Task {
	t := model.Task{
		Title:       e.config.OriginMarker + ev.Title,
		Description: ev.Description,
		Category:    derivedCategory(ev),
		Status:      model.TaskPending,
		Priority:    derivedPriority(ev),
		StartDate:   ev.Date,
		StartTime:   ev.StartTime,
		EndTime:     ev.EndTime,
		Responsible: who,
		Scope:       model.ScopePersonal,
		Visibility:  model.VisibilityPrivate,
		SyncedFrom:  ev.ID,
		SyncKind:    model.SyncDerived,
		CreatedBy:   ev.CreatedBy,
	}
	if ev.StartTime != "" && ev.EndTime != "" {
		start, _ := model.ParseClock(ev.StartTime)
		end, _ := model.ParseClock(ev.EndTime)
		t.EstimatedMinutes = int((end - start) / time.Minute)
	}
	return t
}

func derivedCategory(ev model.Event) model.TaskCategory {
	switch {
	case ev.Category == model.EventTeamMeeting || ev.Scope == model.ScopeTeam:
		return model.TaskTeam
	case ev.Category == model.EventMilestone || ev.Category == model.EventDelivery:
		return model.TaskProject
	case ev.Category == model.EventDeadline:
		return model.TaskUrgent
	}
	return model.TaskPersonal
}

func derivedPriority(ev model.Event) model.Priority {
	switch ev.Category {
	case model.EventDeadline, model.EventDelivery:
		return model.PriorityHigh
	}
	return model.PriorityMedium
}

// ===== Sweep =====

// SweepDuplicates groups derived tasks by (origin event, responsible) and
// keeps only the most recently created task of each group. Derived tasks
// whose origin event is gone, or whose owner left the event, are removed as
// orphans.
func (e *Engine) SweepDuplicates() SweepResult {
	type key struct{ origin, owner string }
	groups := make(map[key][]model.Task)
	for _, t := range e.store.AllDerivedTasks() {
		k := key{t.SyncedFrom, t.Responsible}
		groups[k] = append(groups[k], t)
	}

	var dups, orphans []string
	for k, tasks := range groups {
		ev, err := e.store.GetEvent(k.origin)
		if err != nil || !ev.HasParticipant(k.owner) {
			for _, t := range tasks {
				orphans = append(orphans, t.ID)
			}
			continue
		}
		if len(tasks) > 1 {
			_, rest := keepNewest(tasks)
			for _, t := range rest {
				dups = append(dups, t.ID)
			}
		}
	}

	res := SweepResult{
		Duplicates: e.removeTasks(dups),
		Orphans:    e.removeTasks(orphans),
	}
	if res.Duplicates > 0 {
		e.recordDuplicates(res.Duplicates)
	}
	if res.Orphans > 0 {
		e.orphansRemoved.Add(int64(res.Orphans))
	}
	if res.Duplicates+res.Orphans > 0 {
		e.config.Logger.Printf("Sweep removed %d duplicates and %d orphans", res.Duplicates, res.Orphans)
	}
	return res
}

// keepNewest returns the most recently created task and the rest. Ties are
// broken by id so every caller picks the same survivor.
func keepNewest(tasks []model.Task) (model.Task, []model.Task) {
	sorted := make([]model.Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return sorted[0], sorted[1:]
}

// removeTasks deletes ids and returns how many were actually removed. Tasks
// already gone (removed by a concurrent pass or a cascade) are not errors.
func (e *Engine) removeTasks(ids []string) int {
	n := 0
	for _, id := range ids {
		err := e.store.DeleteTask(id)
		switch {
		case err == nil:
			n++
		case errors.Is(err, store.ErrNotFound):
		default:
			e.config.Logger.Printf("WARNING: failed to remove derived task %s: %v", id, err)
		}
	}
	return n
}

func (e *Engine) recordDuplicates(n int) {
	total := e.duplicatesRemoved.Add(int64(n))
	e.store.Bus().Emit(notify.Notification{
		Kind:    notify.DuplicatesRemoved,
		Entity:  notify.EntityTask,
		Count:   n,
		Payload: total,
	})
}

// ===== Fan-in =====

// PromoteTaskToEvent creates a new event from the task and links the task
// to it. Derived tasks cannot be promoted.
func (e *Engine) PromoteTaskToEvent(taskID string) (model.Event, error) {
	e.promoting <- struct{}{}
	defer func() { <-e.promoting }()

	task, err := e.store.GetTask(taskID)
	if err != nil {
		return model.Event{}, err
	}
	if task.PromotedEventID != "" || task.SyncKind == model.SyncPromoted {
		return model.Event{}, &AlreadyPromotedError{TaskID: task.ID, EventID: task.PromotedEventID}
	}
	if task.IsDerived() {
		return model.Event{}, &model.ValidationError{
			Field:   "sync_kind",
			Message: fmt.Sprintf("task %s is derived from event %s and cannot be promoted", task.ID, task.SyncedFrom),
		}
	}

	start, end, err := e.promotedTimes(task)
	if err != nil {
		return model.Event{}, err
	}

	participants := append([]string{task.Responsible}, task.Participants...)
	ev, err := e.store.CreatePromotedEvent(model.Event{
		Title:        task.Title,
		Description:  task.Description,
		Category:     promotedCategory(task.Category),
		Status:       model.EventScheduled,
		Date:         task.StartDate,
		StartTime:    start,
		EndTime:      end,
		Participants: participants,
		Scope:        task.Scope,
		Visibility:   task.Visibility,
		CreatedBy:    task.Responsible,
		SourceTaskID: task.ID,
	})
	if err != nil {
		return model.Event{}, fmt.Errorf("failed to create promoted event: %w", err)
	}

	if _, err := e.store.LinkPromotion(task.ID, ev.ID); err != nil {
		if delErr := e.store.DeleteEvent(ev.ID); delErr != nil {
			e.config.Logger.Printf("WARNING: failed to roll back promoted event %s: %v", ev.ID, delErr)
		}
		return model.Event{}, fmt.Errorf("failed to link promotion: %w", err)
	}

	e.config.Logger.Printf("Promoted task %s to event %s", task.ID, ev.ID)
	return ev, nil
}

// promotedTimes resolves the event's start and end. The duration comes from
// the task's estimate, then its own time range, then the default.
func (e *Engine) promotedTimes(task model.Task) (string, string, error) {
	startStr := task.StartTime
	if startStr == "" {
		startStr = e.config.DefaultStart
	}
	start, err := model.ParseClock(startStr)
	if err != nil {
		return "", "", &model.ValidationError{Field: "start_time", Message: err.Error()}
	}

	dur := e.config.DefaultDuration
	switch {
	case task.EstimatedMinutes > 0:
		dur = time.Duration(task.EstimatedMinutes) * time.Minute
	case task.StartTime != "" && task.EndTime != "":
		if end, err := model.ParseClock(task.EndTime); err == nil && end > start {
			dur = end - start
		}
	}

	const lastMinute = 24*time.Hour - time.Minute
	end := start + dur
	if end > lastMinute {
		end = lastMinute
		if start >= end {
			start = end - time.Minute
		}
	}
	return model.FormatClock(start), model.FormatClock(end), nil
}

func promotedCategory(c model.TaskCategory) model.EventCategory {
	switch c {
	case model.TaskUrgent:
		return model.EventDeadline
	case model.TaskProject:
		return model.EventMilestone
	case model.TaskTeam:
		return model.EventTeamMeeting
	}
	return model.EventOther
}

// ===== Reactive fan-out =====

// Start subscribes to event changes and runs fan-out in the background
// whenever an event is created or edited.
func (e *Engine) Start() {
	if e.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	e.unsub = func() {}
	if bus := e.store.Bus(); bus != nil {
		e.unsub = bus.Subscribe(func(n notify.Notification) {
			if n.Entity != notify.EntityEvent {
				return
			}
			e.Trigger()
		}, notify.Created, notify.Edited)
	}

	go e.loop(ctx)
	e.config.Logger.Println("Reactive fan-out started")
}

// Trigger requests a background fan-out pass. It never blocks.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Stop unsubscribes and waits for the background worker to exit. A request
// the worker had not picked up yet is served before Stop returns.
func (e *Engine) Stop() {
	if e.done == nil {
		return
	}
	e.unsub()
	e.cancel()
	<-e.done
	e.done = nil

	select {
	case <-e.trigger:
		if _, err := e.SyncEventsToTasks(); err != nil {
			e.config.Logger.Printf("WARNING: fan-out failed: %v", err)
		}
	default:
	}
	e.config.Logger.Println("Reactive fan-out stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.trigger:
			if _, err := e.SyncEventsToTasks(); err != nil {
				e.config.Logger.Printf("WARNING: fan-out failed: %v", err)
			}
		}
	}
}

// Stats returns cumulative counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Passes:            e.passes.Load(),
		DerivedCreated:    e.created.Load(),
		DuplicatesRemoved: e.duplicatesRemoved.Load(),
		OrphansRemoved:    e.orphansRemoved.Load(),
	}
	if ns := e.lastPass.Load(); ns != 0 {
		s.LastPass = time.Unix(0, ns)
	}
	return s
}

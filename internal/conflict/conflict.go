// Package conflict finds overlapping items on a person's combined agenda of
// events and tasks.
package conflict

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/orgplan/planner/internal/model"
	"github.com/orgplan/planner/internal/notify"
)

// Source is the read side of the store the detector needs.
type Source interface {
	ListEvents() []model.Event
	ListTasks() []model.Task
}

// Config holds detector configuration.
type Config struct {
	// DefaultDuration is given to items that have a start but no end time
	// and no estimate.
	DefaultDuration time.Duration

	// MaxResults caps the number of conflicts reported per run.
	MaxResults int

	// Logger for detector activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultDuration: time.Hour,
		MaxResults:      50,
		Logger:          log.New(os.Stderr, "[conflict] ", log.LstdFlags),
	}
}

// ItemKind tells events and tasks apart in a conflict.
type ItemKind string

const (
	KindEvent ItemKind = "event"
	KindTask  ItemKind = "task"
)

// Item is one agenda entry with a resolved time range.
type Item struct {
	Kind     ItemKind       `json:"kind"`
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Start    string         `json:"start"`
	End      string         `json:"end"`
	Priority model.Priority `json:"priority,omitempty"`

	start, end time.Duration
}

// Conflict is a pair of overlapping items on one person's agenda.
type Conflict struct {
	Person   string `json:"person"`
	Date     string `json:"date"`
	A        Item   `json:"a"`
	B        Item   `json:"b"`
	Overlap  int    `json:"overlap_minutes"`
	Severity int    `json:"severity"`
}

// Key identifies a conflict independently of the order its items were found in.
func (c Conflict) Key() string {
	a, b := c.A.ID, c.B.ID
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s|%s|%s|%s", c.Person, c.Date, a, b)
}

const maxSeverity = 5

// Detector scans the store for scheduling conflicts.
type Detector struct {
	source Source
	bus    *notify.Bus
	config *Config

	mu       sync.Mutex
	reported map[string]bool
	last     []Conflict
}

// New creates a detector reading from source. Notifications of new
// conflicts go to bus, which may be nil.
func New(source Source, bus *notify.Bus, config *Config) *Detector {
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
	if config.MaxResults <= 0 {
		config.MaxResults = defaults.MaxResults
	}
	return &Detector{
		source:   source,
		bus:      bus,
		config:   config,
		reported: make(map[string]bool),
	}
}

// DetectConflicts returns every conflict currently on the calendar, most
// severe first, capped at MaxResults. It does not notify.
func (d *Detector) DetectConflicts() []Conflict {
	agendas := d.buildAgendas()

	var out []Conflict
	for person, byDate := range agendas {
		for date, items := range byDate {
			if len(items) < 2 {
				continue
			}
			for i := 0; i < len(items); i++ {
				for j := i + 1; j < len(items); j++ {
					a, b := items[i], items[j]
					if !(a.start < b.end && b.start < a.end) {
						continue
					}
					out = append(out, Conflict{
						Person:   person,
						Date:     date,
						A:        a,
						B:        b,
						Overlap:  int(overlap(a, b) / time.Minute),
						Severity: severity(a, b),
					})
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Person != b.Person {
			return a.Person < b.Person
		}
		return a.Key() < b.Key()
	})
	if len(out) > d.config.MaxResults {
		out = out[:d.config.MaxResults]
	}
	return out
}

// Run detects conflicts and emits conflict-detected for each one that was
// not reported by the previous run. It returns the full result.
func (d *Detector) Run() []Conflict {
	found := d.DetectConflicts()

	d.mu.Lock()
	current := make(map[string]bool, len(found))
	var fresh []Conflict
	for _, c := range found {
		k := c.Key()
		current[k] = true
		if !d.reported[k] {
			fresh = append(fresh, c)
		}
	}
	d.reported = current
	d.last = found
	d.mu.Unlock()

	for _, c := range fresh {
		d.bus.Emit(notify.Notification{
			Kind:    notify.ConflictDetected,
			ID:      c.Key(),
			Count:   c.Severity,
			Payload: c,
		})
	}
	if len(fresh) > 0 {
		d.config.Logger.Printf("Detected %d new conflicts (%d total)", len(fresh), len(found))
	}
	return found
}

// Last returns the result of the most recent Run.
func (d *Detector) Last() []Conflict {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Conflict, len(d.last))
	copy(out, d.last)
	return out
}

// ===== Agenda construction =====

// buildAgendas returns person -> date -> items. Derived and promoted tasks
// whose event is already on the same person's agenda are left out so an
// event never conflicts with its own copy.
func (d *Detector) buildAgendas() map[string]map[string][]Item {
	agendas := make(map[string]map[string][]Item)
	onAgenda := make(map[string]map[string]bool) // person -> event ids

	add := func(person, date string, it Item) {
		byDate, ok := agendas[person]
		if !ok {
			byDate = make(map[string][]Item)
			agendas[person] = byDate
		}
		byDate[date] = append(byDate[date], it)
	}

	for _, ev := range d.source.ListEvents() {
		if ev.Status == model.EventCancelled || ev.Status == model.EventDone {
			continue
		}
		it, ok := d.eventItem(ev)
		if !ok {
			continue
		}
		for _, person := range eventPeople(ev) {
			add(person, ev.Date, it)
			if onAgenda[person] == nil {
				onAgenda[person] = make(map[string]bool)
			}
			onAgenda[person][ev.ID] = true
		}
	}

	for _, t := range d.source.ListTasks() {
		if t.Status == model.TaskCancelled || t.Status == model.TaskDone {
			continue
		}
		it, ok := d.taskItem(t)
		if !ok {
			continue
		}
		for _, person := range taskPeople(t) {
			if t.SyncedFrom != "" && onAgenda[person][t.SyncedFrom] {
				continue
			}
			if t.PromotedEventID != "" && onAgenda[person][t.PromotedEventID] {
				continue
			}
			add(person, t.StartDate, it)
		}
	}

	for _, byDate := range agendas {
		for _, items := range byDate {
			sort.Slice(items, func(i, j int) bool {
				if items[i].start != items[j].start {
					return items[i].start < items[j].start
				}
				return items[i].ID < items[j].ID
			})
		}
	}
	return agendas
}

func (d *Detector) eventItem(ev model.Event) (Item, bool) {
	start, end, ok := d.resolve(ev.StartTime, ev.EndTime, 0)
	if !ok {
		return Item{}, false
	}
	return Item{
		Kind:  KindEvent,
		ID:    ev.ID,
		Title: ev.Title,
		Start: model.FormatClock(start),
		End:   model.FormatClock(end),
		start: start,
		end:   end,
	}, true
}

func (d *Detector) taskItem(t model.Task) (Item, bool) {
	start, end, ok := d.resolve(t.StartTime, t.EndTime, t.EstimatedMinutes)
	if !ok {
		return Item{}, false
	}
	return Item{
		Kind:     KindTask,
		ID:       t.ID,
		Title:    t.Title,
		Start:    model.FormatClock(start),
		End:      model.FormatClock(end),
		Priority: t.Priority,
		start:    start,
		end:      end,
	}, true
}

// resolve returns the item's range. Items without a start time are not
// placed on the clock and never conflict.
func (d *Detector) resolve(startStr, endStr string, estimate int) (time.Duration, time.Duration, bool) {
	if startStr == "" {
		return 0, 0, false
	}
	start, err := model.ParseClock(startStr)
	if err != nil {
		return 0, 0, false
	}
	if endStr != "" {
		if end, err := model.ParseClock(endStr); err == nil && end > start {
			return start, end, true
		}
	}
	dur := d.config.DefaultDuration
	if estimate > 0 {
		dur = time.Duration(estimate) * time.Minute
	}
	end := start + dur
	if end > 24*time.Hour {
		end = 24 * time.Hour
	}
	return start, end, true
}

func eventPeople(ev model.Event) []string {
	people := append([]string(nil), ev.Participants...)
	if ev.CreatedBy != "" && !ev.HasParticipant(ev.CreatedBy) {
		people = append(people, ev.CreatedBy)
	}
	return people
}

func taskPeople(t model.Task) []string {
	people := []string{t.Responsible}
	for _, p := range t.Participants {
		if p != t.Responsible {
			people = append(people, p)
		}
	}
	return people
}

// ===== Scoring =====

func overlap(a, b Item) time.Duration {
	return min(a.end, b.end) - max(a.start, b.start)
}

// severity scores a conflict from 1 to 5: base 1, +2 when both items are
// events, +2 for a critical item, +1 for a high one, +2 when the overlap
// covers at least half of the shorter item.
func severity(a, b Item) int {
	s := 1
	if a.Kind == KindEvent && b.Kind == KindEvent {
		s += 2
	}
	switch {
	case a.Priority == model.PriorityCritical || b.Priority == model.PriorityCritical:
		s += 2
	case a.Priority == model.PriorityHigh || b.Priority == model.PriorityHigh:
		s++
	}
	shorter := min(a.end-a.start, b.end-b.start)
	if shorter > 0 && 2*overlap(a, b) >= shorter {
		s += 2
	}
	return min(s, maxSeverity)
}

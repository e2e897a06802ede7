// Package notify carries named change notifications from the planner core to
// whoever listens (dashboard, API clients, logs). The core does not know or
// care who is subscribed.
package notify

import (
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/orgplan/planner/internal/model"
)

// Kind names a notification.
type Kind string

const (
	Created           Kind = "created"
	Edited            Kind = "edited"
	Deleted           Kind = "deleted"
	ConflictDetected  Kind = "conflict-detected"
	DuplicatesRemoved Kind = "duplicates-removed"
	PersistFailed     Kind = "persist-failed"
)

// Entity says which collection a record notification refers to.
type Entity string

const (
	EntityEvent Entity = "event"
	EntityTask  Entity = "task"
)

// Notification is one emitted change. Event/Task carry a copy of the record
// after the change (before it, for deletes).
type Notification struct {
	Kind    Kind
	Entity  Entity
	ID      string
	Event   *model.Event
	Task    *model.Task
	Count   int
	Payload any
	At      time.Time
}

// Listener receives notifications synchronously on the emitting goroutine and
// must return quickly.
type Listener func(Notification)

type subscription struct {
	id    int
	kinds []Kind
	fn    Listener
}

// Bus fans notifications out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID int
	logger *log.Logger
}

// NewBus creates an empty bus. If logger is nil, listener panics are logged
// to stderr.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn for the given kinds, or for every kind when none
// are given. The returned func removes the subscription.
func (b *Bus) Subscribe(fn Listener, kinds ...Kind) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kinds: kinds, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
	}
}

// Emit delivers n to every matching subscriber in subscription order.
// A panicking listener is logged and does not stop delivery.
func (b *Bus) Emit(n Notification) {
	if b == nil {
		return
	}
	if n.At.IsZero() {
		n.At = time.Now()
	}

	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if len(s.kinds) > 0 && !slices.Contains(s.kinds, n.Kind) {
			continue
		}
		b.deliver(s, n)
	}
}

func (b *Bus) deliver(s subscription, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("WARNING: listener %d panicked on %s: %v", s.id, n.Kind, r)
		}
	}()
	s.fn(n)
}

// Notifier is the user-facing message capability (toasts in a UI, coloured
// lines in a terminal). Absence is modelled with Nop.
type Notifier interface {
	Success(msg string)
	Warning(msg string)
	Error(msg string, err error)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Success(string)      {}
func (Nop) Warning(string)      {}
func (Nop) Error(string, error) {}

// LogNotifier writes messages to a logger.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Success(msg string) { n.Logger.Printf("%s", msg) }
func (n LogNotifier) Warning(msg string) { n.Logger.Printf("WARNING: %s", msg) }
func (n LogNotifier) Error(msg string, err error) {
	n.Logger.Printf("ERROR: %s: %v", msg, err)
}

// Multi forwards every message to each notifier in turn.
type Multi []Notifier

func (m Multi) Success(msg string) {
	for _, n := range m {
		n.Success(msg)
	}
}

func (m Multi) Warning(msg string) {
	for _, n := range m {
		n.Warning(msg)
	}
}

func (m Multi) Error(msg string, err error) {
	for _, n := range m {
		n.Error(msg, err)
	}
}

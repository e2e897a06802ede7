package store

import (
	"sync"
	"time"

	"github.com/orgplan/planner/internal/model"
)

type cacheEntry[T any] struct {
	items   []T
	expires time.Time
}

// queryCache holds per-user query results for a limited time. Entries are
// dropped whenever a record touching the user changes.
//
// Every invalidation bumps gen. A query reads gen before it reads the store
// and fills the cache only if gen is unchanged, so a result computed before
// a concurrent mutation is never cached after that mutation's invalidation.
type queryCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	clock  model.Clock
	gen    uint64
	events map[string]cacheEntry[model.Event]
	tasks  map[string]cacheEntry[model.Task]
}

func newQueryCache(ttl time.Duration, clock model.Clock) *queryCache {
	return &queryCache{
		ttl:    ttl,
		clock:  clock,
		events: make(map[string]cacheEntry[model.Event]),
		tasks:  make(map[string]cacheEntry[model.Task]),
	}
}

func (c *queryCache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *queryCache) getEvents(user string) ([]model.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lookup(c.events, user, c.clock())
}

func (c *queryCache) putEvents(user string, items []model.Event, gen uint64) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.events[user] = cacheEntry[model.Event]{items: items, expires: c.clock().Add(c.ttl)}
}

func (c *queryCache) getTasks(user string) ([]model.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lookup(c.tasks, user, c.clock())
}

func (c *queryCache) putTasks(user string, items []model.Task, gen uint64) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.tasks[user] = cacheEntry[model.Task]{items: items, expires: c.clock().Add(c.ttl)}
}

// invalidate drops the cached results of the given users.
func (c *queryCache) invalidate(users ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for _, u := range users {
		delete(c.events, u)
		delete(c.tasks, u)
	}
}

// invalidateAll drops everything; used when a public record changes.
func (c *queryCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	clear(c.events)
	clear(c.tasks)
}

func lookup[T any](m map[string]cacheEntry[T], user string, now time.Time) ([]T, bool) {
	entry, ok := m[user]
	if !ok {
		return nil, false
	}
	if !now.Before(entry.expires) {
		delete(m, user)
		return nil, false
	}
	return entry.items, true
}

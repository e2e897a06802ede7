package store

import (
	"sort"

	"github.com/orgplan/planner/internal/model"
)

// index maps a bucket key to the set of record ids in it.
type index map[string]map[string]struct{}

func (ix index) add(key, id string) {
	if key == "" {
		return
	}
	bucket, ok := ix[key]
	if !ok {
		bucket = make(map[string]struct{})
		ix[key] = bucket
	}
	bucket[id] = struct{}{}
}

func (ix index) remove(key, id string) {
	bucket, ok := ix[key]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(ix, key)
	}
}

// ids returns the bucket's ids in sorted order.
func (ix index) ids(key string) []string {
	bucket := ix[key]
	out := make([]string, 0, len(bucket))
	for id := range bucket {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (ix index) size(key string) int {
	return len(ix[key])
}

// indices are the derived lookup tables. They are never persisted.
type indices struct {
	eventsByDate        index
	eventsByParticipant index
	tasksByOwner        index
	tasksByStatus       index
	derivedByOrigin     index
}

func newIndices() indices {
	return indices{
		eventsByDate:        make(index),
		eventsByParticipant: make(index),
		tasksByOwner:        make(index),
		tasksByStatus:       make(index),
		derivedByOrigin:     make(index),
	}
}

func (ix *indices) addEvent(e *model.Event) {
	ix.eventsByDate.add(e.Date, e.ID)
	for _, p := range e.Participants {
		ix.eventsByParticipant.add(p, e.ID)
	}
}

func (ix *indices) removeEvent(e *model.Event) {
	ix.eventsByDate.remove(e.Date, e.ID)
	for _, p := range e.Participants {
		ix.eventsByParticipant.remove(p, e.ID)
	}
}

func (ix *indices) addTask(t *model.Task) {
	ix.tasksByOwner.add(t.Responsible, t.ID)
	ix.tasksByStatus.add(string(t.Status), t.ID)
	if t.IsDerived() {
		ix.derivedByOrigin.add(t.SyncedFrom, t.ID)
	}
}

func (ix *indices) removeTask(t *model.Task) {
	ix.tasksByOwner.remove(t.Responsible, t.ID)
	ix.tasksByStatus.remove(string(t.Status), t.ID)
	if t.IsDerived() {
		ix.derivedByOrigin.remove(t.SyncedFrom, t.ID)
	}
}

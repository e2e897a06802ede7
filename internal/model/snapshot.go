package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is the tier-agnostic persisted document. Indices are never part
// of it; they are rebuilt after loading.
type Snapshot struct {
	Events   map[string]*Event `json:"events"`
	Tasks    map[string]*Task  `json:"tasks"`
	Metadata Metadata          `json:"metadata"`
}

// Metadata describes a snapshot.
type Metadata struct {
	SchemaVersion int       `json:"schema_version"`
	LastUpdated   time.Time `json:"last_updated"`
	TotalRecords  int       `json:"total_records"`
}

// NewSnapshot returns an empty, versioned, timestamped snapshot.
func NewSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		Events: make(map[string]*Event),
		Tasks:  make(map[string]*Task),
		Metadata: Metadata{
			SchemaVersion: SchemaVersion,
			LastUpdated:   now,
		},
	}
}

// IsEmpty reports whether the snapshot holds no records.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Events)+len(s.Tasks) == 0
}

// Seal refreshes the metadata block before the snapshot is written.
func (s *Snapshot) Seal(now time.Time) {
	s.Metadata.SchemaVersion = SchemaVersion
	s.Metadata.LastUpdated = now
	s.Metadata.TotalRecords = len(s.Events) + len(s.Tasks)
}

// Encode serializes the snapshot as JSON.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a JSON snapshot. Snapshots written by a newer schema
// are rejected rather than silently truncated.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if s.Metadata.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("snapshot schema version %d is newer than supported %d",
			s.Metadata.SchemaVersion, SchemaVersion)
	}
	if s.Events == nil {
		s.Events = make(map[string]*Event)
	}
	if s.Tasks == nil {
		s.Tasks = make(map[string]*Task)
	}
	for id, e := range s.Events {
		if e == nil {
			delete(s.Events, id)
			continue
		}
		e.ID = id
	}
	for id, t := range s.Tasks {
		if t == nil {
			delete(s.Tasks, id)
			continue
		}
		t.ID = id
	}
	return &s, nil
}

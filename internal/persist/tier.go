// Package persist propagates the store's snapshot through an ordered chain
// of storage tiers.
//
// Tiers are listed from most to least preferred: the remote synchronized
// tier, the local transactional tier, the local flat tier. Every available
// tier is written concurrently in each round and each tier succeeds or fails
// on its own. Callers never persist directly: they call RequestPersist and
// the debouncer collapses bursts into one round.
//
// If every tier fails, an emergency dump of the snapshot is attempted into
// the first local tier that still responds, and a single warning is raised
// for the whole failure episode.
package persist

import (
	"context"
	"fmt"

	"github.com/orgplan/planner/internal/model"
	"github.com/orgplan/planner/internal/store"
)

// Tier is one persistence backend.
type Tier interface {
	// Name identifies the tier in logs and status output.
	Name() string

	// Remote reports whether the tier is networked. Remote tiers are gated
	// by Probe; local tiers are always attempted.
	Remote() bool

	// Probe checks liveness. It must honour ctx's deadline.
	Probe(ctx context.Context) error

	// Write durably stores snap. Returning ErrUnavailable marks the tier as
	// absent for this round instead of failed.
	Write(ctx context.Context, snap *model.Snapshot) error

	// Load returns the last stored snapshot, or an empty one.
	Load(ctx context.Context) (*model.Snapshot, error)
}

// EmergencyWriter is implemented by tiers that can hold an emergency dump
// distinct from their normal snapshot.
type EmergencyWriter interface {
	WriteEmergency(ctx context.Context, data []byte) (location string, err error)
}

// Source is the store side of persistence.
type Source interface {
	Snapshot() (*model.Snapshot, store.Marks)
	MarkSynced(store.Marks) int
	Load(*model.Snapshot)
}

// Unavailable stands in for a tier that could not be opened on this host.
// It keeps the tier visible in status output while every round skips it.
func Unavailable(name string, remote bool, cause error) Tier {
	return &unavailableTier{name: name, remote: remote, cause: cause}
}

type unavailableTier struct {
	name   string
	remote bool
	cause  error
}

func (u *unavailableTier) Name() string { return u.name }
func (u *unavailableTier) Remote() bool { return u.remote }

func (u *unavailableTier) Probe(context.Context) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, u.cause)
}

func (u *unavailableTier) Write(context.Context, *model.Snapshot) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, u.cause)
}

func (u *unavailableTier) Load(context.Context) (*model.Snapshot, error) {
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, u.cause)
}

package persist

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnavailable is returned by a tier that cannot serve at all (host lacks
// the facility, remote unreachable). Such a tier is skipped for the round
// rather than counted as a failure.
var ErrUnavailable = errors.New("tier unavailable")

// ErrTooLarge is returned by a tier whose size budget the snapshot exceeds.
var ErrTooLarge = errors.New("snapshot exceeds tier size budget")

// PersistenceError reports that one or more tiers failed during a round
// while at least one other tier succeeded. The in-memory store stays valid
// and the round is retried.
type PersistenceError struct {
	Failures map[string]error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed on %d tier(s): %s", len(e.Failures), describe(e.Failures))
}

func (e *PersistenceError) Unwrap() []error {
	return values(e.Failures)
}

// TotalPersistenceFailure reports that no tier accepted the round. Backup
// holds the location of the emergency dump, if one could be written.
type TotalPersistenceFailure struct {
	Failures  map[string]error
	Backup    string
	BackupErr error
}

func (e *TotalPersistenceFailure) Error() string {
	msg := "all persistence tiers failed"
	if len(e.Failures) > 0 {
		msg += ": " + describe(e.Failures)
	}
	switch {
	case e.Backup != "":
		msg += fmt.Sprintf(" (emergency backup written to %s)", e.Backup)
	case e.BackupErr != nil:
		msg += fmt.Sprintf(" (emergency backup failed: %v)", e.BackupErr)
	}
	return msg
}

func (e *TotalPersistenceFailure) Unwrap() []error {
	return values(e.Failures)
}

func describe(failures map[string]error) string {
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, failures[name]))
	}
	return strings.Join(parts, "; ")
}

func values(failures map[string]error) []error {
	out := make([]error, 0, len(failures))
	for _, err := range failures {
		out = append(out, err)
	}
	return out
}

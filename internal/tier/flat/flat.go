// Package flat implements the baseline persistence tier: the whole snapshot
// in one JSON file, replaced atomically through a temp file and rename.
package flat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/orgplan/planner/internal/model"
	"github.com/orgplan/planner/internal/persist"
)

// DefaultMaxBytes is the size budget applied when none is configured.
const DefaultMaxBytes = 5 << 20

const emergencyPrefix = "emergency-"

// Store is the flat file tier.
type Store struct {
	dir      string
	file     string
	maxBytes int64
}

// New creates a flat tier writing file inside dir. A maxBytes of zero uses
// DefaultMaxBytes; a negative value disables the budget.
func New(dir, file string, maxBytes int64) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if file == "" {
		file = "snapshot.json"
	}
	if maxBytes == 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{dir: dir, file: file, maxBytes: maxBytes}, nil
}

// Name identifies the tier.
func (s *Store) Name() string { return "flat" }

// Remote reports false; the flat tier is always local.
func (s *Store) Remote() bool { return false }

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, s.file)
}

// Probe checks that the data directory is still there.
func (s *Store) Probe(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("flat tier directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("flat tier path %s is not a directory", s.dir)
	}
	return nil
}

// Write encodes snap and atomically replaces the snapshot file. Snapshots
// over the size budget are refused with persist.ErrTooLarge.
func (s *Store) Write(ctx context.Context, snap *model.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return fmt.Errorf("%w: %d bytes > %d", persist.ErrTooLarge, len(data), s.maxBytes)
	}
	return writeAtomic(s.Path(), data)
}

// Load reads the snapshot file. A missing file yields an empty snapshot.
func (s *Store) Load(ctx context.Context) (*model.Snapshot, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return model.NewSnapshot(time.Time{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	return model.DecodeSnapshot(data)
}

// WriteEmergency writes data to a timestamped emergency file next to the
// normal snapshot. The size budget does not apply.
func (s *Store) WriteEmergency(ctx context.Context, data []byte) (string, error) {
	name := emergencyPrefix + time.Now().UTC().Format("20060102-150405.000000000") + ".json"
	path := filepath.Join(s.dir, name)
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// EmergencyBackups lists emergency files, oldest first.
func (s *Store) EmergencyBackups() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, emergencyPrefix) || filepath.Ext(name) != ".json" {
			continue
		}
		out = append(out, filepath.Join(s.dir, name))
	}
	sort.Strings(out)
	return out, nil
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

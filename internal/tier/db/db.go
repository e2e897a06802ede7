// Package db provides the SQL persistence tiers.
//
// Two tiers share one schema:
//   - the local transactional tier, an embedded SQLite file opened through
//     ncruces/go-sqlite3 with WAL for concurrent readers
//   - the remote synchronized tier, a libSQL server reached through
//     tursodatabase/go-libsql
//
// Each record is stored as its JSON document next to a few columns used for
// ad-hoc inspection (date, responsible, status). A snapshot write upserts
// every record and removes rows that no longer exist in one transaction, so
// a reader never sees half a snapshot.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/orgplan/planner/internal/model"
)

// schemaStatements are applied one by one; libSQL remotes reject batched
// statements in a single Exec.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		created_by TEXT,
		updated_at TEXT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		start_date TEXT NOT NULL,
		status TEXT NOT NULL,
		responsible TEXT NOT NULL,
		synced_from TEXT,
		updated_at TEXT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS emergency_backups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TEXT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_date ON events(date)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_responsible ON tasks(responsible)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_synced_from ON tasks(synced_from)`,
}

// DB is a SQL-backed persistence tier.
type DB struct {
	conn   *sql.DB
	name   string
	target string
	remote bool
	logger *log.Logger

	schemaReady atomic.Bool
}

// OpenLocal opens (creating if needed) the local transactional tier at path.
//
// The caller MUST call Close() when done so the WAL is checkpointed.
func OpenLocal(path string, logger *log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[db] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, name: "local", target: path, logger: logger}

	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := db.InitSchemaContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenRemote prepares the remote synchronized tier. No connection is made
// until Probe; the schema is created on the first successful probe.
func OpenRemote(url, authToken string, logger *log.Logger) (*DB, error) {
	if url == "" {
		return nil, fmt.Errorf("remote url cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[db] ", log.LstdFlags)
	}

	dsn := url
	if authToken != "" {
		dsn = fmt.Sprintf("%s?authToken=%s", url, authToken)
	}
	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", err)
	}
	conn.SetMaxOpenConns(4)
	conn.SetConnMaxIdleTime(time.Minute)

	return &DB{conn: conn, name: "remote", target: url, remote: true, logger: logger}, nil
}

// Name identifies the tier.
func (db *DB) Name() string { return db.name }

// Remote reports whether the tier is networked.
func (db *DB) Remote() bool { return db.remote }

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection, checkpointing the WAL of a local
// database first.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if !db.remote {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			db.logger.Printf("WARNING: failed to checkpoint WAL: %v", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchemaContext creates the tables if they do not exist. Idempotent.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	db.schemaReady.Store(true)
	return nil
}

// Probe is the liveness check: a trivial round trip bounded by ctx.
func (db *DB) Probe(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("%s tier is closed", db.name)
	}

	var one int
	if err := db.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("%s tier probe failed: %w", db.name, err)
	}
	if !db.schemaReady.Load() {
		return db.InitSchemaContext(ctx)
	}
	return nil
}

// Write replaces the stored snapshot with snap in one transaction.
func (db *DB) Write(ctx context.Context, snap *model.Snapshot) error {
	if db.conn == nil {
		return fmt.Errorf("%s tier is closed", db.name)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for id, e := range snap.Events {
		if err := upsertEvent(ctx, tx, id, e); err != nil {
			return err
		}
	}
	for id, t := range snap.Tasks {
		if err := upsertTask(ctx, tx, id, t); err != nil {
			return err
		}
	}

	if err := deleteMissing(ctx, tx, "events", keys(snap.Events)); err != nil {
		return err
	}
	if err := deleteMissing(ctx, tx, "tasks", keys(snap.Tasks)); err != nil {
		return err
	}

	meta := map[string]string{
		"schema_version": strconv.Itoa(snap.Metadata.SchemaVersion),
		"last_updated":   snap.Metadata.LastUpdated.Format(time.RFC3339Nano),
		"total_records":  strconv.Itoa(snap.Metadata.TotalRecords),
	}
	for k, v := range meta {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, k, v)
		if err != nil {
			return fmt.Errorf("failed to write metadata %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load reads the stored snapshot. An empty database yields an empty
// snapshot.
func (db *DB) Load(ctx context.Context) (*model.Snapshot, error) {
	if db.conn == nil {
		return nil, fmt.Errorf("%s tier is closed", db.name)
	}

	snap := model.NewSnapshot(time.Time{})

	rows, err := db.conn.QueryContext(ctx, `SELECT id, data FROM events`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	err = scanRecords(rows, func(id string, data []byte) error {
		var e model.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("failed to unmarshal event %s: %w", id, err)
		}
		e.ID = id
		snap.Events[id] = &e
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows, err = db.conn.QueryContext(ctx, `SELECT id, data FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	err = scanRecords(rows, func(id string, data []byte) error {
		var t model.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("failed to unmarshal task %s: %w", id, err)
		}
		t.ID = id
		snap.Tasks[id] = &t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := db.loadMetadata(ctx, snap); err != nil {
		return nil, err
	}
	if snap.Metadata.SchemaVersion > model.SchemaVersion {
		return nil, fmt.Errorf("stored schema version %d is newer than supported %d",
			snap.Metadata.SchemaVersion, model.SchemaVersion)
	}
	return snap, nil
}

// WriteEmergency stores data in the emergency_backups table, apart from the
// normal snapshot rows.
func (db *DB) WriteEmergency(ctx context.Context, data []byte) (string, error) {
	if db.conn == nil {
		return "", fmt.Errorf("%s tier is closed", db.name)
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO emergency_backups (created_at, data) VALUES (?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), string(data))
	if err != nil {
		return "", fmt.Errorf("failed to write emergency backup: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Sprintf("%s#emergency_backups", db.target), nil
	}
	return fmt.Sprintf("%s#emergency_backups/%d", db.target, id), nil
}

// Counts returns the number of stored events and tasks.
func (db *DB) Counts(ctx context.Context) (events, tasks int, err error) {
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&events); err != nil {
		return 0, 0, fmt.Errorf("failed to count events: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&tasks); err != nil {
		return 0, 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return events, tasks, nil
}

func upsertEvent(ctx context.Context, tx *sql.Tx, id string, e *model.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO events (id, date, status, created_by, updated_at, data)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		date = excluded.date,
		status = excluded.status,
		created_by = excluded.created_by,
		updated_at = excluded.updated_at,
		data = excluded.data
	`,
		id,
		e.Date,
		string(e.Status),
		e.CreatedBy,
		e.UpdatedAt.Format(time.RFC3339Nano),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert event %s: %w", id, err)
	}
	return nil
}

func upsertTask(ctx context.Context, tx *sql.Tx, id string, t *model.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO tasks (id, start_date, status, responsible, synced_from, updated_at, data)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		start_date = excluded.start_date,
		status = excluded.status,
		responsible = excluded.responsible,
		synced_from = excluded.synced_from,
		updated_at = excluded.updated_at,
		data = excluded.data
	`,
		id,
		t.StartDate,
		string(t.Status),
		t.Responsible,
		nullString(t.SyncedFrom),
		t.UpdatedAt.Format(time.RFC3339Nano),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", id, err)
	}
	return nil
}

// deleteMissing removes rows of table whose id is not in keep.
func deleteMissing(ctx context.Context, tx *sql.Tx, table string, keep map[string]struct{}) error {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM "+table)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", table, err)
	}

	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan %s id: %w", table, err)
		}
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating %s: %w", table, err)
	}
	rows.Close()

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", table, id, err)
		}
	}
	return nil
}

func (db *DB) loadMetadata(ctx context.Context, snap *model.Snapshot) error {
	rows, err := db.conn.QueryContext(ctx, `SELECT key, value FROM metadata`)
	if err != nil {
		return fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("failed to scan metadata: %w", err)
		}
		switch key {
		case "schema_version":
			snap.Metadata.SchemaVersion, _ = strconv.Atoi(value)
		case "last_updated":
			if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
				snap.Metadata.LastUpdated = t
			}
		case "total_records":
			snap.Metadata.TotalRecords, _ = strconv.Atoi(value)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating metadata: %w", err)
	}
	if snap.Metadata.SchemaVersion == 0 {
		snap.Metadata.SchemaVersion = model.SchemaVersion
	}
	return nil
}

func scanRecords(rows *sql.Rows, fn func(id string, data []byte) error) error {
	defer rows.Close()

	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}
		if err := fn(id, []byte(data)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating records: %w", err)
	}
	return nil
}

func keys[V any](m map[string]V) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Package history persists finished run records to a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// RunRecord is one finished burn run.
type RunRecord struct {
	ID         string
	Device     string
	Image      string
	Outcome    string
	FinalState string
	Reason     string
	Lines      int64
	Duration   time.Duration
	StartedAt  time.Time
}

// Store is the run-history database.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if needed) the history database at path and applies
// pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create database directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database at %q: %w", path, err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}

	if err := runMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Store{conn: conn}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Insert stores one finished run.
func (s *Store) Insert(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("history: run record needs an id")
	}
	_, err := s.conn.ExecContext(ctx, `
INSERT INTO runs (id, device, image, outcome, final_state, reason, lines, duration_ms, started_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, rec.ID, rec.Device, rec.Image, rec.Outcome, rec.FinalState, rec.Reason,
		rec.Lines, rec.Duration.Milliseconds(), formatTimestamp(rec.StartedAt))
	if err != nil {
		return fmt.Errorf("history: insert run %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns up to limit runs, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.QueryContext(ctx, `
SELECT id, device, image, outcome, final_state, reason, lines, duration_ms, started_at
FROM runs
ORDER BY started_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var durationMs int64
		var startedRaw string
		if err := rows.Scan(&rec.ID, &rec.Device, &rec.Image, &rec.Outcome, &rec.FinalState,
			&rec.Reason, &rec.Lines, &durationMs, &startedRaw); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.StartedAt, err = parseTimestamp(startedRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	return out, nil
}

// Get returns one run by ID, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	var durationMs int64
	var startedRaw string
	err := s.conn.QueryRowContext(ctx, `
SELECT id, device, image, outcome, final_state, reason, lines, duration_ms, started_at
FROM runs
WHERE id = ?
`, id).Scan(&rec.ID, &rec.Device, &rec.Image, &rec.Outcome, &rec.FinalState,
		&rec.Reason, &rec.Lines, &durationMs, &startedRaw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("history: get run %s: %w", id, err)
	}
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.StartedAt, err = parseTimestamp(startedRaw)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create runs table",
		sql: `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	device TEXT NOT NULL,
	image TEXT NOT NULL,
	outcome TEXT NOT NULL,
	final_state TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	lines INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`,
	},
}

func runMigrations(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: start migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS _meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`); err != nil {
		return fmt.Errorf("history: ensure _meta table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO _meta (key, value) VALUES ('schema_version', '0')`); err != nil {
		return fmt.Errorf("history: initialize schema version: %w", err)
	}

	var currentRaw string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&currentRaw); err != nil {
		return fmt.Errorf("history: read schema version: %w", err)
	}
	currentVersion, err := strconv.Atoi(currentRaw)
	if err != nil {
		return fmt.Errorf("history: invalid schema version %q: %w", currentRaw, err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("history: migration %03d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE _meta SET value = ? WHERE key = 'schema_version'`, strconv.Itoa(m.version)); err != nil {
			return fmt.Errorf("history: set schema version %03d: %w", m.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit migrations: %w", err)
	}
	return nil
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return ts.UTC().Format(time.RFC3339)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("history: parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

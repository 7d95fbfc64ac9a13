// Package history keeps a sqlite ledger of task lifecycle events under the
// workspace logs area. The ledger is best-effort observability: writes that
// fail are logged and never affect orchestration.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Event names recorded by the scheduler.
const (
	EventAdmitted = "admitted"
	EventPhase    = "phase"
	EventMerged   = "merged"
	EventParked   = "parked"
	EventReaped   = "reaped"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_events (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	slug     TEXT NOT NULL,
	event    TEXT NOT NULL,
	detail   TEXT NOT NULL DEFAULT '',
	recorded TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_task_events_slug ON task_events(slug);
`

// Record is one ledger row.
type Record struct {
	Slug     string
	Event    string
	Detail   string
	Recorded time.Time
}

// Store wraps the ledger database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records one event.
func (s *Store) Append(ctx context.Context, slug, event, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_events (slug, event, detail) VALUES (?, ?, ?)`,
		slug, event, detail)
	if err != nil {
		return fmt.Errorf("recording %s for %s: %w", event, slug, err)
	}
	return nil
}

// ForTask returns a task's events, oldest first.
func (s *Store) ForTask(ctx context.Context, slug string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, event, detail, recorded FROM task_events WHERE slug = ? ORDER BY id`,
		slug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Recent returns the latest n events, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, event, detail, recorded FROM task_events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Slug, &r.Event, &r.Detail, &r.Recorded); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

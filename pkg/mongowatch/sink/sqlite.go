package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/admirito/mongowatch/pkg/mongowatch/record"
)

// ErrSinkClosed is returned by writes after Close.
var ErrSinkClosed = errors.New("sink is closed")

// SQLiteSink persists released snapshots to a SQLite table.
// It is suitable for single-process production use.
type SQLiteSink struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteSink opens the audit database at path ("./watch.db" or
// ":memory:" for testing) and creates the events table.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS watch_events (
			watch_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			final INTEGER NOT NULL,
			arrival_time TEXT NOT NULL,
			deadline TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			fields TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_watch_events_watch_id
		ON watch_events(watch_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Write(ctx context.Context, snap record.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	fields, err := json.Marshal(snap.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	final := 0
	if snap.Final {
		final = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO watch_events
			(watch_id, iteration, outcome, final, arrival_time, deadline, sequence, fields)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.ID, snap.Iteration, string(snap.Outcome), final,
		snap.ArrivalTime.UTC().Format(time.RFC3339Nano),
		snap.Deadline.UTC().Format(time.RFC3339Nano),
		snap.Sequence, string(fields))
	if err != nil {
		return fmt.Errorf("insert watch event: %w", err)
	}
	return nil
}

// Count returns the number of stored events for one watch ID, or all
// events when id is empty.
func (s *SQLiteSink) Count(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSinkClosed
	}

	var n int
	var err error
	if id == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM watch_events`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM watch_events WHERE watch_id = ?
		`, id).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count watch events: %w", err)
	}
	return n, nil
}

func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Package audit implements an append-only SQLite journal of daemon
// lifecycle and source-disable events (spec.md §11.2 supplement), the
// durable counterpart to the daemon's transient in-memory state.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Event is one recorded lifecycle entry.
type Event struct {
	Kind   string
	Detail string
}

// Entry is a journal row as read back by Recent.
type Entry struct {
	ID        int64
	Timestamp time.Time
	Kind      string
	Detail    string
}

// Journal is a thin wrapper over a single SQLite table. Writes are
// best-effort: a failure to record an event is logged but never fails
// the operation it is describing.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the journal database at path and ensures its
// schema exists.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	kind      TEXT NOT NULL,
	detail    TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	return &Journal{db: db, logger: logger.With("component", "audit")}, nil
}

// Record appends one event. Failures are logged, never returned — a
// journaling failure must not interrupt the daemon operation it logs.
func (j *Journal) Record(ctx context.Context, e Event) {
	if j == nil {
		return
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (timestamp, kind, detail) VALUES (?, ?, ?)`,
		time.Now().UTC(), e.Kind, e.Detail)
	if err != nil {
		j.logger.Warn("recording audit event", "kind", e.Kind, "error", err)
	}
}

// Recent returns the most recent n events, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, timestamp, kind, detail FROM events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

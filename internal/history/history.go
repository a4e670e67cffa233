package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one archived reconciliation event.
//
// Unlike the bounded in-memory event log on each device, archive entries
// are never evicted; retention is managed explicitly with Prune.
type Entry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Serial    string    `json:"serial"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository archives reconciliation events in SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository on an open SQLite connection.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Init creates the events table if it does not exist.
func (r *Repository) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id  TEXT NOT NULL,
			serial     TEXT NOT NULL DEFAULT '',
			kind       TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);
		CREATE INDEX IF NOT EXISTS idx_events_device_id ON events(device_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating events table: %w", err)
	}
	return nil
}

// Record inserts one archived event.
func (r *Repository) Record(ctx context.Context, e Entry) error {
	if e.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO events (device_id, serial, kind, detail) VALUES (?, ?, ?, ?)",
		e.DeviceID,
		e.Serial,
		e.Kind,
		e.Detail,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// ListByDevice returns recent archived events for a device, newest first.
// The limit defaults to 50 and is capped at 200.
func (r *Repository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, serial, kind, detail, created_at
		 FROM events
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Serial, &e.Kind, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = ts

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	return entries, nil
}

// Prune deletes archived events older than the given duration and
// returns the number of rows removed.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM events WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}

// parseTimestamp parses a created_at value stored by SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	ts, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return ts, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02 15:04:05", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}

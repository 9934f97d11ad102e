// Package store persists collected pixel events in SQLite.
//
// It uses modernc.org/sqlite (pure Go, no CGO). The database runs in WAL mode
// so exports can read while the collector writes, and schema migrations are
// applied on open.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Register the pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

// ErrEmptyPath is returned by Open for an empty database path.
var ErrEmptyPath = errors.New("store: database path must not be empty")

// Row is one stored event with the batch context it arrived with.
type Row struct {
	// Seq is the insertion sequence, assigned by the store.
	Seq int64

	EventID      string
	ClientID     string
	VisitorID    string
	AlterationID string
	Name         string
	PayloadJSON  string
	CreatedAt    time.Time
	ReceivedAt   time.Time
	RequestID    string
}

// Store is a SQLite-backed event table. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and applies migrations. Use
// ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	// WAL for concurrent readers, 5s busy timeout for lock contention.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert stores rows in one transaction and returns how many were new. A row
// whose (client, event id) pair is already stored is skipped; rows without an
// event id are always stored.
func (s *Store) Insert(ctx context.Context, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO events
			(event_id, client_id, visitor_id, alteration_id, name, payload_json, created_at, received_at, request_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range rows {
		res, err := stmt.ExecContext(ctx,
			r.EventID,
			r.ClientID,
			r.VisitorID,
			r.AlterationID,
			r.Name,
			r.PayloadJSON,
			r.CreatedAt.UnixMilli(),
			r.ReceivedAt.UnixMilli(),
			r.RequestID,
		)
		if err != nil {
			return 0, fmt.Errorf("store: insert event %q: %w", r.EventID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("store: rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit insert: %w", err)
	}
	return inserted, nil
}

// List returns up to limit rows received at or after since, in insertion
// order. A non-positive limit returns every matching row.
func (s *Store) List(ctx context.Context, since time.Time, limit int) ([]Row, error) {
	query := `
		SELECT seq, event_id, client_id, visitor_id, alteration_id, name, payload_json, created_at, received_at, request_id
		FROM events
		WHERE received_at >= ?
		ORDER BY seq`
	args := []any{since.UnixMilli()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r                     Row
			createdMS, receivedMS int64
		)
		if err := rows.Scan(
			&r.Seq,
			&r.EventID,
			&r.ClientID,
			&r.VisitorID,
			&r.AlterationID,
			&r.Name,
			&r.PayloadJSON,
			&createdMS,
			&receivedMS,
			&r.RequestID,
		); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdMS).UTC()
		r.ReceivedAt = time.UnixMilli(receivedMS).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate events: %w", err)
	}
	return out, nil
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count events: %w", err)
	}
	return n, nil
}

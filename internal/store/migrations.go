package store

import (
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	up      string
}

// migrations are applied in order. Append only.
var migrations = []migration{
	{
		version: 1,
		up: `
CREATE TABLE IF NOT EXISTS events (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id      TEXT    NOT NULL DEFAULT '',
    client_id     TEXT    NOT NULL,
    visitor_id    TEXT    NOT NULL,
    alteration_id TEXT    NOT NULL DEFAULT '',
    name          TEXT    NOT NULL,
    payload_json  TEXT    NOT NULL DEFAULT '{}',
    created_at    INTEGER NOT NULL,
    received_at   INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_events_client_event
    ON events(client_id, event_id) WHERE event_id <> '';
CREATE INDEX IF NOT EXISTS idx_events_received ON events(received_at);
`,
	},
	{
		version: 2,
		up: `
ALTER TABLE events ADD COLUMN request_id TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_events_name ON events(client_id, name);
`,
	},
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(db, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.version, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.Exec(m.up); err != nil {
		return fmt.Errorf("apply migration v%d: %w", m.version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.version, err)
	}
	return nil
}

// schemaVersion returns the highest applied migration, or 0.
func schemaVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
	return v, err
}

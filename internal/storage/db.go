// Package storage keeps the backlight transition history in SQLite.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	cause TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transitions_ts ON transitions(timestamp);

CREATE TABLE IF NOT EXISTS device_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	path TEXT NOT NULL,
	event TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_device_events_ts ON device_events(timestamp);
`

// DB wraps the SQLite history database. It is safe for concurrent use.
type DB struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertTransition inserts a transition record.
func (d *DB) InsertTransition(r TransitionRecord) error {
	_, err := d.db.Exec(
		"INSERT INTO transitions (timestamp, from_state, to_state, cause, error) VALUES (?, ?, ?, ?, ?)",
		r.Timestamp, r.From, r.To, r.Cause, r.Error,
	)
	return err
}

// LatestTransition returns the most recent transition, or nil if there is none.
func (d *DB) LatestTransition() (*TransitionRecord, error) {
	row := d.db.QueryRow("SELECT timestamp, from_state, to_state, cause, error FROM transitions ORDER BY timestamp DESC, id DESC LIMIT 1")
	var r TransitionRecord
	err := row.Scan(&r.Timestamp, &r.From, &r.To, &r.Cause, &r.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// TransitionsInRange returns transitions with from <= timestamp <= to, oldest first.
func (d *DB) TransitionsInRange(from, to int64) ([]TransitionRecord, error) {
	rows, err := d.db.Query(
		"SELECT timestamp, from_state, to_state, cause, error FROM transitions WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp, id",
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []TransitionRecord
	for rows.Next() {
		var r TransitionRecord
		if err := rows.Scan(&r.Timestamp, &r.From, &r.To, &r.Cause, &r.Error); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// InsertDeviceEvent inserts a device event.
func (d *DB) InsertDeviceEvent(e DeviceEvent) error {
	_, err := d.db.Exec(
		"INSERT INTO device_events (timestamp, path, event, error) VALUES (?, ?, ?, ?)",
		e.Timestamp, e.Path, e.Event, e.Error,
	)
	return err
}

// DeviceEventsInRange returns device events with from <= timestamp <= to, oldest first.
func (d *DB) DeviceEventsInRange(from, to int64) ([]DeviceEvent, error) {
	rows, err := d.db.Query(
		"SELECT timestamp, path, event, error FROM device_events WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp, id",
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []DeviceEvent
	for rows.Next() {
		var e DeviceEvent
		if err := rows.Scan(&e.Timestamp, &e.Path, &e.Event, &e.Error); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

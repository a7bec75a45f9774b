package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// localSchema is applied on every open; statements are idempotent.
var localSchema = []string{
	`CREATE TABLE IF NOT EXISTS active_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		idcard TEXT,
		pid INTEGER,
		pcucode TEXT,
		pcucodeperson TEXT,
		visitno INTEGER,
		visitdate TEXT,
		weight TEXT,
		height TEXT,
		pressure TEXT,
		temperature TEXT,
		pulse TEXT,
		is_temp INTEGER NOT NULL DEFAULT 0,
		session_start TEXT NOT NULL DEFAULT (datetime('now')),
		last_update TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS pending_measurements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		idcard TEXT,
		device_type TEXT NOT NULL,
		value TEXT,
		measured_at TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		last_error TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE TABLE IF NOT EXISTS pending_cardreader (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		idcard TEXT NOT NULL,
		timestamp TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		last_error TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE TABLE IF NOT EXISTS sync_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER,
		idcard TEXT,
		visitno INTEGER,
		fields_updated TEXT,
		sync_status TEXT NOT NULL,
		error_message TEXT,
		sync_timestamp TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE TABLE IF NOT EXISTS ingest_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT,
		device_type TEXT,
		idcard TEXT,
		payload TEXT,
		status TEXT NOT NULL DEFAULT 'received',
		error_message TEXT,
		received_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
}

// Capabilities describes optional local-schema columns, probed once at open
// so repositories never need per-call query fallbacks.
type Capabilities struct {
	HasTempFlag bool
}

// OpenLocal opens the embedded session store, creating the data directory
// and schema as needed. The pool is capped at a single connection: all local
// mutations go through one serialized writer.
func OpenLocal(path string) (*sql.DB, Capabilities, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, Capabilities{}, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, Capabilities{}, fmt.Errorf("failed to open local store: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range localSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, Capabilities{}, fmt.Errorf("failed to apply local schema: %w", err)
		}
	}

	caps, err := ProbeCapabilities(db)
	if err != nil {
		db.Close()
		return nil, Capabilities{}, err
	}

	return db, caps, nil
}

// ProbeCapabilities inspects the active_sessions table for optional columns.
func ProbeCapabilities(db *sql.DB) (Capabilities, error) {
	rows, err := db.Query(`PRAGMA table_info(active_sessions)`)
	if err != nil {
		return Capabilities{}, fmt.Errorf("failed to probe local schema: %w", err)
	}
	defer rows.Close()

	caps := Capabilities{}
	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return Capabilities{}, fmt.Errorf("failed to scan schema row: %w", err)
		}
		if name == "is_temp" {
			caps.HasTempFlag = true
		}
	}

	return caps, rows.Err()
}

// ResetLocal closes the store, removes the database file and reopens a fresh
// one. Used by operator tooling, never by the event loop.
func ResetLocal(path string, db *sql.DB) (*sql.DB, Capabilities, error) {
	if db != nil {
		db.Close()
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, Capabilities{}, fmt.Errorf("failed to remove local store: %w", err)
	}
	return OpenLocal(path)
}

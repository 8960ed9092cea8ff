// Package store initializes the sqlite database used for users, sessions
// and operation history.
package store

import (
	"database/sql"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Open creates the database and tables.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		units TEXT NOT NULL DEFAULT 'binary'
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (username) REFERENCES users(username)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS operation_logs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		op_type TEXT NOT NULL,
		params TEXT,
		status TEXT NOT NULL,
		summary TEXT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_operation_logs_started ON operation_logs(started_at);
	`

	_, err := db.Exec(schema)
	return err
}

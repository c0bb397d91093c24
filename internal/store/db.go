package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens the store fully in memory. Session state is a per-process
// cache: nothing must survive a restart.
const MemoryPath = ":memory:"

// DB wraps the SQLite connection holding the current session's messages and
// rooms.
type DB struct {
	*sql.DB
}

// Open creates a SQLite connection for the given path. The pool is pinned to
// a single connection: the engine is a single writer, and an in-memory
// database exists per connection.
func Open(path string) (*DB, error) {
	dsn := path + "?_busy_timeout=5000&_foreign_keys=on"
	if path != MemoryPath {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// Clear wipes all session-scoped state. Called on disconnect; the store is a
// per-session cache, not durable storage.
func (db *DB) Clear() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM rooms`); err != nil {
		return fmt.Errorf("clear rooms: %w", err)
	}
	return tx.Commit()
}

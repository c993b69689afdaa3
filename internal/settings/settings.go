// Package settings persists user preferences in a small SQLite-backed
// key-value store. This is the only state that survives a restart;
// telemetry views are always rebuilt from the files.
package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Recognized keys. Values are stored as strings; callers parse.
const (
	KeyPollingIntervalMs = "polling_interval_ms"
	KeyMaxDataPoints     = "max_data_points"
	KeyMaxTraces         = "max_traces"
	KeyChunkSizeBytes    = "chunk_size_bytes"
	KeyMaxFileSizeBytes  = "max_file_size_bytes"
	KeyTimeRangePreset   = "time_range"
	KeyLastDirectory     = "last_directory"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("settings store is closed")

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store is a SQLite-backed key-value settings store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the settings database at path.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("settings path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open settings db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (string, bool, error) {
	if s.db == nil {
		return "", false, ErrClosed
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Put inserts or replaces the value for key.
func (s *Store) Put(key, value string) error {
	if s.db == nil {
		return ErrClosed
	}

	_, err := s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if s.db == nil {
		return ErrClosed
	}

	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys returns all stored keys in sorted order.
func (s *Store) Keys() ([]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`SELECT key FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close releases the database. Subsequent operations return ErrClosed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

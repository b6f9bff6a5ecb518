// Package storage persists runtime state across restarts as a key to
// versioned-blob table in sqlite. Each subsystem tags its blobs with a
// version; Fetch refuses a version mismatch so stale layouts are never
// deserialised into new code — the caller cold-starts instead.
package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
)

// Version tags a subsystem's blob layout.
type Version uint32

const schema = `
CREATE TABLE IF NOT EXISTS state (
	key     TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	blob    BLOB NOT NULL
);`

type Store struct {
	db *sql.DB
}

// Open creates or opens the state database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply state schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Put stores or replaces a blob under key.
func (s *Store) Put(key string, version Version, blob []byte) error {
	if key == "" {
		return fmt.Errorf("state key: %w", errs.ErrInvalid)
	}
	_, err := s.db.Exec(
		`INSERT INTO state (key, version, blob) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET version = excluded.version, blob = excluded.blob`,
		key, int64(version), blob)
	if err != nil {
		return fmt.Errorf("state put %q: %w", key, err)
	}
	return nil
}

// Fetch retrieves the blob stored under key. A missing key returns
// ErrNotFound; a stored version different from the requested one returns
// ErrMismatch without the blob.
func (s *Store) Fetch(key string, version Version) ([]byte, error) {
	var have int64
	var blob []byte
	err := s.db.QueryRow(`SELECT version, blob FROM state WHERE key = ?`, key).Scan(&have, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("state %q: %w", key, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("state fetch %q: %w", key, err)
	}
	if Version(have) != version {
		return nil, fmt.Errorf("state %q: stored version %d, want %d: %w", key, have, version, errs.ErrMismatch)
	}
	return blob, nil
}

// Delete removes a key; deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("state delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

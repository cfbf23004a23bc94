package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// StateStore is a tiny local SQLite store holding the serialized accumulator
// state, so a process restart resumes from the last consistent snapshot
// instead of silently losing a partially-filled batch.
type StateStore struct {
	db *sql.DB
}

// NewStateStore opens (or creates) the state database at path.
func NewStateStore(path string) (*StateStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	// A single writer keeps this simple; the accumulator serializes writes
	// under its own lock anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping state store: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS accumulator_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state store schema: %w", err)
	}

	log.Printf("✅ [STATE] SQLite state store ready (%s)", path)
	return &StateStore{db: db}, nil
}

// Save overwrites the stored accumulator snapshot.
func (s *StateStore) Save(payload []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO accumulator_state (id, payload, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save accumulator state: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or (nil, nil) when none exists yet.
func (s *StateStore) Load() ([]byte, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM accumulator_state WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load accumulator state: %w", err)
	}
	return payload, nil
}

// Close closes the underlying database.
func (s *StateStore) Close() error {
	return s.db.Close()
}

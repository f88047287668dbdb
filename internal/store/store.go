// Package store is the client's durable local storage: the primary and
// grader tokens under fixed keys, and per-exercise code drafts.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed keys the tokens table uses.
const (
	KeyToken       = "token"
	KeyGraderToken = "grader_token"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tokens (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS drafts (
		exercise_id INTEGER PRIMARY KEY,
		code TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SetToken upserts a serialized token under a fixed key.
func (s *Store) SetToken(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO tokens (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetToken returns the serialized token for a key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetToken(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM tokens WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// DeleteToken removes one token key.
func (s *Store) DeleteToken(key string) error {
	_, err := s.db.Exec(`DELETE FROM tokens WHERE key = ?`, key)
	return err
}

// ClearTokens removes both token keys; used on logout and on corrupted
// stored values.
func (s *Store) ClearTokens() error {
	_, err := s.db.Exec(`DELETE FROM tokens`)
	return err
}

// SaveDraft overwrites the draft code for an exercise. Every edit replaces
// the draft wholesale.
func (s *Store) SaveDraft(exerciseID int64, code string) error {
	_, err := s.db.Exec(
		`INSERT INTO drafts (exercise_id, code, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(exercise_id) DO UPDATE SET code = ?, updated_at = ?`,
		exerciseID, code, time.Now(), code, time.Now(),
	)
	return err
}

// GetDraft returns the draft code for an exercise, or "" if none exists.
func (s *Store) GetDraft(exerciseID int64) (string, error) {
	var code string
	err := s.db.QueryRow(`SELECT code FROM drafts WHERE exercise_id = ?`, exerciseID).Scan(&code)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return code, err
}

// DeleteDraft removes an exercise's draft.
func (s *Store) DeleteDraft(exerciseID int64) error {
	_, err := s.db.Exec(`DELETE FROM drafts WHERE exercise_id = ?`, exerciseID)
	return err
}

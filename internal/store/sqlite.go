package store

import (
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS app_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

const (
	keySessions  = "sessions"
	keyCurrentID = "current_session_id"
)

// stateDB is the durable key-value store backing the session collection:
// two string-keyed entries, read once at startup and rewritten after every
// mutation.
type stateDB struct {
	db *sql.DB
}

func openStateDB(path string) (*stateDB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &stateDB{db: db}, nil
}

func (s *stateDB) get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// setAll writes every pair in one transaction so the session collection and
// the current id never go out of step on disk.
func (s *stateDB) setAll(pairs map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, value := range pairs {
		_, err := tx.Exec(`
			INSERT INTO app_state (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
		`, key, value)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *stateDB) Close() error {
	return s.db.Close()
}

// Package pollstate persists the per-account polling mode so the
// supervisor can report a meaningful state after a restart, before the
// first poll completes.
package pollstate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Record is one account's persisted polling state.
type Record struct {
	AccountID    int64
	Mode         string
	LastChangeMS int64
	Reason       string
}

// Store manages the polling-state table over database/sql.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS polling_states (
	account_id INTEGER PRIMARY KEY,
	mode TEXT NOT NULL,
	last_change_ms INTEGER NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);`

// New opens (creating if needed) the polling-state database at path.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("polling state store path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating polling_states table failed: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Upsert writes the state for one account, replacing any previous row.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("polling state store not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO polling_states (account_id, mode, last_change_ms, reason)
VALUES (?, ?, ?, ?)
ON CONFLICT(account_id) DO UPDATE SET
	mode = excluded.mode,
	last_change_ms = excluded.last_change_ms,
	reason = excluded.reason`,
		rec.AccountID, rec.Mode, rec.LastChangeMS, rec.Reason)
	return err
}

// LoadAll returns every persisted polling state.
func (s *Store) LoadAll(ctx context.Context) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("polling state store not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT account_id, mode, last_change_ms, reason FROM polling_states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.AccountID, &rec.Mode, &rec.LastChangeMS, &rec.Reason); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

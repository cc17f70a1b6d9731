// Package history persists committed conversions locally.
//
// The engine keeps its own learning data; this store is the front-end's
// recall of what the user actually committed for a reading. It seeds the
// candidate list when the engine answers with nothing, so recently used
// conversions stay reachable even while the engine's dictionary is cold.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS commits (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    reading      TEXT NOT NULL,
    candidate    TEXT NOT NULL,
    committed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_commits_reading ON commits(reading, committed_at DESC);
`

// Store is a SQLite-backed commit history.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open creates or opens the history database at path. The parent directory
// is created if missing. path may be ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("history: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	return &Store{db: db, log: logger.With(slog.String("component", "history"))}, nil
}

// Record stores one committed conversion.
func (s *Store) Record(reading, candidate string) error {
	if reading == "" || candidate == "" {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO commits (reading, candidate, committed_at) VALUES (?, ?, ?)`,
		reading, candidate, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Lookup returns the distinct candidates previously committed for reading,
// most frequently and most recently used first.
func (s *Store) Lookup(reading string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT candidate FROM commits
		 WHERE reading = ?
		 GROUP BY candidate
		 ORDER BY COUNT(*) DESC, MAX(committed_at) DESC
		 LIMIT ?`,
		reading, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: lookup: %w", err)
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

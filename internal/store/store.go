// Package store provides a SQLite-backed query history for docrag. Every
// answered (or failed) query is appended with its answer and provenance so
// operators can review what was asked and which documents grounded it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Entry is a single recorded query.
type Entry struct {
	// ID is assigned by the store on Append.
	ID int64 `json:"id"`
	// Question is the user's question.
	Question string `json:"question"`
	// Answer is the generated answer, empty when generation failed.
	Answer string `json:"answer"`
	// Sources lists the source of each passage handed to the generator, best first.
	Sources []string `json:"sources"`
	// StoreKind is the vector index backend that served the query.
	StoreKind string `json:"store_kind"`
	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
	// Duration is the end-to-end query latency.
	Duration time.Duration `json:"duration"`
	// CreatedAt is when the entry was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// HistoryStore persists and retrieves query history.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Append persists e. ID and CreatedAt are filled by the store.
	Append(ctx context.Context, e Entry) error
	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a HistoryStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// now is the clock; replaced in tests.
	now func() time.Time
}

// DefaultDBPath returns the default path for the history database under dir
// (usually ~/.docrag), creating the directory if needed.
func DefaultDBPath(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS queries (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    question     TEXT    NOT NULL,
    answer       TEXT    NOT NULL DEFAULT '',
    sources      TEXT    NOT NULL DEFAULT '[]', -- JSON array
    store_kind   TEXT    NOT NULL DEFAULT '',
    error        TEXT    NOT NULL DEFAULT '',
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL               -- Unix timestamp (milliseconds)
);
CREATE INDEX IF NOT EXISTS idx_queries_created ON queries (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists a single query.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	if e.Sources == nil {
		e.Sources = []string{}
	}
	sources, err := json.Marshal(e.Sources)
	if err != nil {
		return fmt.Errorf("store: append: encode sources: %w", err)
	}
	const q = `
INSERT INTO queries (question, answer, sources, store_kind, error, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		e.Question, e.Answer, string(sources), e.StoreKind, e.Error,
		e.Duration.Milliseconds(), s.now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}
	const q = `
SELECT id, question, answer, sources, store_kind, error, duration_ms, created_at
FROM   queries
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			sources string
			ms, ts  int64
		)
		if err := rows.Scan(&e.ID, &e.Question, &e.Answer, &sources, &e.StoreKind, &e.Error, &ms, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &e.Sources); err != nil {
			return nil, fmt.Errorf("store: recent: decode sources of entry %d: %w", e.ID, err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		e.CreatedAt = time.UnixMilli(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return entries, nil
}

// Prune deletes all but the newest keep entries and reports how many rows
// were removed. A non-positive keep is a no-op.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	const q = `
DELETE FROM queries
WHERE  id NOT IN (
    SELECT id FROM queries ORDER BY created_at DESC, id DESC LIMIT ?
)`
	res, err := s.db.ExecContext(ctx, q, keep)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return n, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger (
	url TEXT PRIMARY KEY,
	ts TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT ''
);`

// SQLiteStore keeps the ledger in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the table exists.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StoreError{Backend: "sqlite", Op: "open", Cause: err}
	}
	// One writer keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, &StoreError{Backend: "sqlite", Op: "create schema", Cause: err}
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads every row.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, ts, status, detail FROM ledger`)
	if err != nil {
		return nil, &StoreError{Backend: "sqlite", Op: "query", Cause: err}
	}
	defer func() { _ = rows.Close() }()

	entries := make(map[string]Entry)
	for rows.Next() {
		var url, ts, status, detail string
		if err := rows.Scan(&url, &ts, &status, &detail); err != nil {
			return nil, &StoreError{Backend: "sqlite", Op: "scan", Cause: err}
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, &StoreError{Backend: "sqlite", Op: fmt.Sprintf("parse ts for %s", url), Cause: err}
		}
		entries[url] = Entry{Timestamp: parsed.UTC(), Status: Status(status), Detail: detail}
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Backend: "sqlite", Op: "rows", Cause: err}
	}
	return entries, nil
}

// Put upserts one row.
func (s *SQLiteStore) Put(ctx context.Context, url string, entry Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger (url, ts, status, detail) VALUES (?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET ts = excluded.ts, status = excluded.status, detail = excluded.detail`,
		url, entry.Timestamp.UTC().Format(time.RFC3339Nano), string(entry.Status), entry.Detail,
	)
	if err != nil {
		return &StoreError{Backend: "sqlite", Op: "upsert", Cause: err}
	}
	return nil
}

// ReplaceAll rewrites the table in one transaction.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, entries map[string]Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Backend: "sqlite", Op: "begin", Cause: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger`); err != nil {
		return &StoreError{Backend: "sqlite", Op: "clear", Cause: err}
	}
	for url, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger (url, ts, status, detail) VALUES (?, ?, ?, ?)`,
			url, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Status), e.Detail,
		); err != nil {
			return &StoreError{Backend: "sqlite", Op: "insert", Cause: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Backend: "sqlite", Op: "commit", Cause: err}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

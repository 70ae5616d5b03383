package ledger

import (
	"context"

	"github.com/jonathan/apply-agent/internal/db"
)

// PostgresStore keeps the ledger in the apply_ledger table.
type PostgresStore struct {
	db *db.DB
}

// NewPostgresStore connects and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	conn, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, &StoreError{Backend: "postgres", Op: "connect", Cause: err}
	}
	if err := conn.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, &StoreError{Backend: "postgres", Op: "schema", Cause: err}
	}
	return &PostgresStore{db: conn}, nil
}

// DB exposes the connection for run bookkeeping.
func (s *PostgresStore) DB() *db.DB {
	return s.db
}

// Load reads every row.
func (s *PostgresStore) Load(ctx context.Context) (map[string]Entry, error) {
	rows, err := s.db.LedgerRows(ctx)
	if err != nil {
		return nil, &StoreError{Backend: "postgres", Op: "load", Cause: err}
	}
	entries := make(map[string]Entry, len(rows))
	for _, r := range rows {
		entries[r.URL] = Entry{Timestamp: r.RecordedAt.UTC(), Status: Status(r.Status), Detail: r.Detail}
	}
	return entries, nil
}

// Put upserts one row.
func (s *PostgresStore) Put(ctx context.Context, url string, entry Entry) error {
	if err := s.db.UpsertLedgerRow(ctx, toRow(url, entry)); err != nil {
		return &StoreError{Backend: "postgres", Op: "put", Cause: err}
	}
	return nil
}

// ReplaceAll rewrites the table.
func (s *PostgresStore) ReplaceAll(ctx context.Context, entries map[string]Entry) error {
	rows := make([]db.LedgerRow, 0, len(entries))
	for url, e := range entries {
		rows = append(rows, toRow(url, e))
	}
	if err := s.db.ReplaceLedger(ctx, rows); err != nil {
		return &StoreError{Backend: "postgres", Op: "replace", Cause: err}
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func toRow(url string, e Entry) db.LedgerRow {
	return db.LedgerRow{URL: url, RecordedAt: e.Timestamp, Status: string(e.Status), Detail: e.Detail}
}

// Package db provides PostgreSQL access for the ledger and run history.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables used by the agent. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS apply_ledger (
	url         TEXT PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS apply_runs (
	id           UUID PRIMARY KEY,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at TIMESTAMPTZ,
	status       TEXT NOT NULL,
	processed    INTEGER NOT NULL DEFAULT 0
);`

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// LedgerRow is one row of apply_ledger.
type LedgerRow struct {
	URL        string
	RecordedAt time.Time
	Status     string
	Detail     string
}

// Run is one row of apply_runs.
type Run struct {
	ID          uuid.UUID
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
	Processed   int
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// EnsureSchema creates missing tables.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// LedgerRows returns every ledger row.
func (db *DB) LedgerRows(ctx context.Context) ([]LedgerRow, error) {
	rows, err := db.pool.Query(ctx, `SELECT url, recorded_at, status, detail FROM apply_ledger`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []LedgerRow
	for rows.Next() {
		var r LedgerRow
		if err := rows.Scan(&r.URL, &r.RecordedAt, &r.Status, &r.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LedgerRow returns the row for url, or nil when absent.
func (db *DB) LedgerRow(ctx context.Context, url string) (*LedgerRow, error) {
	var r LedgerRow
	err := db.pool.QueryRow(ctx,
		`SELECT url, recorded_at, status, detail FROM apply_ledger WHERE url = $1`, url,
	).Scan(&r.URL, &r.RecordedAt, &r.Status, &r.Detail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger row: %w", err)
	}
	return &r, nil
}

// UpsertLedgerRow inserts or overwrites the row for r.URL.
func (db *DB) UpsertLedgerRow(ctx context.Context, r LedgerRow) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO apply_ledger (url, recorded_at, status, detail)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (url) DO UPDATE SET recorded_at = $2, status = $3, detail = $4`,
		r.URL, r.RecordedAt, r.Status, r.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger row: %w", err)
	}
	return nil
}

// ReplaceLedger swaps the ledger contents in one transaction.
func (db *DB) ReplaceLedger(ctx context.Context, rows []LedgerRow) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM apply_ledger`); err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(
			`INSERT INTO apply_ledger (url, recorded_at, status, detail) VALUES ($1, $2, $3, $4)`,
			r.URL, r.RecordedAt, r.Status, r.Detail,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert ledger rows: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ledger: %w", err)
	}
	return nil
}

// CreateRun records the start of an automated run.
func (db *DB) CreateRun(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO apply_runs (id, status) VALUES ($1, 'running')`, id,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (db *DB) CompleteRun(ctx context.Context, id uuid.UUID, status string, processed int) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE apply_runs SET status = $1, processed = $2, completed_at = NOW() WHERE id = $3`,
		status, processed, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun fetches a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	var r Run
	err := db.pool.QueryRow(ctx,
		`SELECT id, started_at, completed_at, status, processed FROM apply_runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.StartedAt, &r.CompletedAt, &r.Status, &r.Processed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

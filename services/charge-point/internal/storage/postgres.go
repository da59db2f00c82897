package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MeterSlotsSchema creates the table backing PostgresAdapter.
const MeterSlotsSchema = `
	CREATE TABLE IF NOT EXISTS meter_slots (
		path       TEXT PRIMARY KEY,
		doc        BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

const defaultQueryTimeout = 3 * time.Second

// PostgresAdapter stores documents as rows of the meter_slots table.
type PostgresAdapter struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresAdapter ctor.
func NewPostgresAdapter(db *sql.DB) *PostgresAdapter {
	return &PostgresAdapter{db: db, timeout: defaultQueryTimeout}
}

func (a *PostgresAdapter) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout)
}

// Stat implements Adapter.
func (a *PostgresAdapter) Stat(path string) (int64, bool, error) {
	ctx, cancel := a.ctx()
	defer cancel()

	const query = `SELECT octet_length(doc) FROM meter_slots WHERE path = $1`
	var size int64
	err := a.db.QueryRowContext(ctx, query, path).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	return size, true, nil
}

// Store implements Adapter.
func (a *PostgresAdapter) Store(path string, doc []byte) error {
	ctx, cancel := a.ctx()
	defer cancel()

	const query = `
		INSERT INTO meter_slots (path, doc, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (path) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
	`
	if _, err := a.db.ExecContext(ctx, query, path, doc); err != nil {
		return fmt.Errorf("storage: store %s: %w", path, err)
	}
	return nil
}

// Load implements Adapter.
func (a *PostgresAdapter) Load(path string) ([]byte, error) {
	ctx, cancel := a.ctx()
	defer cancel()

	const query = `SELECT doc FROM meter_slots WHERE path = $1`
	var doc []byte
	err := a.db.QueryRowContext(ctx, query, path).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load %s: %w", path, err)
	}
	return doc, nil
}

// Remove implements Adapter.
func (a *PostgresAdapter) Remove(path string) error {
	ctx, cancel := a.ctx()
	defer cancel()

	const query = `DELETE FROM meter_slots WHERE path = $1`
	res, err := a.db.ExecContext(ctx, query, path)
	if err != nil {
		return fmt.Errorf("storage: remove %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: remove %s: %w", path, err)
	}
	if n == 0 {
		return fmt.Errorf("storage: remove %s: %w", path, ErrNotExist)
	}
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/kv"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the table the PostgreSQL store reads from.
const Schema = `
	CREATE TABLE IF NOT EXISTS kv_entries (
		key        TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		expires_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// PostgresStore is a PostgreSQL implementation of kv.ReadWriter.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed key-value store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the kv_entries table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, Schema)

	return err
}

func (p *PostgresStore) Put(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	query := `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()
	`

	var expiresAt *time.Time

	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := p.pool.Exec(ctx, query, key, string(value), expiresAt)

	return err
}

func (p *PostgresStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	query := `
		SELECT value::text
		FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
	`

	var value string

	err := p.pool.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kv.ErrNotFound
		}

		return nil, err
	}

	return json.RawMessage(value), nil
}

var _ kv.ReadWriter = (*PostgresStore)(nil)

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createStateTableSQL = `CREATE TABLE IF NOT EXISTS watch_state (
        key        TEXT PRIMARY KEY,
        value      TEXT NOT NULL,
        expires_at TIMESTAMPTZ,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	getStateSQL = `SELECT value
    FROM watch_state
    WHERE key = $1
      AND (expires_at IS NULL OR expires_at > now());`

	upsertStateSQL = `INSERT INTO watch_state (key, value, expires_at, updated_at)
    VALUES ($1, $2, $3, now())
    ON CONFLICT (key) DO UPDATE
    SET value      = EXCLUDED.value,
        expires_at = EXCLUDED.expires_at,
        updated_at = EXCLUDED.updated_at;`

	deleteStateSQL = `DELETE FROM watch_state WHERE key = $1;`

	purgeExpiredSQL = `DELETE FROM watch_state WHERE expires_at IS NOT NULL AND expires_at <= now();`
)

// PostgresStore keeps state in a single watch_state table. Expiry is evaluated on read, expired
// rows are removed by PurgeExpired.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate creates the state table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createStateTableSQL); err != nil {
		return storeErr("migrate", "watch_state", err)
	}
	return nil
}

// Get reads a non-expired value.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", false, err
	}
	var value string
	if err := pool.QueryRow(ctx, getStateSQL, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, storeErr("get", key, err)
	}
	return value, true, nil
}

// Set upserts a value with an optional expiry.
func (s *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = time.Now().UTC().Add(ttl)
	}
	if _, err := pool.Exec(ctx, upsertStateSQL, key, value, expiresAt); err != nil {
		return storeErr("set", key, err)
	}
	return nil
}

// Delete removes a key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, deleteStateSQL, key); err != nil {
		return storeErr("delete", key, err)
	}
	return nil
}

// PurgeExpired deletes expired rows and reports how many were removed.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, purgeExpiredSQL)
	if err != nil {
		return 0, storeErr("purge", "expired", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Purger = (*PostgresStore)(nil)
)

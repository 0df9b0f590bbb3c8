// Package storage persists per-collection alert state: last-seen event ids, last alerted prices
// and cooldown markers. The Store is the single source of truth across poll cycles.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"collectionwatch/internal/config"
)

var (
	// ErrStore wraps every backend read or write failure.
	ErrStore = errors.New("state store")
	// ErrNotConfigured indicates the backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// Store is a string key-value store with optional per-key expiry.
type Store interface {
	// Get returns the value and whether the key exists (and has not expired).
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Purger is implemented by backends that leave expired keys in place until removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StateConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "redis":
		return NewRedisStore(ctx, cfg.Redis)
	case "postgres":
		pool, err := NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", ErrNotConfigured, cfg.Backend)
}

func storeErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStore, op, key, err)
}

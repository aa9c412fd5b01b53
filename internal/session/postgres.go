package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/cooldialog/internal/config"
)

// Schema creates the table used by PgBackend.
const Schema = `
CREATE TABLE IF NOT EXISTS cool_session_state (
	scope      TEXT        NOT NULL,
	name       TEXT        NOT NULL,
	value      JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ,
	PRIMARY KEY (scope, name)
)`

// PgBackend is a PostgreSQL-backed Backend using pgx/v5.
type PgBackend struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPgBackend creates a new PostgreSQL backend.
func NewPgBackend(pool *pgxpool.Pool, ttl time.Duration) *PgBackend {
	return &PgBackend{pool: pool, ttl: ttl}
}

// EnsureSchema creates the state table if it does not exist.
func (b *PgBackend) EnsureSchema(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create session state table: %w", err)
	}
	return nil
}

// Load returns the unexpired entries for scope.
func (b *PgBackend) Load(ctx context.Context, scope string) (map[string][]byte, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT name, value
		FROM cool_session_state
		WHERE scope = $1 AND (expires_at IS NULL OR expires_at > now())`,
		scope,
	)
	if err != nil {
		return nil, fmt.Errorf("query session state: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var name string
		var value []byte
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan session state: %w", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}

// Store upserts entries in a single batch.
func (b *PgBackend) Store(ctx context.Context, scope string, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	var expiresAt *time.Time
	if b.ttl > 0 {
		t := now.Add(b.ttl)
		expiresAt = &t
	}

	batch := &pgx.Batch{}
	for name, v := range entries {
		batch.Queue(`
			INSERT INTO cool_session_state (scope, name, value, updated_at, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (scope, name) DO UPDATE SET
				value = EXCLUDED.value,
				updated_at = EXCLUDED.updated_at,
				expires_at = EXCLUDED.expires_at`,
			scope, name, v, now, expiresAt,
		)
	}
	// Refresh the expiry of entries not rewritten in this batch.
	batch.Queue(`UPDATE cool_session_state SET expires_at = $2 WHERE scope = $1`, scope, expiresAt)

	if err := b.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert session state: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (b *PgBackend) HealthCheck(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Driver returns "postgres".
func (b *PgBackend) Driver() string { return config.DriverPostgres }

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// Postgres driver registration.
	_ "github.com/lib/pq"
)

// PostgresStore backs the façade with a single key-value table. Postgres has
// no native key expiry, so rows carry an expires_at column: reads treat
// expired rows as absent and Cleanup reclaims them.
type PostgresStore struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	k          TEXT PRIMARY KEY,
	v          BYTEA NOT NULL,
	expires_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS kv_entries_expires_at_idx ON kv_entries (expires_at) WHERE expires_at IS NOT NULL;
`

// NewPostgresStore opens a connection pool for the given DSN and ensures the
// kv table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing pool. Used by tests.
func NewPostgresStoreFromDB(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure kv schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key []string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT v FROM kv_entries WHERE k = $1 AND (expires_at IS NULL OR expires_at > now())`,
		JoinKey(key),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	return raw, nil
}

func (s *PostgresStore) Set(ctx context.Context, key []string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (k, v, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, expires_at = EXCLUDED.expires_at`,
		JoinKey(key), value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres set: %w", err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, key []string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE k = $1`, JoinKey(key)); err != nil {
		return fmt.Errorf("postgres remove: %w", err)
	}
	return nil
}

func (s *PostgresStore) Take(ctx context.Context, key []string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM kv_entries WHERE k = $1 AND (expires_at IS NULL OR expires_at > now()) RETURNING v`,
		JoinKey(key),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres take: %w", err)
	}
	return raw, nil
}

func (s *PostgresStore) List(ctx context.Context, prefix []string) ([][]string, error) {
	flatPrefix := JoinKey(prefix) + Separator

	rows, err := s.db.QueryContext(ctx,
		`SELECT k FROM kv_entries WHERE k LIKE $1 || '%' AND (expires_at IS NULL OR expires_at > now())`,
		flatPrefix,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres list: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var flat string
		if err := rows.Scan(&flat); err != nil {
			return nil, fmt.Errorf("postgres list scan: %w", err)
		}
		out = append(out, SplitKey(strings.TrimPrefix(flat, flatPrefix)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres list rows: %w", err)
	}
	return out, nil
}

// Cleanup deletes expired rows and returns how many were removed. Intended to
// run periodically from the server lifecycle.
func (s *PostgresStore) Cleanup(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("postgres cleanup: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ Store = (*PostgresStore)(nil)

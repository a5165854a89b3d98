package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore keeps entries in a single kv_entries table.
type PostgresStore struct {
	db         *sql.DB
	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresStoreFromDB(db), nil
}

// NewPostgresStoreFromDB wraps an existing handle; the caller owns db.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS kv_entries (
    key TEXT PRIMARY KEY,
    value BYTEA NOT NULL DEFAULT ''::bytea,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, false, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, false, err
	}
	var value []byte
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key=$1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO kv_entries (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key)
DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at
`, key, value, time.Now())
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key=$1`, key)
	return err
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

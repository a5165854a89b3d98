package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Store is durable key-value storage for serialized structured data.
// Get reports ok=false for a missing key; that is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendMemory   = "memory"
)

var ErrKeyRequired = errors.New("kvstore: key is required")

// Config selects and configures a backend.
type Config struct {
	Backend    string
	Dir        string
	DSN        string
	S3         S3Config
	CacheItems int
}

// Open builds the configured backend, optionally fronted by an LRU cache.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		base Store
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		base, err = NewFileStore(cfg.Dir)
	case BackendPostgres:
		base, err = NewPostgresStore(ctx, cfg.DSN)
	case BackendS3:
		base, err = NewS3Store(cfg.S3)
	case BackendMemory:
		base = NewMemoryStore()
	default:
		return nil, fmt.Errorf("kvstore: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	if cfg.CacheItems > 0 {
		return NewCachedStore(base, cfg.CacheItems)
	}
	return base, nil
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrKeyRequired
	}
	return key, nil
}

// PersistenceError wraps a backend failure with the operation and key.
// Callers log it and degrade; it never aborts a session.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("kvstore %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Load reads key and wraps any failure in a PersistenceError.
func Load(ctx context.Context, s Store, key string) ([]byte, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, &PersistenceError{Op: "get", Key: key, Err: err}
	}
	return raw, ok, nil
}

// Save writes key and wraps any failure in a PersistenceError.
func Save(ctx context.Context, s Store, key string, value []byte) error {
	if err := s.Set(ctx, key, value); err != nil {
		return &PersistenceError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Close releases backend resources held by s, looking through a cache.
func Close(s Store) error {
	if c, ok := s.(*CachedStore); ok {
		s = c.Origin()
	}
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

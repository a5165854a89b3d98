package kvstore

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

type MetricsSnapshot struct {
	Hits           uint64
	Misses         uint64
	OriginReads    uint64
	OriginWrites   uint64
	OriginReadErr  uint64
	OriginWriteErr uint64
}

type metrics struct {
	hits           atomic.Uint64
	misses         atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
}

// CachedStore is a read-through LRU in front of another Store.
// Writes go to the origin first and only then update the cache.
type CachedStore struct {
	origin  Store
	cache   *lru.Cache[string, []byte]
	metrics metrics
}

func NewCachedStore(origin Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = 64
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{origin: origin, cache: cache}, nil
}

// Origin returns the wrapped store.
func (s *CachedStore) Origin() Store { return s.origin }

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, false, err
	}
	if raw, ok := s.cache.Get(key); ok {
		s.metrics.hits.Add(1)
		return append([]byte(nil), raw...), true, nil
	}
	s.metrics.misses.Add(1)
	s.metrics.originReads.Add(1)

	raw, ok, err := s.origin.Get(ctx, key)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	s.cache.Add(key, append([]byte(nil), raw...))
	return raw, true, nil
}

func (s *CachedStore) Set(ctx context.Context, key string, value []byte) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.metrics.originWrites.Add(1)
	if err := s.origin.Set(ctx, key, value); err != nil {
		s.metrics.originWriteErr.Add(1)
		s.cache.Remove(key)
		return err
	}
	s.cache.Add(key, append([]byte(nil), value...))
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.cache.Remove(key)
	return s.origin.Delete(ctx, key)
}

// Invalidate drops key from the cache so the next Get hits the origin.
func (s *CachedStore) Invalidate(key string) {
	s.cache.Remove(key)
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:           s.metrics.hits.Load(),
		Misses:         s.metrics.misses.Load(),
		OriginReads:    s.metrics.originReads.Load(),
		OriginWrites:   s.metrics.originWrites.Load(),
		OriginReadErr:  s.metrics.originReadErr.Load(),
		OriginWriteErr: s.metrics.originWriteErr.Load(),
	}
}

// Invalidate drops key from store's read cache when it has one.
func Invalidate(store Store, key string) {
	if c, ok := store.(interface{ Invalidate(string) }); ok {
		c.Invalidate(key)
	}
}

// FileBacked returns the FileStore behind store, unwrapping a cache.
func FileBacked(store Store) (*FileStore, bool) {
	switch s := store.(type) {
	case *FileStore:
		return s, true
	case *CachedStore:
		return FileBacked(s.origin)
	}
	return nil, false
}

package kvstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Tests use the failure hooks to
// simulate a broken persistence layer.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte

	FailGet error
	FailSet error

	sets int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailGet != nil {
		return nil, false, s.FailGet
	}
	raw, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), raw...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.FailSet != nil {
		return s.FailSet
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// SetCalls counts Set attempts, failed ones included.
func (s *MemoryStore) SetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// Raw writes a payload directly, bypassing failure hooks.
func (s *MemoryStore) Raw(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
}

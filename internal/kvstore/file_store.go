package kvstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var plainKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileStore keeps one file per key under Root. Writes go through a temp
// file and rename so readers never see a partial payload.
type FileStore struct {
	mu   sync.Mutex
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: root}, nil
}

// Root returns the directory holding the key files.
func (s *FileStore) Root() string { return s.root }

// PathFor returns the file backing key.
func (s *FileStore) PathFor(key string) string {
	return filepath.Join(s.root, fileName(strings.TrimSpace(key)))
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.PathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return raw, true, nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.PathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.PathFor(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// fileName keeps simple keys readable so the files can be edited by hand;
// anything else is hashed.
func fileName(key string) string {
	if plainKey.MatchString(key) {
		return key + ".json"
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".bin"
}

package healthauth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// LocalStore is the device-local key-value cache. It is a read accelerator
// only; the profile store stays authoritative.
type LocalStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	// Keys lists stored keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// MemoryLocalStore is an in-process LocalStore.
type MemoryLocalStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryLocalStore returns an empty in-process store.
func NewMemoryLocalStore() *MemoryLocalStore {
	return &MemoryLocalStore{data: make(map[string]string)}
}

func (s *MemoryLocalStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryLocalStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryLocalStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.data, k)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryLocalStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return matchingKeys(s.data, prefix), nil
}

// FileLocalStore persists the cache as a flat YAML map. Every write
// rewrites the file through a temporary file and rename.
type FileLocalStore struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// OpenFileLocalStore loads path, creating an empty store if it does not exist.
func OpenFileLocalStore(path string) (*FileLocalStore, error) {
	s := &FileLocalStore{path: path, data: make(map[string]string)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read local store: %w", err)
	}
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("decode local store %s: %w", path, err)
		}
		if s.data == nil {
			s.data = make(map[string]string)
		}
	}
	return s, nil
}

func (s *FileLocalStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *FileLocalStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.data[key]
	s.data[key] = value
	if err := s.flushLocked(); err != nil {
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

func (s *FileLocalStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, k := range keys {
		if _, ok := s.data[k]; ok {
			delete(s.data, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.flushLocked()
}

func (s *FileLocalStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return matchingKeys(s.data, prefix), nil
}

func (s *FileLocalStore) flushLocked() error {
	out, err := yaml.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("encode local store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create local store dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".healthauth-*")
	if err != nil {
		return fmt.Errorf("write local store: %w", err)
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write local store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write local store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write local store: %w", err)
	}
	return nil
}

func matchingKeys(data map[string]string, prefix string) []string {
	keys := make([]string, 0)
	for k := range data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// cacheKeys builds the namespaced local keys. Account keys look like
// "@user:<id>:phoneVerified"; device keys like "@device:onboardingComplete".
type cacheKeys struct {
	userPrefix    string
	devicePrefix  string
	pendingSuffix string
}

func newCacheKeys(cfg CacheConfig) cacheKeys {
	return cacheKeys{
		userPrefix:    cfg.KeyPrefix,
		devicePrefix:  cfg.DevicePrefix,
		pendingSuffix: cfg.PendingKeySuffix,
	}
}

func (k cacheKeys) account(accountID string) string {
	return k.userPrefix + ":" + accountID + ":"
}

func (k cacheKeys) field(accountID, field string) string {
	return k.account(accountID) + field
}

func (k cacheKeys) pending(accountID string) string {
	return k.account(accountID) + k.pendingSuffix
}

func (k cacheKeys) device(field string) string {
	return k.devicePrefix + ":" + field
}

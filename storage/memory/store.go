package memory

import (
	"sort"
	"sync"

	"github.com/jrsteele09/go-auth-client/storage"
)

var (
	_ storage.KV        = (*Store)(nil)
	_ storage.Inspector = (*Store)(nil)
)

// Store is a thread-safe in-memory implementation of storage.KV
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		values: make(map[string]string),
	}
}

// Get retrieves a value by key
func (s *Store) Get(key string) (string, bool, error) {
	if key == "" {
		return "", false, storage.ErrKeyRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	return value, ok, nil
}

// Set stores or replaces a value
func (s *Store) Set(key, value string) error {
	if key == "" {
		return storage.ErrKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Delete removes a key, deleting a missing key is not an error
func (s *Store) Delete(key string) error {
	if key == "" {
		return storage.ErrKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Keys returns the stored keys in sorted order
func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Values returns a copy of every stored value, mainly for assertions in tests
func (s *Store) Values() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

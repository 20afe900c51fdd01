// Package params is a process-wide parameter store shared by the coordinators.
// Keys are slash separated; a leading slash is optional, so "/num_envs" and
// "num_envs" name the same entry.
package params

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrNotFound  = errors.New("parameter not found")
	ErrWrongType = errors.New("parameter has wrong type")
)

// Store reads and writes named parameters
type Store interface {
	Get(key string) (any, error)
	Set(key string, value any) error
	Has(key string) bool
	Delete(key string) error
}

// Namespace returns a key builder rooted at prefix
func Namespace(prefix string) func(keys ...string) string {
	return func(keys ...string) string {
		return path.Join(append([]string{"/", prefix}, keys...)...)
	}
}

func normalize(key string) string {
	return strings.Trim(path.Clean("/"+key), "/")
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	values map[string]any
	mu     sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]any),
	}
}

func (s *MemoryStore) Get(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[normalize(key)]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	return v, nil
}

func (s *MemoryStore) Set(key string, value any) error {
	k := normalize(key)
	if k == "" {
		return errors.New("empty parameter key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[k] = value
	return nil
}

func (s *MemoryStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[normalize(key)]
	return ok
}

func (s *MemoryStore) Delete(key string) error {
	k := normalize(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[k]; !ok {
		return errors.Wrap(ErrNotFound, key)
	}
	delete(s.values, k)
	return nil
}

// Keys returns every key under prefix, sorted, each with a leading slash
func (s *MemoryStore) Keys(prefix string) []string {
	p := normalize(prefix)

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for k := range s.values {
		if p == "" || k == p || strings.HasPrefix(k, p+"/") {
			keys = append(keys, "/"+k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Package memory provides a generic thread-safe in-memory store used by the
// repository adapters.
package memory

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Store when the requested key does not exist.
var ErrNotFound = errors.New("not found")

// Store is a thread-safe keyed collection that remembers insertion order.
// Values pass through copyFunc on the way in and out so callers never
// share state with the store.
type Store[V any] struct {
	mu       sync.RWMutex
	data     map[string]V
	order    []string
	keyFunc  func(V) string
	copyFunc func(V) V
}

// New creates a Store. copyFunc may be nil for immutable values.
func New[V any](keyFunc func(V) string, copyFunc func(V) V) *Store[V] {
	if copyFunc == nil {
		copyFunc = func(v V) V { return v }
	}
	return &Store[V]{
		data:     make(map[string]V),
		keyFunc:  keyFunc,
		copyFunc: copyFunc,
	}
}

// Set inserts or replaces the value. Replacing keeps the original position.
func (s *Store[V]) Set(_ context.Context, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.keyFunc(v)
	if _, ok := s.data[key]; !ok {
		s.order = append(s.order, key)
	}
	s.data[key] = s.copyFunc(v)
	return nil
}

// Get returns the value for key, or ErrNotFound if absent.
func (s *Store[V]) Get(_ context.Context, key string) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return s.copyFunc(v), nil
}

// Delete removes the value for key. Returns ErrNotFound if absent.
func (s *Store[V]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return ErrNotFound
	}
	delete(s.data, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// All returns all values in insertion order.
func (s *Store[V]) All(ctx context.Context) ([]V, error) {
	return s.Filter(ctx, func(V) bool { return true })
}

// Filter returns, in insertion order, the values for which pred is true.
func (s *Store[V]) Filter(_ context.Context, pred func(V) bool) ([]V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]V, 0, len(s.order))
	for _, k := range s.order {
		if v := s.data[k]; pred(v) {
			out = append(out, s.copyFunc(v))
		}
	}
	return out, nil
}

// Has reports whether the key exists.
func (s *Store[V]) Has(_ context.Context, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

// Len returns the number of stored values.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Oldest returns the key inserted first, if any.
func (s *Store[V]) Oldest() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return "", false
	}
	return s.order[0], true
}

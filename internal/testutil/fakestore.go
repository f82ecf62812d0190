// Package testutil provides in-memory test doubles for the cache store
// and upstream providers.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/perswall/site-cache/pkg/cache"
)

// FakeStore is an in-memory cache.Store with operation counters, used
// to verify behavior like "dry run issues zero writes" without Redis.
type FakeStore struct {
	mu      sync.Mutex
	entries map[string]*cache.Entry

	// Unavailable makes every operation fail with cache.ErrUnavailable,
	// simulating a degraded store.
	Unavailable bool

	// Counters by operation.
	Gets    int
	Sets    int
	Deletes int
}

// NewFakeStore creates an empty fake store.
func NewFakeStore() *FakeStore {
	return &FakeStore{entries: make(map[string]*cache.Entry)}
}

// Get implements cache.Store.
func (s *FakeStore) Get(_ context.Context, key string) (*cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Gets++
	if s.Unavailable {
		return nil, cache.ErrUnavailable
	}
	entry, ok := s.entries[key]
	if !ok || entry.IsExpired() {
		return nil, cache.ErrMiss
	}
	return entry, nil
}

// Set implements cache.Store.
func (s *FakeStore) Set(_ context.Context, key string, entry *cache.Entry, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sets++
	if s.Unavailable {
		return cache.ErrUnavailable
	}
	s.entries[key] = entry
	return nil
}

// MultiGet implements cache.Store.
func (s *FakeStore) MultiGet(_ context.Context, keys []string) (map[string]*cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Gets++
	if s.Unavailable {
		return nil, cache.ErrUnavailable
	}
	result := make(map[string]*cache.Entry)
	for _, key := range keys {
		if entry, ok := s.entries[key]; ok && !entry.IsExpired() {
			result[key] = entry
		}
	}
	return result, nil
}

// Delete implements cache.Store.
func (s *FakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deletes++
	if s.Unavailable {
		return cache.ErrUnavailable
	}
	delete(s.entries, key)
	return nil
}

// Healthy implements cache.Store.
func (s *FakeStore) Healthy(_ context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.Unavailable
}

// Keys returns the stored keys, for assertions.
func (s *FakeStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys
}

// Entry returns the stored entry for a key, or nil.
func (s *FakeStore) Entry(key string) *cache.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key]
}

// Put seeds the store directly, bypassing counters.
func (s *FakeStore) Put(key string, entry *cache.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
}

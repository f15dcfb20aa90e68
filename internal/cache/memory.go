package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(e.storedAt.Add(e.ttl))
}

// MemoryStore is an in-process TTL store. Expiry is checked lazily on
// read; Sweep may remove expired entries to bound memory, but
// correctness never depends on it running.
type MemoryStore struct {
	mutex   sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mutex.RLock()
	e, exists := s.entries[key]
	s.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	if e.expired(s.now()) {
		s.mutex.Lock()
		// Re-check under the write lock: a concurrent Set may have
		// refreshed the entry.
		if cur, ok := s.entries[key]; ok && cur.expired(s.now()) {
			delete(s.entries, key)
		}
		s.mutex.Unlock()
		return nil, false
	}

	return e.value, true
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	s.mutex.Lock()
	s.entries[key] = entry{
		value:    value,
		storedAt: s.now(),
		ttl:      ttl,
	}
	s.mutex.Unlock()
}

// Sweep removes expired entries on the given interval until the context
// is cancelled.
func (s *MemoryStore) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *MemoryStore) removeExpired() {
	now := s.now()

	s.mutex.Lock()
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
		}
	}
	s.mutex.Unlock()
}

// Len returns the number of entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.entries)
}

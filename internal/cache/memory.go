package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMaxEntries = 4096

// memoryEntry carries its own deadline: the LRU's built-in TTL is the
// ceiling across classes, per-entry TTLs are enforced on read.
type memoryEntry struct {
	value   []byte
	expires time.Time
}

type memoryStore struct {
	lru *expirable.LRU[string, memoryEntry]
}

func newMemoryStore(maxEntries int, ceiling time.Duration) *memoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &memoryStore{
		lru: expirable.NewLRU[string, memoryEntry](maxEntries, nil, ceiling),
	}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	entry, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		s.lru.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.lru.Add(key, memoryEntry{value: value, expires: time.Now().Add(ttl)})
}

func (s *memoryStore) DeletePrefix(_ context.Context, prefix string) int {
	removed := 0
	for _, key := range s.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.lru.Remove(key)
			removed++
		}
	}
	return removed
}

func (s *memoryStore) Close() error {
	s.lru.Purge()
	return nil
}

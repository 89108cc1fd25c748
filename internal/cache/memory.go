package cache

import (
	"context"
	"time"

	"github.com/gofiber/storage/memory/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStore keeps entries in process memory. Entries expire after the TTL
// and the least recently used ones are evicted beyond maxEntries.
type MemoryStore struct {
	storage *memory.Storage
	keys    *lru.Cache[string, struct{}]
	ttl     time.Duration
}

// NewMemoryStore creates an in-memory store. A zero ttl keeps entries until
// they are evicted; maxEntries <= 0 falls back to 10000.
func NewMemoryStore(ttl time.Duration, maxEntries int) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	storage := memory.New(memory.Config{
		GCInterval: time.Minute,
	})

	keys, err := lru.NewWithEvict(maxEntries, func(key string, _ struct{}) {
		_ = storage.Delete(key)
	})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	return &MemoryStore{storage: storage, keys: keys, ttl: ttl}, nil
}

// Get retrieves an entry
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.storage.Get(key)
	if err != nil || data == nil {
		return nil, err
	}
	s.keys.Get(key)
	return data, nil
}

// Set stores an entry
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.storage.Set(key, value, s.ttl); err != nil {
		return err
	}
	s.keys.Add(key, struct{}{})
	return nil
}

// Len returns the number of tracked entries, including expired ones not yet
// collected
func (s *MemoryStore) Len() int {
	return s.keys.Len()
}

// Close stops the garbage collector and drops every entry
func (s *MemoryStore) Close() error {
	return s.storage.Close()
}

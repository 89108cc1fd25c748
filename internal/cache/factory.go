package cache

import (
	"fmt"

	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/rs/zerolog/log"
)

// NewStore creates a transform cache store from the cache configuration.
//
// Backend options:
// - "none": no cache, NewStore returns a nil store
// - "memory": in-process store
// - "redis": Redis-compatible store (requires redis_url)
func NewStore(cfg *config.CacheConfig) (Store, error) {
	switch cfg.Backend {
	case config.CacheNone, "":
		return nil, nil

	case config.CacheMemory:
		log.Debug().Int("max_entries", cfg.MaxEntries).Msg("Using in-memory transform cache")
		store, err := NewMemoryStore(cfg.TTL, cfg.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}
		return store, nil

	case config.CacheRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis cache backend")
		}
		store, err := NewRedisStore(cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown cache backend: %s (valid options: none, memory, redis)", cfg.Backend)
	}
}

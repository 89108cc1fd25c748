package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisKeyPrefix = "fluxpack:transform:"

// RedisStore keeps entries in Redis or a Redis-compatible server such as
// Dragonfly or Valkey, so several machines can share transform results.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to url, in the format redis://[password@]host:port[/db]
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis-compatible backend for transform cache")

	return &RedisStore{client: client, ttl: ttl}, nil
}

// Get retrieves an entry
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores an entry
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, redisKeyPrefix+key, value, s.ttl).Err()
}

// Close closes the Redis client connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

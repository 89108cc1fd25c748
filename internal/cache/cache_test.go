package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MemoryStore Tests
// =============================================================================

func TestMemoryStore_GetSet(t *testing.T) {
	store, err := NewMemoryStore(time.Hour, 10)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	t.Run("miss returns nil", func(t *testing.T) {
		data, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "key", []byte("value")))
		data, err := store.Get(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), data)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "key", []byte("other")))
		data, err := store.Get(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, []byte("other"), data)
	})
}

func TestMemoryStore_Expiration(t *testing.T) {
	store, err := NewMemoryStore(50*time.Millisecond, 10)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "key", []byte("value")))

	assert.Eventually(t, func() bool {
		data, err := store.Get(ctx, "key")
		return err == nil && data == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	store, err := NewMemoryStore(time.Hour, 2)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "a", []byte("1")))
	require.NoError(t, store.Set(ctx, "b", []byte("2")))

	// touch a so b is the oldest
	_, err = store.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "c", []byte("3")))
	assert.Equal(t, 2, store.Len())

	data, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, data)

	for _, key := range []string{"a", "c"} {
		data, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.NotNil(t, data, key)
	}
}

func TestNewMemoryStore_DefaultMaxEntries(t *testing.T) {
	store, err := NewMemoryStore(0, 0)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, store.Set(ctx, string(rune('a'+i%26))+string(rune('a'+i/26)), []byte("x")))
	}
	assert.Equal(t, 100, store.Len())
}

// =============================================================================
// RedisStore Tests
// =============================================================================

func TestRedisStore(t *testing.T) {
	url := os.Getenv("FLUXPACK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("FLUXPACK_TEST_REDIS_URL not set")
	}

	store, err := NewRedisStore(url, time.Minute)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	key := "test-" + time.Now().Format(time.RFC3339Nano)

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, store.Set(ctx, key, []byte("value")))
	data, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), data)
}

func TestNewRedisStore_InvalidURL(t *testing.T) {
	_, err := NewRedisStore("not-a-url", time.Minute)
	assert.Error(t, err)
}

// =============================================================================
// Factory Tests
// =============================================================================

func TestNewStore(t *testing.T) {
	t.Run("none returns no store", func(t *testing.T) {
		store, err := NewStore(&config.CacheConfig{Backend: config.CacheNone})
		require.NoError(t, err)
		assert.Nil(t, store)
	})

	t.Run("memory backend", func(t *testing.T) {
		store, err := NewStore(&config.CacheConfig{Backend: config.CacheMemory, TTL: time.Hour, MaxEntries: 5})
		require.NoError(t, err)
		require.NotNil(t, store)
		defer store.Close()

		_, ok := store.(*MemoryStore)
		assert.True(t, ok, "should be MemoryStore")
	})

	t.Run("redis without url", func(t *testing.T) {
		store, err := NewStore(&config.CacheConfig{Backend: config.CacheRedis})
		require.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "redis_url is required")
	})

	t.Run("redis with unreachable server", func(t *testing.T) {
		store, err := NewStore(&config.CacheConfig{Backend: config.CacheRedis, RedisURL: "redis://127.0.0.1:1"})
		require.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})

	t.Run("unknown backend", func(t *testing.T) {
		store, err := NewStore(&config.CacheConfig{Backend: "disk"})
		require.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "unknown cache backend")
	})
}

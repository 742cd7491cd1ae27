package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/kv"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisStore(t *testing.T) {
	t.Run("get returns the stored document", func(t *testing.T) {
		mr, client := newMiniredis(t)
		s := store.NewRedisStore(client)

		require.NoError(t, mr.Set("identity:abc123", `{"email":"lead@example.com"}`))

		value, err := s.Get(context.Background(), "identity:abc123")

		require.NoError(t, err)
		assert.JSONEq(t, `{"email":"lead@example.com"}`, string(value))
	})

	t.Run("get non-existent returns ErrNotFound", func(t *testing.T) {
		_, client := newMiniredis(t)
		s := store.NewRedisStore(client)

		value, err := s.Get(context.Background(), "missing")

		assert.Nil(t, value)
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("put honours the ttl", func(t *testing.T) {
		mr, client := newMiniredis(t)
		s := store.NewRedisStore(client)

		require.NoError(t, s.Put(context.Background(), "k", json.RawMessage(`{"a":1}`), time.Minute))

		_, err := s.Get(context.Background(), "k")
		require.NoError(t, err)

		mr.FastForward(2 * time.Minute)

		_, err = s.Get(context.Background(), "k")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("surfaces connection errors", func(t *testing.T) {
		mr, client := newMiniredis(t)
		s := store.NewRedisStore(client)

		mr.Close()

		_, err := s.Get(context.Background(), "k")

		require.Error(t, err)
		assert.NotErrorIs(t, err, kv.ErrNotFound)
	})
}

func TestRedisCache(t *testing.T) {
	t.Run("caches values read from the store", func(t *testing.T) {
		mr, client := newMiniredis(t)
		backing := store.NewMemoryStore()
		cache := store.NewRedisCache(backing, client, time.Minute)

		require.NoError(t, backing.Put(context.Background(), "abc", json.RawMessage(`{"v":1}`), 0))

		value, err := cache.Get(context.Background(), "abc")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, string(value))

		cached, err := mr.Get("kvcache:abc")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, cached)
		assert.Greater(t, mr.TTL("kvcache:abc"), time.Duration(0))
	})

	t.Run("serves from cache without touching the store", func(t *testing.T) {
		mr, client := newMiniredis(t)
		cache := store.NewRedisCache(store.NewMemoryStore(), client, time.Minute)

		require.NoError(t, mr.Set("kvcache:abc", `{"cached":true}`))

		value, err := cache.Get(context.Background(), "abc")

		require.NoError(t, err)
		assert.JSONEq(t, `{"cached":true}`, string(value))
	})

	t.Run("misses are not cached", func(t *testing.T) {
		mr, client := newMiniredis(t)
		cache := store.NewRedisCache(store.NewMemoryStore(), client, time.Minute)

		_, err := cache.Get(context.Background(), "missing")

		assert.ErrorIs(t, err, kv.ErrNotFound)
		assert.False(t, mr.Exists("kvcache:missing"))
	})

	t.Run("put writes through with the shorter ttl", func(t *testing.T) {
		mr, client := newMiniredis(t)
		backing := store.NewMemoryStore()
		cache := store.NewRedisCache(backing, client, time.Hour)

		require.NoError(t, cache.Put(context.Background(), "abc", json.RawMessage(`{"v":2}`), time.Minute))

		stored, err := backing.Get(context.Background(), "abc")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(stored))
		assert.Equal(t, time.Minute, mr.TTL("kvcache:abc"))
	})

	t.Run("falls back to the store when redis is down", func(t *testing.T) {
		mr, client := newMiniredis(t)
		backing := store.NewMemoryStore()
		cache := store.NewRedisCache(backing, client, time.Minute)

		require.NoError(t, backing.Put(context.Background(), "abc", json.RawMessage(`{"v":3}`), 0))
		mr.Close()

		value, err := cache.Get(context.Background(), "abc")

		require.NoError(t, err)
		assert.JSONEq(t, `{"v":3}`, string(value))
	})
}

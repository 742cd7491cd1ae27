package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/kv"
	"github.com/redis/go-redis/v9"
)

// RedisCache wraps a kv.ReadWriter with a Redis read-through cache.
type RedisCache struct {
	store  kv.ReadWriter
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a new Redis-cached store decorator. Cached entries
// live for ttl; a zero ttl caches until the key is rewritten.
func NewRedisCache(store kv.ReadWriter, client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		store:  store,
		client: client,
		prefix: "kvcache:",
		ttl:    ttl,
	}
}

// Put stores the value in the underlying store and updates the cache.
func (r *RedisCache) Put(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if err := r.store.Put(ctx, key, value, ttl); err != nil {
		return err
	}

	r.cache(ctx, key, value, ttl)

	return nil
}

// Get checks the cache first and falls back to the underlying store.
func (r *RedisCache) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if value, err := r.client.Get(ctx, r.prefix+key).Bytes(); err == nil {
		return value, nil
	}

	value, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	r.cache(ctx, key, value, 0)

	return value, nil
}

// cache never outlives the source entry when it has its own ttl.
func (r *RedisCache) cache(ctx context.Context, key string, value json.RawMessage, sourceTTL time.Duration) {
	ttl := r.ttl
	if sourceTTL > 0 && (ttl == 0 || sourceTTL < ttl) {
		ttl = sourceTTL
	}

	_ = r.client.Set(ctx, r.prefix+key, []byte(value), ttl).Err()
}

var _ kv.ReadWriter = (*RedisCache)(nil)

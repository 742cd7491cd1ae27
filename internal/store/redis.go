package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/kv"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of kv.ReadWriter. Values are stored
// as plain string keys holding JSON.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed key-value store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Put(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	return r.client.Set(ctx, key, []byte(value), ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, kv.ErrNotFound
		}

		return nil, err
	}

	return value, nil
}

var _ kv.ReadWriter = (*RedisStore)(nil)

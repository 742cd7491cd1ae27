package store

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCounter keeps a sliding window per key in a Redis sorted set
// scored by request time, so limits hold across instances.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter creates a counter sharing limits across instances.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client, prefix: "ratelimit:"}
}

func (s *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	redisKey := s.prefix + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixMicro(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+cutoff)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMicro()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return count.Val(), nil
}

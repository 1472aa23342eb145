package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisKeyPrefix = "ratelimit/"

// RedisStore keeps counters in Redis so limits hold across replicas
type RedisStore struct {
	Client *redis.Client
}

var _ CounterStore = (*RedisStore)(nil)

// NewRedisStore connects to redisURL and verifies the connection
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &RedisStore{Client: rdb}, nil
}

// Increment bumps the window bucket for key in a single MULTI round-trip.
// Each window gets its own Redis key so a new window always starts at 1.
func (s *RedisStore) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	bucket := redisKeyPrefix + key + "/" + strconv.FormatInt(windowStart.UnixMilli(), 10)

	var incr *redis.IntCmd
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, bucket)
		// keep the bucket a little past the window end to tolerate clock skew between replicas
		pipe.PExpire(ctx, bucket, window+time.Minute)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Close releases the Redis connection pool
func (s *RedisStore) Close() error {
	return s.Client.Close()
}

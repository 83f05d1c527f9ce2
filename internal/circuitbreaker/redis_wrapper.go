package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisService = "report-cache"

// RedisWrapper wraps the go-redis client with a circuit breaker. redis.Nil is
// a cache miss, not a failure.
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client *redis.Client, settings Settings, logger *zap.Logger) *RedisWrapper {
	cfg := settings.Merge(RedisDefaults()).WithEnv("redis").ToConfig()
	cfg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, redis.Nil) }
	cb := NewCircuitBreaker("redis", cfg, logger)
	track("redis", redisService, cb)
	return &RedisWrapper{client: client, cb: cb}
}

func (rw *RedisWrapper) run(ctx context.Context, fn func() error) error {
	err := rw.cb.Execute(ctx, fn)
	observe("redis", redisService, rw.cb.State(), err == nil || errors.Is(err, redis.Nil))
	return err
}

// Ping wraps Redis Ping with circuit breaker
func (rw *RedisWrapper) Ping(ctx context.Context) error {
	return rw.run(ctx, func() error { return rw.client.Ping(ctx).Err() })
}

// Get returns the value at key or redis.Nil.
func (rw *RedisWrapper) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := rw.run(ctx, func() error {
		var getErr error
		val, getErr = rw.client.Get(ctx, key).Bytes()
		return getErr
	})
	return val, err
}

// Set wraps Redis Set with circuit breaker
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return rw.run(ctx, func() error { return rw.client.Set(ctx, key, value, expiration).Err() })
}

// Del wraps Redis Del with circuit breaker
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) error {
	return rw.run(ctx, func() error { return rw.client.Del(ctx, keys...).Err() })
}

// XAdd appends to a stream, trimming it to roughly maxLen entries.
func (rw *RedisWrapper) XAdd(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	var id string
	err := rw.run(ctx, func() error {
		var addErr error
		id, addErr = rw.client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			MaxLen: maxLen,
			Approx: true,
			Values: values,
		}).Result()
		return addErr
	})
	return id, err
}

// XRange reads a whole stream.
func (rw *RedisWrapper) XRange(ctx context.Context, stream string) ([]redis.XMessage, error) {
	var msgs []redis.XMessage
	err := rw.run(ctx, func() error {
		var rangeErr error
		msgs, rangeErr = rw.client.XRange(ctx, stream, "-", "+").Result()
		return rangeErr
	})
	return msgs, err
}

// Expire wraps Redis Expire with circuit breaker
func (rw *RedisWrapper) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return rw.run(ctx, func() error { return rw.client.Expire(ctx, key, ttl).Err() })
}

// GetClient returns the underlying Redis client for operations not covered by wrapper
func (rw *RedisWrapper) GetClient() *redis.Client { return rw.client }

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool { return rw.cb.State() == StateOpen }

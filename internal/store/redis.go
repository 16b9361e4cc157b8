package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the replay-nonce cache and rate limiting when the hub
// runs as multiple replicas. Single-instance deployments can run without
// it and fall back to in-process caches.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that shares it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// nonceKey returns the key for nonce tracking.
func nonceKey(sender, nonce string) string {
	return fmt.Sprintf("nonce:%s:%s", sender, nonce)
}

// rateLimitKey returns the key for a rate limit counter.
func rateLimitKey(bucket, caller string) string {
	return fmt.Sprintf("ratelimit:%s:%s", bucket, caller)
}

// CheckAndMark implements the replay cache with SET NX, which is atomic
// across hub replicas: exactly one caller wins a given (sender, nonce).
func (s *RedisStore) CheckAndMark(ctx context.Context, sender, nonce string, ttl time.Duration) (bool, error) {
	set, err := s.client.SetNX(ctx, nonceKey(sender, nonce), "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

// IncrRateLimit increments a fixed-window rate limit counter and returns
// the count within the current window.
func (s *RedisStore) IncrRateLimit(ctx context.Context, bucket, caller string, window time.Duration) (int64, error) {
	key := rateLimitKey(bucket, caller)

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

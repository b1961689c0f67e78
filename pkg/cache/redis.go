package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Service backed by Redis. Expiry is delegated to Redis.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a Redis-backed store. A ttl of 0 stores entries
// without expiry.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Get implements Service.
func (s *RedisStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(layerRedis).Inc()
			return false, nil
		}
		CacheErrors.WithLabelValues(layerRedis, "get").Inc()
		return false, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues(layerRedis, "get").Inc()
		return false, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if err := entry.Decode(dest); err != nil {
		CacheErrors.WithLabelValues(layerRedis, "get").Inc()
		return false, err
	}

	CacheHits.WithLabelValues(layerRedis).Inc()
	return true, nil
}

// Set implements Service.
func (s *RedisStore) Set(ctx context.Context, key string, value any) error {
	entry, err := newEntry(value, s.ttl, time.Now())
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "set").Inc()
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues(layerRedis, "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Remove implements Service.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		CacheErrors.WithLabelValues(layerRedis, "remove").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Expire updates the TTL of an existing key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.redis.Expire(ctx, key, ttl).Result()
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "expire").Inc()
		return fmt.Errorf("redis expire: %w", err)
	}
	if !ok {
		return fmt.Errorf("redis expire: key %q not found", key)
	}
	return nil
}

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rate_limit:"

// RedisStore keeps each key as a hash {count, window_start, blocked_until}.
// Timestamps are unix milliseconds. Every write refreshes the key TTL so idle
// keys expire on their own.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	values, err := s.client.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	record := Record{Key: key}
	if raw, ok := values["count"]; ok {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parse count: %w", err)
		}
		record.Count = count
	}
	if raw, ok := values["window_start"]; ok {
		start, err := parseMillis(raw)
		if err != nil {
			return nil, fmt.Errorf("parse window_start: %w", err)
		}
		record.WindowStart = start
	}
	if raw, ok := values["blocked_until"]; ok && raw != "" {
		until, err := parseMillis(raw)
		if err != nil {
			return nil, fmt.Errorf("parse blocked_until: %w", err)
		}
		record.BlockedUntil = &until
	}

	return &record, nil
}

func (s *RedisStore) Start(ctx context.Context, key string, now time.Time) error {
	redisKey := redisKeyPrefix + key
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKey)
		pipe.HSet(ctx, redisKey, "count", 1, "window_start", now.UTC().UnixMilli())
		pipe.Expire(ctx, redisKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis start window: %w", err)
	}
	return nil
}

func (s *RedisStore) Increment(ctx context.Context, key string) (int, error) {
	redisKey := redisKeyPrefix + key
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, redisKey, "count", 1)
		pipe.Expire(ctx, redisKey, s.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis increment: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *RedisStore) Block(ctx context.Context, key string, until time.Time) error {
	redisKey := redisKeyPrefix + key
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisKey, "blocked_until", until.UTC().UnixMilli())
		pipe.Expire(ctx, redisKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis block: %w", err)
	}
	return nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Package redis holds the Redis-backed stores. Rate-limit attempts live in
// sorted sets keyed by caller identity, scored by timestamp.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Afshari9978/avishan/internal/core/port"
)

// RateLimitRepository persists sliding-window attempts in Redis sorted sets.
type RateLimitRepository struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRateLimitRepository constructs a repository using the provided client.
// The TTL caps how long an idle window key survives.
func NewRateLimitRepository(client *redis.Client, keyPrefix string, ttl time.Duration) *RateLimitRepository {
	return &RateLimitRepository{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// RecordAttempt stores the attempt timestamp and refreshes the key TTL.
func (r *RateLimitRepository) RecordAttempt(ctx context.Context, identifier string, at time.Time) error {
	key := r.key(identifier)
	member := redis.Z{Score: float64(at.UnixNano()), Member: at.UnixNano()}

	if err := r.client.ZAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("redis zadd: %w", err)
	}

	if r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			return fmt.Errorf("redis expire: %w", err)
		}
	}

	return nil
}

// CountAttempts returns how many attempts occurred within the window ending at
// the reference time.
func (r *RateLimitRepository) CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	min := fmt.Sprintf("%f", float64(reference.Add(-window).UnixNano()))
	max := fmt.Sprintf("%f", float64(reference.UnixNano()))

	count, err := r.client.ZCount(ctx, r.key(identifier), min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount: %w", err)
	}

	return int(count), nil
}

// TrimWindow removes attempts older than the window relative to the reference time.
func (r *RateLimitRepository) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errors.New("window must be positive")
	}

	threshold := fmt.Sprintf("%f", float64(reference.Add(-window).UnixNano()))

	if err := r.client.ZRemRangeByScore(ctx, r.key(identifier), "-inf", threshold).Err(); err != nil {
		return fmt.Errorf("redis zremrangebyscore: %w", err)
	}

	return nil
}

// OldestAttempt returns the oldest attempt remaining inside the active window.
func (r *RateLimitRepository) OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if window <= 0 {
		return time.Time{}, false, errors.New("window must be positive")
	}

	values, err := r.client.ZRangeByScore(ctx, r.key(identifier), &redis.ZRangeBy{
		Min:    fmt.Sprintf("%f", float64(reference.Add(-window).UnixNano())),
		Max:    fmt.Sprintf("%f", float64(reference.UnixNano())),
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis zrangebyscore: %w", err)
	}

	if len(values) == 0 {
		return time.Time{}, false, nil
	}

	ts, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse timestamp: %w", err)
	}

	return time.Unix(0, ts), true, nil
}

func (r *RateLimitRepository) key(identifier string) string {
	if r.keyPrefix == "" {
		return identifier
	}
	return fmt.Sprintf("%s:%s", r.keyPrefix, identifier)
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)

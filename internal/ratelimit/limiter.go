package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/campus-auth/internal/infrastructure/config"
)

// keyPrefix namespaces every counter this service writes.
const keyPrefix = "campusauth:rl"

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration // zero unless the request was refused
}

// Limiter enforces per-key request budgets over a fixed window.
type Limiter struct {
	redis  redis.UniversalClient
	window time.Duration
}

// New creates a Limiter backed by client. A non-positive window defaults
// to one minute.
func New(client redis.UniversalClient, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{redis: client, window: window}
}

// Window returns the counter window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Allow records a hit for key within scope and reports whether it is within
// limit. A limit below 1 disables throttling for the scope.
//
// On a backend failure the decision is Allowed and the returned error wraps
// ErrRedisUnavailable.
func (l *Limiter) Allow(ctx context.Context, scope, key string, limit int) (Decision, error) {
	d := Decision{Allowed: true, Limit: limit}
	if limit < 1 {
		return d, nil
	}

	k := counterKey(scope, key)
	count, err := l.incrementWithTTL(ctx, k)
	if err != nil {
		return d, err
	}
	d.Count = count

	if count <= int64(limit) {
		return d, nil
	}

	d.Allowed = false
	d.RetryAfter = l.window
	if ttl, err := l.redis.PTTL(ctx, k).Result(); err == nil && ttl > 0 {
		d.RetryAfter = ttl
	}
	return d, nil
}

// Check is Allow for callers that only need an error: ErrRateLimited when
// refused, nil otherwise. Backend failures are swallowed (fail open).
func (l *Limiter) Check(ctx context.Context, scope, key string, limit int) error {
	d, _ := l.Allow(ctx, scope, key, limit) //nolint:errcheck // fail open
	if !d.Allowed {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter for key within scope.
func (l *Limiter) Reset(ctx context.Context, scope, key string) error {
	if err := l.redis.Del(ctx, counterKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (l *Limiter) HealthCheck(ctx context.Context) error {
	if err := l.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (l *Limiter) Close() error {
	return l.redis.Close()
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: only the first hit sets the expiry.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

func counterKey(scope, key string) string {
	if key == "" {
		key = "unknown"
	}
	return keyPrefix + ":" + scope + ":" + key
}

// connectTimeout bounds the startup ping.
const connectTimeout = 5 * time.Second

// Connect opens a Redis client for cfg and verifies it with a ping.
// The caller owns the returned client and must Close it.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return client, nil
}

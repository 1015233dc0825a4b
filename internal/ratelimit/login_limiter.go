package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "login:failures:"

// LoginLimiter counts failed logins per identifier in a fixed window and locks
// the identifier once the limit is reached. Counters expire with the window.
type LoginLimiter struct {
	client      redis.UniversalClient
	maxAttempts int
	window      time.Duration
}

// NewLoginLimiter returns nil when client is nil or limits are non-positive,
// which callers treat as "throttling disabled".
func NewLoginLimiter(client redis.UniversalClient, maxAttempts int, window time.Duration) *LoginLimiter {
	if client == nil || maxAttempts <= 0 || window <= 0 {
		return nil
	}
	return &LoginLimiter{client: client, maxAttempts: maxAttempts, window: window}
}

// Allowed reports whether identifier may attempt another login.
func (l *LoginLimiter) Allowed(ctx context.Context, identifier string) (bool, error) {
	failures, err := l.client.Get(ctx, key(identifier)).Int()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return true, err
	}
	return failures < l.maxAttempts, nil
}

// RecordFailure increments the failure counter and returns the new count.
func (l *LoginLimiter) RecordFailure(ctx context.Context, identifier string) (int64, error) {
	k := key(identifier)
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// Reset clears the failure counter after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, identifier string) error {
	return l.client.Del(ctx, key(identifier)).Err()
}

// RetryAfter returns how long identifier stays locked.
func (l *LoginLimiter) RetryAfter(ctx context.Context, identifier string) (time.Duration, error) {
	ttl, err := l.client.TTL(ctx, key(identifier)).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func key(identifier string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(identifier))
}

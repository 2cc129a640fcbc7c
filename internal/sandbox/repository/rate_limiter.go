package repository

import (
	"context"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/common/cache"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
)

const (
	defaultRateWindow       = time.Minute
	defaultRateRedisTimeout = 200 * time.Millisecond
)

// RateLimiter enforces fixed-window request counts in Redis.
type RateLimiter struct {
	cache        cache.CounterOps
	window       time.Duration
	redisTimeout time.Duration
}

func NewRateLimiter(c cache.CounterOps, window, redisTimeout time.Duration) *RateLimiter {
	if window <= 0 {
		window = defaultRateWindow
	}
	if redisTimeout <= 0 {
		redisTimeout = defaultRateRedisTimeout
	}
	return &RateLimiter{cache: c, window: window, redisTimeout: redisTimeout}
}

// Allow counts one hit on key and fails with TooManyRequests once max is passed
// inside the window. A non-positive max disables the check.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if l.cache == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = l.window
	}

	cctx, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	first, err := l.cache.SetNX(cctx, key, 1, window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	count := int64(1)
	if !first {
		count, err = l.cache.Incr(cctx, key)
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
		}
		// a counter that lost its expiry would never reset
		if ttl, ttlErr := l.cache.TTL(cctx, key); ttlErr == nil && ttl <= 0 {
			_ = l.cache.Expire(cctx, key, window)
		}
	}
	if count > int64(max) {
		return appErr.New(appErr.TooManyRequests).WithMessagef("rate limit exceeded for %s", key)
	}
	return nil
}

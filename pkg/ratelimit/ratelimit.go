// Package ratelimit gates per-user access to the paid model tier. The
// resolver asks before every tier-3 call; a denial is not an error,
// the caller falls through to its degraded path.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter answers whether one model call may proceed for the user.
type Limiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// LocalLimiter keeps an in-process token bucket per user. It serves
// single-instance deployments; multi-instance deployments share a
// budget through RedisLimiter instead.
type LocalLimiter struct {
	perSecond rate.Limit
	burst     int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLocalLimiter allows perMinute calls per user with the given burst.
func NewLocalLimiter(perMinute, burst int) *LocalLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &LocalLimiter{
		perSecond: rate.Limit(float64(perMinute) / 60.0),
		burst:     burst,
		buckets:   make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token from the user's bucket.
func (l *LocalLimiter) Allow(_ context.Context, userID string) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets[userID]
	if !ok {
		b = rate.NewLimiter(l.perSecond, l.burst)
		l.buckets[userID] = b
	}
	l.mu.Unlock()
	return b.Allow(), nil
}

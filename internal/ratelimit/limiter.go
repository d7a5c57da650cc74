// Package ratelimit throttles requests per client key.
package ratelimit

import (
	"context"
	"math"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Result describes a single admission decision.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// MemoryLimiter keeps one token bucket per key in an expiring cache.
// Buckets idle for longer than the cache TTL are forgotten.
type MemoryLimiter struct {
	buckets *gocache.Cache
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// NewMemoryLimiter allows perSecond events per key with the given burst.
func NewMemoryLimiter(perSecond float64, burst int, idleTTL time.Duration) *MemoryLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &MemoryLimiter{
		buckets: gocache.New(idleTTL, time.Minute),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) bucket(key string) *rate.Limiter {
	if v, ok := l.buckets.Get(key); ok {
		lim := v.(*rate.Limiter)
		l.buckets.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	if err := l.buckets.Add(key, lim, gocache.DefaultExpiration); err != nil {
		// lost the race with a concurrent request for the same key
		if v, ok := l.buckets.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	lim := l.bucket(key)
	now := l.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return Result{Allowed: false, RetryAfter: time.Second}, nil
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
		return Result{Allowed: false, RetryAfter: roundUpSecond(delay)}, nil
	}
	remaining := int64(math.Floor(lim.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining}, nil
}

func roundUpSecond(d time.Duration) time.Duration {
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

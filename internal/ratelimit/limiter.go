// Package ratelimit guards the billing API against runaway clients. One
// misconfigured integration retrying issuance in a loop can burn through an
// issuer's sequence and flood the submission queue, so callers are capped per
// window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	platformredis "facturador/internal/platform/redis"
)

// Result describes one limiter decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds until the window resets, minimum 1.
func (r Result) RetryAfter() int {
	secs := int(time.Until(r.ResetAt).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter answers whether a keyed caller may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// InMemory is a sliding-window limiter for single-replica deployments.
type InMemory struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

// NewInMemory creates an in-process limiter.
func NewInMemory() *InMemory {
	return &InMemory{windows: make(map[string]*slidingWindow)}
}

// Allow records the request if the key is under its limit. The sliding
// window avoids the burst-at-boundary behavior of fixed buckets.
func (l *InMemory) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	sw := l.windows[key]
	if sw == nil {
		sw = &slidingWindow{window: window}
		l.windows[key] = sw
	}
	sw.expire(now)

	if len(sw.timestamps) >= limit {
		return Result{
			Allowed: false,
			Limit:   limit,
			ResetAt: sw.timestamps[0].Add(window),
		}, nil
	}

	sw.timestamps = append(sw.timestamps, now)
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(sw.timestamps),
		ResetAt:   sw.timestamps[0].Add(window),
	}, nil
}

// Reset clears the window for a key.
func (l *InMemory) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

func (sw *slidingWindow) expire(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

// Redis is a fixed-window limiter shared across replicas. It trades the
// sliding window's precision for a single INCR round trip.
type Redis struct {
	client *platformredis.Client
}

// NewRedis creates a limiter backed by the shared Redis instance.
func NewRedis(client *platformredis.Client) *Redis {
	return &Redis{client: client}
}

func (l *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	bucket := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().Unix()/int64(window.Seconds()))

	count, err := l.client.Incr(ctx, bucket).Result()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		// First hit sets the bucket TTL so abandoned keys expire.
		if err := l.client.Expire(ctx, bucket, window).Err(); err != nil {
			return Result{}, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	resetAt := time.Now().Truncate(window).Add(window)
	if count > int64(limit) {
		return Result{Allowed: false, Limit: limit, ResetAt: resetAt}, nil
	}
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - int(count),
		ResetAt:   resetAt,
	}, nil
}

// Package ratelimit provides fixed-window request counters keyed by client.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter increments the counter for key and reports whether it is still
// within max for the current window.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (bool, error)
}

const keyPrefix = "ratelimit:"

type redisLimiter struct {
	client redis.Cmdable
}

// NewRedis returns a Limiter whose counters live in Redis, shared by every
// process behind the same store.
func NewRedis(client redis.Cmdable) Limiter {
	return &redisLimiter{client: client}
}

func (r *redisLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, error) {
	fullKey := keyPrefix + key

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	ttl := pipe.PTTL(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}

	// A negative TTL means the key was just created or lost its expiry.
	if ttl.Val() < 0 {
		if err := r.client.PExpire(ctx, fullKey, window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire %s: %w", key, err)
		}
	}
	return incr.Val() <= int64(max), nil
}

type window struct {
	count     int
	startedAt time.Time
}

type memoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	sweeps  int
}

// NewMemory returns a process-local Limiter for single-instance runs.
func NewMemory() Limiter {
	return newMemory(time.Now)
}

func newMemory(now func() time.Time) *memoryLimiter {
	return &memoryLimiter{windows: make(map[string]*window), now: now}
}

func (m *memoryLimiter) Allow(_ context.Context, key string, d time.Duration, max int) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweeps++
	if m.sweeps >= 1024 {
		m.sweeps = 0
		for k, w := range m.windows {
			if now.Sub(w.startedAt) >= d {
				delete(m.windows, k)
			}
		}
	}

	w, ok := m.windows[key]
	if !ok || now.Sub(w.startedAt) >= d {
		w = &window{startedAt: now}
		m.windows[key] = w
	}
	w.count++
	return w.count <= max, nil
}

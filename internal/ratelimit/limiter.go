package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a sender may append another message.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window counter shared by every process that
// talks to the same Redis. Each window gets its own key, so a counter that
// somehow lost its TTL stops mattering once the window is over.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter builds a limiter allowing limit events per window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, now: time.Now}
}

func rateLimitKey(key string, at time.Time, window time.Duration) string {
	return fmt.Sprintf("ratelimit:messages:%s:%d", key, at.UnixNano()/int64(window))
}

// Allow increments the counter for key and reports whether it is within
// the limit. INCR and EXPIRE run in one MULTI/EXEC.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 || l.window <= 0 {
		return true, nil
	}
	k := rateLimitKey(key, l.now(), l.window)
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.limit), nil
}

type window struct {
	start time.Time
	count int
}

// MemoryLimiter is the process-local fixed-window fallback used when no
// Redis is configured. Expired windows are swept at most once per window.
type MemoryLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	now       func() time.Time
	windows   map[string]*window
	lastSweep time.Time
}

// NewMemoryLimiter builds a limiter allowing limit events per window.
func NewMemoryLimiter(limit int, w time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  w,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow records one event for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.window {
		l.sweepLocked(now)
	}
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[key] = &window{start: now, count: 1}
		return true, nil
	}
	w.count++
	return w.count <= l.limit, nil
}

func (l *MemoryLimiter) sweepLocked(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
		}
	}
	l.lastSweep = now
}

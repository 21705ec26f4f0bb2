package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		got, err := l.Allow(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("call %d: got %v, want %v", i, got, want)
		}
	}
	if ok, _ := l.Allow(ctx, "u2"); !ok {
		t.Fatal("keys must be limited independently")
	}

	now = now.Add(time.Minute)
	if ok, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatal("a new window must reset the counter")
	}
}

func TestMemoryLimiterDisabled(t *testing.T) {
	l := NewMemoryLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if ok, _ := l.Allow(context.Background(), "u1"); !ok {
			t.Fatal("a zero limit disables limiting")
		}
	}
}

func TestMemoryLimiterEvictsExpiredWindows(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for _, key := range []string{"u1", "u2", "u3"} {
		if ok, _ := l.Allow(ctx, key); !ok {
			t.Fatalf("%s should be allowed", key)
		}
	}
	now = now.Add(time.Minute)
	if ok, _ := l.Allow(ctx, "u4"); !ok {
		t.Fatal("u4 should be allowed")
	}
	if n := len(l.windows); n != 1 {
		t.Fatalf("expected only the live window to remain, got %d", n)
	}
}

func newTestRedisLimiter(t *testing.T, limit int) (*RedisLimiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRedisLimiter(client, limit, time.Minute)
	l.now = func() time.Time { return now }
	return l, srv, &now
}

func TestRedisLimiter(t *testing.T) {
	l, srv, now := newTestRedisLimiter(t, 3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	if ok, _ := l.Allow(ctx, "u1"); ok {
		t.Fatal("fourth call should be limited")
	}
	if ok, _ := l.Allow(ctx, "u2"); !ok {
		t.Fatal("keys must be limited independently")
	}
	if ttl := srv.TTL(rateLimitKey("u1", *now, time.Minute)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected key ttl within window, got %v", ttl)
	}

	*now = now.Add(time.Minute)
	if ok, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatal("a new window must allow again")
	}
}

func TestRedisLimiterRecoversFromCounterWithoutTTL(t *testing.T) {
	l, srv, now := newTestRedisLimiter(t, 3)
	ctx := context.Background()

	// a counter left behind by an INCR whose EXPIRE never ran
	stuck := rateLimitKey("u1", *now, time.Minute)
	if err := srv.Set(stuck, "3"); err != nil {
		t.Fatal(err)
	}

	if ok, err := l.Allow(ctx, "u1"); err != nil || ok {
		t.Fatalf("expected limited within the window, got ok=%v err=%v", ok, err)
	}
	if ttl := srv.TTL(stuck); ttl <= 0 {
		t.Fatalf("counter should carry a ttl after the next increment, got %v", ttl)
	}

	*now = now.Add(time.Minute)
	if ok, err := l.Allow(ctx, "u1"); err != nil || !ok {
		t.Fatalf("next window must allow, got ok=%v err=%v", ok, err)
	}
}

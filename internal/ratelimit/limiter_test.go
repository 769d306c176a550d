package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, max int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, "login", max, window), mr
}

func TestAllow_UpToMaxThenDenied(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if !ok {
			t.Fatalf("attempt %d denied, want allowed", i)
		}
	}
	ok, err := l.Allow(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Error("attempt over the limit was allowed")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "1.2.3.4"); !ok {
		t.Fatal("first key first attempt denied")
	}
	if ok, _ := l.Allow(ctx, "5.6.7.8"); !ok {
		t.Error("second key throttled by first key's count")
	}
}

func TestAllow_WindowExpiryResetsCount(t *testing.T) {
	l, mr := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "1.2.3.4"); !ok {
		t.Fatal("first attempt denied")
	}
	if ok, _ := l.Allow(ctx, "1.2.3.4"); ok {
		t.Fatal("second attempt in window allowed")
	}

	mr.FastForward(time.Minute + time.Second)
	if ok, _ := l.Allow(ctx, "1.2.3.4"); !ok {
		t.Error("attempt after window expiry denied")
	}
}

func TestRemaining(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	if n, _ := l.Remaining(ctx, "1.2.3.4"); n != 3 {
		t.Errorf("fresh key remaining = %d, want 3", n)
	}
	l.Allow(ctx, "1.2.3.4")
	l.Allow(ctx, "1.2.3.4")
	if n, _ := l.Remaining(ctx, "1.2.3.4"); n != 1 {
		t.Errorf("remaining = %d, want 1", n)
	}
	l.Allow(ctx, "1.2.3.4")
	l.Allow(ctx, "1.2.3.4")
	if n, _ := l.Remaining(ctx, "1.2.3.4"); n != 0 {
		t.Errorf("exhausted remaining = %d, want 0", n)
	}
}

func TestReset_ClearsWindow(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	l.Allow(ctx, "1.2.3.4")
	if ok, _ := l.Allow(ctx, "1.2.3.4"); ok {
		t.Fatal("limit not in effect before reset")
	}
	if err := l.Reset(ctx, "1.2.3.4"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if ok, _ := l.Allow(ctx, "1.2.3.4"); !ok {
		t.Error("attempt after reset denied")
	}
}

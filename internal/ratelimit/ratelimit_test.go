package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindow_TenPerHour(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	f := NewFixedWindow(0, 0)
	f.SetClock(func() time.Time { return now })

	for i := 1; i <= 10; i++ {
		if !f.CheckOnboard("1.2.3.4") {
			t.Fatalf("attempt %d denied", i)
		}
		now = now.Add(time.Minute)
	}
	if f.CheckOnboard("1.2.3.4") {
		t.Error("11th attempt within the window should be denied")
	}
	if !f.CheckOnboard("5.6.7.8") {
		t.Error("other IPs have their own window")
	}

	now = now.Add(time.Hour)
	if !f.CheckOnboard("1.2.3.4") {
		t.Error("attempt after the window should reset and succeed")
	}
	for i := 2; i <= 10; i++ {
		if !f.CheckOnboard("1.2.3.4") {
			t.Fatalf("attempt %d in new window denied", i)
		}
	}
	if f.CheckOnboard("1.2.3.4") {
		t.Error("11th attempt in the new window should be denied")
	}
}

func TestFixedWindow_PrunesExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFixedWindow(2, time.Minute)
	f.SetClock(func() time.Time { return now })

	f.CheckOnboard("a")
	f.CheckOnboard("b")
	if f.Len() != 2 {
		t.Fatalf("len = %d, want 2", f.Len())
	}
	now = now.Add(2 * time.Minute)
	f.CheckOnboard("c")
	if f.Len() != 1 {
		t.Errorf("len after prune = %d, want 1", f.Len())
	}
}

func TestFixedWindow_Limiter(t *testing.T) {
	var l Limiter = NewFixedWindow(1, time.Hour)
	ok, err := l.Allow(context.Background(), "k")
	if err != nil || !ok {
		t.Fatalf("first Allow = %v, %v", ok, err)
	}
	ok, _ = l.Allow(context.Background(), "k")
	if ok {
		t.Error("second Allow should be denied")
	}
}

func TestRedisWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	l := NewRedisWindow(client, "", 10, time.Hour)

	for i := 1; i <= 10; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if !ok {
			t.Fatalf("attempt %d denied", i)
		}
	}
	ok, err := l.Allow(ctx, "1.2.3.4")
	if err != nil || ok {
		t.Errorf("11th attempt = %v, %v; want denied", ok, err)
	}

	if ttl := mr.TTL("mcpgate:ratelimit:1.2.3.4"); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}

	mr.FastForward(time.Hour)
	ok, err = l.Allow(ctx, "1.2.3.4")
	if err != nil || !ok {
		t.Errorf("attempt after expiry = %v, %v; want allowed", ok, err)
	}
}

func TestRedisWindow_HealsCounterWithoutExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	// A full counter left behind with no TTL.
	key := "mcpgate:ratelimit:5.6.7.8"
	mr.Set(key, "10")

	ctx := context.Background()
	l := NewRedisWindow(client, "", 10, time.Hour)
	if ok, err := l.Allow(ctx, "5.6.7.8"); err != nil || ok {
		t.Fatalf("Allow = %v, %v; want denied", ok, err)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}

	mr.FastForward(time.Hour)
	if ok, err := l.Allow(ctx, "5.6.7.8"); err != nil || !ok {
		t.Errorf("attempt after expiry = %v, %v; want allowed", ok, err)
	}
}

func TestRedisWindow_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	if _, err := NewRedisWindow(client, "", 10, time.Hour).Allow(context.Background(), "x"); err == nil {
		t.Error("expected error when redis is down")
	}
}

func TestNewRedisClient(t *testing.T) {
	if _, err := NewRedisClient("not a url"); err == nil {
		t.Error("expected parse error")
	}
	c, err := NewRedisClient("redis://localhost:6379/0")
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	c.Close()
}

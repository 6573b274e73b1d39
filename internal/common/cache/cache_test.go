package cache_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/VENIZIA-AI/ignis-sub007/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c.WithPrefix("test:"), server
}

func TestRedisCacheBasicOps(t *testing.T) {
	c, server := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if got, _ := server.Get("test:k"); got != "v" {
		t.Fatalf("expected prefixed key in redis, got %q", got)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("get = %q, %v", got, err)
	}

	if err := c.Del(ctx, "k"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	got, err = c.Get(ctx, "k")
	if err != nil || got != "" {
		t.Fatalf("expected miss after delete, got %q, %v", got, err)
	}

	for want := int64(1); want <= 3; want++ {
		n, err := c.Incr(ctx, "gen")
		if err != nil || n != want {
			t.Fatalf("incr = %d, %v, want %d", n, err, want)
		}
	}
}

func TestGetWithCached(t *testing.T) {
	c, server := newTestCache(t)
	ctx := context.Background()

	calls := 0
	fetch := func(value int) func(context.Context) (int, error) {
		return func(context.Context) (int, error) {
			calls++
			return value, nil
		}
	}
	isEmpty := func(v int) bool { return v == 0 }
	marshal := func(v int) (string, error) { return strconv.Itoa(v), nil }
	unmarshal := strconv.Atoi

	got, err := cache.GetWithCached(ctx, c, "n", time.Minute, time.Second, isEmpty, marshal, unmarshal, fetch(42))
	if err != nil || got != 42 {
		t.Fatalf("first fetch = %d, %v", got, err)
	}
	got, err = cache.GetWithCached(ctx, c, "n", time.Minute, time.Second, isEmpty, marshal, unmarshal, fetch(7))
	if err != nil || got != 42 {
		t.Fatalf("cached fetch = %d, %v", got, err)
	}
	if calls != 1 {
		t.Fatalf("expected one fetch, got %d", calls)
	}

	if _, err := cache.GetWithCached(ctx, c, "empty", time.Minute, time.Second, isEmpty, marshal, unmarshal, fetch(0)); err != nil {
		t.Fatalf("empty fetch failed: %v", err)
	}
	if stored, _ := server.Get("test:empty"); stored != cache.NullCacheValue {
		t.Fatalf("expected null marker, got %q", stored)
	}

	boom := errors.New("boom")
	_, err = cache.GetWithCached(ctx, c, "err", time.Minute, time.Second, isEmpty, marshal, unmarshal,
		func(context.Context) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestGetWithCachedSurvivesRedisOutage(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis failed: %v", err)
	}
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	defer c.Close()
	server.Close()

	got, err := cache.GetWithCached(context.Background(), c, "n", time.Minute, 0,
		func(v string) bool { return v == "" },
		func(v string) (string, error) { return v, nil },
		func(v string) (string, error) { return v, nil },
		func(context.Context) (string, error) { return "fresh", nil })
	if err != nil || got != "fresh" {
		t.Fatalf("expected direct fetch, got %q, %v", got, err)
	}
}

func TestJitterTTL(t *testing.T) {
	ttl := time.Minute
	for i := 0; i < 20; i++ {
		got := cache.JitterTTL(ttl)
		if got > ttl || got < ttl-ttl/10 {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
	if cache.JitterTTL(0) != 0 {
		t.Fatalf("zero ttl should stay zero")
	}
}

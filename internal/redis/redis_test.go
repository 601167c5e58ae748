package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return newClient(rdb, "", zap.NewNop()), mr
}

func TestDigestGuard_ClaimsOncePerTenantDay(t *testing.T) {
	client, _ := setupTestRedis(t)
	guard := NewDigestGuard(client, 0, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		tenant string
		date   string
		want   bool
	}{
		{"tenant-1", "2027-01-15", true},
		{"tenant-1", "2027-01-15", false},
		{"tenant-1", "2027-01-16", true},
		{"tenant-2", "2027-01-15", true},
	}

	for i, tt := range tests {
		got, err := guard.ClaimDigest(ctx, tt.tenant, tt.date)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if got != tt.want {
			t.Errorf("claim %d (%s, %s) = %v, want %v", i, tt.tenant, tt.date, got, tt.want)
		}
	}
}

func TestDigestGuard_ExpiresAndReleases(t *testing.T) {
	client, mr := setupTestRedis(t)
	guard := NewDigestGuard(client, time.Hour, zap.NewNop())
	ctx := context.Background()

	if ok, _ := guard.ClaimDigest(ctx, "tenant-1", "2027-01-15"); !ok {
		t.Fatal("first claim should succeed")
	}
	if ttl := mr.TTL("deadlines:digest:tenant-1:2027-01-15"); ttl != time.Hour {
		t.Errorf("expected 1h ttl, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if ok, _ := guard.ClaimDigest(ctx, "tenant-1", "2027-01-15"); !ok {
		t.Fatal("claim should succeed after expiry")
	}

	if err := guard.Release(ctx, "tenant-1", "2027-01-15"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := guard.ClaimDigest(ctx, "tenant-1", "2027-01-15"); !ok {
		t.Fatal("claim should succeed after release")
	}
}

func TestDigestGuard_RedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	guard := NewDigestGuard(client, 0, zap.NewNop())
	mr.Close()

	if _, err := guard.ClaimDigest(context.Background(), "tenant-1", "2027-01-15"); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}

func setupTestRateLimiter(t *testing.T, limit int, window time.Duration) *RateLimiter {
	t.Helper()
	client, _ := setupTestRedis(t)
	return NewRateLimiter(client, zap.NewNop(), RateLimitConfig{Limit: limit, Window: window})
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := setupTestRateLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "tenant:acme")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if result.Remaining != 4-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 4-i, result.Remaining)
		}
		if result.Limit != 5 {
			t.Errorf("expected limit 5, got %d", result.Limit)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter := setupTestRateLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limiter.Allow(ctx, "tenant:acme")
	}

	result, err := limiter.Allow(ctx, "tenant:acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("request should be blocked")
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", result.Remaining)
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	limiter := setupTestRateLimiter(t, 2, time.Minute)
	ctx := context.Background()

	base := time.Unix(1_800_000_000, 0)
	limiter.now = func() time.Time { return base }
	limiter.Allow(ctx, "tenant:acme")
	limiter.Allow(ctx, "tenant:acme")
	if res, _ := limiter.Allow(ctx, "tenant:acme"); res.Allowed {
		t.Fatal("third request in window should be blocked")
	}

	limiter.now = func() time.Time { return base.Add(61 * time.Second) }
	if res, _ := limiter.Allow(ctx, "tenant:acme"); !res.Allowed {
		t.Fatal("request after the window should be allowed")
	}
}

func TestRateLimiter_SeparateKeysAndAllowN(t *testing.T) {
	limiter := setupTestRateLimiter(t, 10, time.Minute)
	ctx := context.Background()

	result, err := limiter.AllowN(ctx, "tenant:a", 5)
	if err != nil || !result.Allowed || result.Remaining != 5 {
		t.Fatalf("AllowN(5): %+v, %v", result, err)
	}
	if result, _ = limiter.AllowN(ctx, "tenant:a", 6); result.Allowed {
		t.Fatal("AllowN(6) should be blocked")
	}
	if result, _ = limiter.Allow(ctx, "tenant:b"); !result.Allowed || result.Remaining != 9 {
		t.Fatalf("tenant:b should have its own budget: %+v", result)
	}
}

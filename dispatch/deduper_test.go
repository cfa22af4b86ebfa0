package dispatch

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T, ttl time.Duration) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewRedisDeduper(client, ttl), m
}

func TestRedisDeduperClaimOnce(t *testing.T) {
	deduper, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	claimed, err := deduper.Claim(ctx, "d1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to succeed")
	}

	claimed, err = deduper.Claim(ctx, "d1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("expected second claim to be rejected")
	}
}

func TestRedisDeduperReleaseAllowsRetry(t *testing.T) {
	deduper, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if _, err := deduper.Claim(ctx, "d1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := deduper.Release(ctx, "d1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	claimed, err := deduper.Claim(ctx, "d1")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !claimed {
		t.Fatal("expected claim to succeed after release")
	}
}

func TestRedisDeduperKeyNamespacing(t *testing.T) {
	deduper, m := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if _, err := deduper.Claim(ctx, "d1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !m.Exists(dedupeKeyPrefix + ":d1") {
		t.Fatalf("expected redis key %q to exist", dedupeKeyPrefix+":d1")
	}
}

func TestRedisDeduperClaimExpires(t *testing.T) {
	deduper, m := newTestDeduper(t, time.Second)
	ctx := context.Background()

	if _, err := deduper.Claim(ctx, "d1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	m.FastForward(2 * time.Second)

	claimed, err := deduper.Claim(ctx, "d1")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !claimed {
		t.Fatal("expected claim to succeed after TTL expiry")
	}
}

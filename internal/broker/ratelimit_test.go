package broker

import (
	"context"
	"testing"
	"time"
)

func TestNewTokenBucketStartsFull(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(10, 1)
	if tb.tokens != 10 {
		t.Errorf("tokens = %v, want 10", tb.tokens)
	}
}

func TestTokenBucketWaitImmediate(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(5, 1)

	for i := 0; i < 5; i++ {
		start := time.Now()
		if err := tb.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() returned error: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Errorf("Wait() took %v, expected immediate (token %d)", elapsed, i)
		}
	}
}

func TestTokenBucketWaitBlocks(t *testing.T) {
	t.Parallel()
	// 1 token capacity, refills at 10/sec: ~100ms per token.
	tb := NewTokenBucket(1, 10)

	if err := tb.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Errorf("expected blocking ~100ms, got %v", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("blocked too long: %v", elapsed)
	}
}

func TestTokenBucketContextCancelled(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 0.1) // very slow refill

	_ = tb.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := tb.Wait(ctx); err == nil {
		t.Error("expected context error, got nil")
	}
}

func TestTryTakeDoesNotBlock(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 0.1)

	if !tb.TryTake() {
		t.Fatal("first TryTake should succeed on a full bucket")
	}
	start := time.Now()
	if tb.TryTake() {
		t.Error("second TryTake should fail on an empty bucket")
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("TryTake blocked for %v", elapsed)
	}
}

func TestRateLimiterIsolatesOwners(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(1, 0.1)

	if !rl.Bucket("alice").TryTake() {
		t.Fatal("alice's first take should succeed")
	}
	if rl.Bucket("alice").TryTake() {
		t.Error("alice's bucket should be empty")
	}
	// bob has his own bucket, untouched by alice's usage
	if !rl.Bucket("bob").TryTake() {
		t.Error("bob's bucket should be independent of alice's")
	}
}

func TestRateLimiterReusesBucket(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(5, 1)
	if rl.Bucket("carol") != rl.Bucket("carol") {
		t.Error("same owner must map to the same bucket")
	}
}

// ratelimit.go implements per-owner token-bucket throttling for broker
// calls. Each tenant gets an independent bucket so one noisy owner
// cannot starve the others' order flow. Buckets refill continuously
// rather than in fixed windows.
package broker

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a rate limiter with continuous refill. Callers block
// in Wait until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64 // current available tokens (fractional allowed)
	capacity float64 // maximum burst size
	rate     float64 // tokens refilled per second
	lastTime time.Time
}

// NewTokenBucket creates a bucket with the given burst capacity and
// refill rate, starting full.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// TryTake takes a token without blocking. It returns false when the
// bucket is empty, which the executor treats as starvation and defers
// the signal instead of queueing behind it.
func (tb *TokenBucket) TryTake() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastTime).Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastTime = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// RateLimiter hands out one TokenBucket per owner, created lazily on
// first use with a shared capacity/rate.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*TokenBucket
	capacity float64
	rate     float64
}

// NewRateLimiter creates a per-owner limiter factory.
func NewRateLimiter(capacity, ratePerSecond float64) *RateLimiter {
	return &RateLimiter{
		buckets:  make(map[string]*TokenBucket),
		capacity: capacity,
		rate:     ratePerSecond,
	}
}

// Bucket returns the owner's bucket, creating it on first use.
func (rl *RateLimiter) Bucket(owner string) *TokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	tb, ok := rl.buckets[owner]
	if !ok {
		tb = NewTokenBucket(rl.capacity, rl.rate)
		rl.buckets[owner] = tb
	}
	return tb
}

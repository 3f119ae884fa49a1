package ratelimiter

import (
	"sync"
	"time"
)

// TokenBucket is a RateLimiter that refills permits at a fixed rate and
// allows bursts up to its capacity. It caps the request rate against the
// embedding provider independently of how many ingestions are in flight.
type TokenBucket struct {
	mu       sync.Mutex
	rate     float64 // permits added per second
	capacity float64
	tokens   float64
	lastFill time.Time
}

// NewTokenBucket creates a full bucket that refills rate permits per second
// up to the given burst capacity.
func NewTokenBucket(rate float64, capacity int) *TokenBucket {
	return &TokenBucket{
		rate:     rate,
		capacity: float64(capacity),
		tokens:   float64(capacity),
		lastFill: time.Now(),
	}
}

// Allow consumes one permit if available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(time.Now())
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// refill credits permits for the time elapsed since the last fill. Must be
// called with the mutex held.
func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastFill)
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed.Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastFill = now
}

// compile-time check to ensure TokenBucket implements the RateLimiter interface
var _ RateLimiter = (*TokenBucket)(nil)

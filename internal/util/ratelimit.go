package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket holding at most burst tokens, refilled at
// perMinute tokens per minute. It throttles calls to remote data APIs.
type RateLimiter struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	burst    float64
	tokens   float64
	lastTime time.Time
	now      func() time.Time
}

// NewRateLimiter creates a RateLimiter allowing perMinute operations per
// minute with bursts of up to burst calls. burst < 1 is treated as 1.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	b := float64(max(burst, 1))
	return &RateLimiter{
		rate:     float64(perMinute) / 60.0,
		burst:    b,
		tokens:   b,
		lastTime: time.Now(),
		now:      time.Now,
	}
}

// Allow takes a token if one is available without waiting.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (rl *RateLimiter) refill() {
	now := rl.now()
	rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastTime = now
}

package auth

import (
	"sync"
	"time"
)

// RateLimiter is a per-key token bucket.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    int
	window  time.Duration
	now     func() time.Time
}

type tokenBucket struct {
	tokens   float64
	lastFill time.Time
}

func NewRateLimiter(ratePerWindow int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    ratePerWindow,
		window:  window,
		now:     time.Now,
	}
}

// Allow takes one token for key. When denied, retryAfter is the time until the next token.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		rl.buckets[key] = &tokenBucket{tokens: float64(rl.rate - 1), lastFill: now}
		return true, 0
	}

	perToken := rl.window / time.Duration(rl.rate)
	elapsed := now.Sub(bucket.lastFill)
	bucket.tokens = min(float64(rl.rate), bucket.tokens+float64(elapsed)/float64(perToken))
	bucket.lastFill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true, 0
	}
	missing := 1 - bucket.tokens
	return false, time.Duration(missing * float64(perToken))
}

// Reset forgets key's bucket.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by every CoinGecko request.
type RateLimiter struct {
	mu             sync.Mutex
	tokens         int
	maxTokens      int
	refillInterval time.Duration
	lastRefill     time.Time
}

// NewRateLimiter allows maxTokens calls in a burst and adds one token every
// refillInterval.
func NewRateLimiter(maxTokens int, refillInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:         maxTokens,
		maxTokens:      maxTokens,
		refillInterval: refillInterval,
		lastRefill:     time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill(time.Now())
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		delay := r.refillInterval - time.Since(r.lastRefill)
		r.mu.Unlock()

		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Available reports the tokens left in the bucket.
func (r *RateLimiter) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill(time.Now())
	return r.tokens
}

func (r *RateLimiter) refill(now time.Time) {
	newTokens := int(now.Sub(r.lastRefill) / r.refillInterval)
	if newTokens <= 0 {
		return
	}
	r.tokens += newTokens
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = r.lastRefill.Add(time.Duration(newTokens) * r.refillInterval)
}

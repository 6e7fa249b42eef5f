// Package ratelimit implements per-venue, per-endpoint-class token-bucket
// rate limiting, generalizing the continuous-refill bucket the teacher used
// for a fixed set of Polymarket endpoint categories into an open registry
// keyed by opaque bucket names.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gateway/cex-gateway/pkg/errs"
)

// bucket is a token bucket with continuous refill: tokens accrue
// proportionally to elapsed time rather than resetting in discrete windows.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	lastTime time.Time
	timeout  time.Duration
}

func newBucket(rate, burst float64, timeout time.Duration) *bucket {
	return &bucket{
		tokens:   burst,
		capacity: burst,
		rate:     rate,
		lastTime: time.Now(),
		timeout:  timeout,
	}
}

func (b *bucket) wait(ctx context.Context, key string, cost float64) error {
	start := time.Now()
	deadline := start.Add(b.timeout)
	for {
		b.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(b.lastTime).Seconds()
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastTime = now

		if b.tokens >= cost {
			b.tokens -= cost
			b.mu.Unlock()
			return nil
		}

		var waitFor time.Duration
		if b.rate > 0 {
			waitFor = time.Duration((cost - b.tokens) / b.rate * float64(time.Second))
		} else {
			waitFor = b.timeout
		}
		b.mu.Unlock()

		if b.timeout > 0 && now.Add(waitFor).After(deadline) {
			return &errs.RateLimitedError{
				Key:     key,
				Waited:  now.Sub(start).String(),
				Timeout: b.timeout.String(),
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitFor):
		}
	}
}

// Limiter is an open registry of named token buckets. Unknown keys bypass
// limiting entirely, so callers can opt a venue/endpoint class out
// explicitly by simply never calling Configure for it.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

// New constructs an empty Limiter.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket)}
}

// Configure registers or replaces the bucket for key, with burst capacity,
// continuous refill rate in tokens/second, and a wait timeout after which
// Limit returns a RateLimitedError. A zero timeout means wait indefinitely.
func (l *Limiter) Configure(key string, rate, burst float64, timeout time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[key] = newBucket(rate, burst, timeout)
}

// Limit blocks until cost tokens are available under key, or returns a
// RateLimitedError once the bucket's configured timeout elapses, or ctx's
// error if ctx is cancelled first. Keys that were never Configure'd are a
// no-op: the call returns immediately.
func (l *Limiter) Limit(ctx context.Context, key string, cost float64) error {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.wait(ctx, key, cost)
}

// SyncLimiter is a blocking facade over Limiter for call sites that are not
// already inside an async context, e.g. the strategy-facing synchronous
// proxy. It uses context.Background with no deadline beyond the bucket's
// own configured timeout.
type SyncLimiter struct {
	limiter *Limiter
}

// NewSyncLimiter wraps limiter for synchronous callers.
func NewSyncLimiter(limiter *Limiter) *SyncLimiter {
	return &SyncLimiter{limiter: limiter}
}

// Limit blocks the calling goroutine until cost tokens are available.
func (s *SyncLimiter) Limit(key string, cost float64) error {
	err := s.limiter.Limit(context.Background(), key, cost)
	if err != nil {
		return fmt.Errorf("ratelimit: sync limit %q: %w", key, err)
	}
	return nil
}

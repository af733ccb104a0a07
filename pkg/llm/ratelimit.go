package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter used to throttle requests to a
// single provider, independent of any per-provider retry/backoff behavior.
type RateLimiter struct {
	mu sync.Mutex

	capacity   float64
	refillRate float64
	interval   time.Duration

	tokens    float64
	lastTime  time.Time
	waitCount int
}

// NewRateLimiter creates a rate limiter allowing perHour requests per hour,
// with a small burst allowance.
func NewRateLimiter(perHour int) *RateLimiter {
	if perHour <= 0 {
		perHour = 100
	}

	capacity := float64(perHour) / 10
	if capacity < 1 {
		capacity = 1
	}

	return &RateLimiter{
		capacity:   capacity,
		refillRate: float64(perHour) / 3600.0,
		interval:   time.Second,
		tokens:     capacity,
		lastTime:   time.Now(),
	}
}

// Wait blocks until a request may proceed or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}

		deficit := 1 - rl.tokens
		waitDuration := time.Duration(deficit/rl.refillRate*1000) * time.Millisecond
		if waitDuration < rl.interval {
			waitDuration = rl.interval
		}
		rl.waitCount++
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitDuration):
		}
	}
}

func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastTime).Seconds()
	if elapsed > 0 {
		rl.tokens += elapsed * rl.refillRate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
		rl.lastTime = now
	}
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// RateLimitedProvider wraps a Provider with a RateLimiter, blocking each
// call until a token is available.
type RateLimitedProvider struct {
	Provider
	limiter *RateLimiter
}

// WithRateLimit wraps p so every Complete/Stream call waits on limiter first.
func WithRateLimit(p Provider, perHour int) *RateLimitedProvider {
	return &RateLimitedProvider{Provider: p, limiter: NewRateLimiter(perHour)}
}

func (p *RateLimitedProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.Provider.Complete(ctx, req)
}

func (p *RateLimitedProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.Provider.Stream(ctx, req)
}

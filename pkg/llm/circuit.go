package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState is the health state of a CircuitBreakerProvider.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrCircuitOpen is returned by Complete/Stream while the breaker is open.
var ErrCircuitOpen = errors.New("llm: circuit breaker open")

// CircuitBreakerConfig tunes when a provider's circuit trips.
type CircuitBreakerConfig struct {
	// SameErrorThreshold is consecutive identical errors before tripping.
	SameErrorThreshold int
	// RecoveryTimeout is how long the circuit stays open before allowing
	// one half-open probe request through.
	RecoveryTimeout time.Duration
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.SameErrorThreshold <= 0 {
		c.SameErrorThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 5 * time.Minute
	}
	return c
}

// CircuitBreakerProvider wraps a Provider with a same-error circuit
// breaker: repeated identical errors from the LLM-turn loop (the same
// provider failure on every retried turn, not a transient blip) trip the
// circuit and fail fast instead of hammering the provider.
type CircuitBreakerProvider struct {
	Provider

	mu     sync.Mutex
	config CircuitBreakerConfig

	state        CircuitState
	lastErr      string
	errorStreak  int
	lastOpenTime time.Time
}

// WithCircuitBreaker wraps p with a same-error circuit breaker.
func WithCircuitBreaker(p Provider, config CircuitBreakerConfig) *CircuitBreakerProvider {
	return &CircuitBreakerProvider{Provider: p, config: config.withDefaults(), state: CircuitClosed}
}

// State reports the breaker's current state.
func (p *CircuitBreakerProvider) State() CircuitState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *CircuitBreakerProvider) allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case CircuitOpen:
		if time.Since(p.lastOpenTime) >= p.config.RecoveryTimeout {
			p.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (p *CircuitBreakerProvider) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err == nil {
		p.state = CircuitClosed
		p.errorStreak = 0
		p.lastErr = ""
		return
	}

	if p.state == CircuitHalfOpen {
		p.state = CircuitOpen
		p.lastOpenTime = time.Now()
		return
	}

	if err.Error() == p.lastErr {
		p.errorStreak++
	} else {
		p.errorStreak = 1
		p.lastErr = err.Error()
	}

	if p.errorStreak >= p.config.SameErrorThreshold {
		p.state = CircuitOpen
		p.lastOpenTime = time.Now()
	}
}

func (p *CircuitBreakerProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if !p.allow() {
		return nil, ErrCircuitOpen
	}
	resp, err := p.Provider.Complete(ctx, req)
	p.record(err)
	return resp, err
}

func (p *CircuitBreakerProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	if !p.allow() {
		return nil, ErrCircuitOpen
	}
	ch, err := p.Provider.Stream(ctx, req)
	p.record(err)
	return ch, err
}

// Package resilience implements the three orthogonal wrappers any outbound
// call may compose (spec.md §2 item 4, §4.5): CircuitBreaker, RetryBudget,
// and FallbackChain.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/Guillhermm/zenus-os-sub000/internal/errkind"
)

// CircuitState is the externally observable state of a CircuitBreaker.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// CircuitBreakerConfig configures a CircuitBreaker (spec.md §4.5 defaults).
type CircuitBreakerConfig struct {
	FailureThreshold int
	TimeoutSeconds   float64
	SuccessThreshold int
	WindowSeconds    float64
}

// DefaultCircuitBreakerConfig returns spec.md's documented defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		TimeoutSeconds:   60,
		SuccessThreshold: 2,
		WindowSeconds:    300,
	}
}

// CircuitBreaker guards a named outbound service. State transitions follow
// spec.md §3 exactly: closed →(≥failure_threshold in window)→ open
// →(after timeout)→ half_open →(≥success_threshold)→ closed, or
// (any failure)→ open.
//
// State is guarded per named service by a component-local mutex; critical
// sections are counter updates only (spec.md §5).
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu                sync.Mutex
	state             CircuitState
	failureCount      int
	lastFailure       time.Time
	windowStart       time.Time
	halfOpenSuccesses int
}

// NewCircuitBreaker constructs a closed CircuitBreaker for the named service.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:        name,
		cfg:         cfg,
		state:       StateClosed,
		windowStart: time.Now(),
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call executes fn guarded by the breaker. If the breaker is open and the
// configured timeout has not elapsed, Call fails immediately with a
// *errkind.Classified of kind circuit_open without invoking fn.
func (b *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

func (b *CircuitBreaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if b.state == StateOpen {
		if now.Sub(b.lastFailure) < time.Duration(b.cfg.TimeoutSeconds*float64(time.Second)) {
			return errkind.New(errkind.CircuitOpen, "circuit "+b.name+" is open")
		}
		b.state = StateHalfOpen
		b.halfOpenSuccesses = 0
	}
	if now.Sub(b.windowStart) > time.Duration(b.cfg.WindowSeconds*float64(time.Second)) {
		b.windowStart = now
		b.failureCount = 0
	}
	return nil
}

func (b *CircuitBreaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case StateHalfOpen:
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
				b.state = StateClosed
				b.failureCount = 0
			}
		}
		return
	}

	b.lastFailure = time.Now()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	}
}

// Snapshot captures the breaker's CircuitState for health reporting
// (session.health() in spec.md §6).
type Snapshot struct {
	Name         string
	State        CircuitState
	FailureCount int
}

// Snapshot returns the breaker's current observable state.
func (b *CircuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{Name: b.name, State: b.state, FailureCount: b.failureCount}
}

package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Guillhermm/zenus-os-sub000/internal/errkind"
)

// RetryConfig configures exponential backoff with jitter (spec.md §4.5).
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	ExponentialBase   float64
	Jitter            bool
	// BudgetTotal is the number of retry units available per WindowSeconds
	// (spec.md §3 RetryBudget, §4.5 "consume one unit from the budget").
	BudgetTotal   int
	WindowSeconds float64
}

// DefaultRetryConfig returns spec.md's documented defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		BudgetTotal:     10,
		WindowSeconds:   300,
	}
}

// ExhaustedError is returned when all MaxAttempts attempts have failed with
// a retriable error. Running out of the window budget is reported instead as
// an errkind.BudgetExhausted error.
type ExhaustedError struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts over %v: %v", e.Attempts, e.TotalDuration, e.LastError)
}

func (e *ExhaustedError) Unwrap() error { return e.LastError }

// RetryBudget bounds how many retries an operation class may consume within
// a sliding window, using a token-bucket limiter (golang.org/x/time/rate) so
// the window refills continuously rather than resetting in hard steps.
type RetryBudget struct {
	name string
	cfg  RetryConfig

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewRetryBudget constructs a RetryBudget for the named operation class. The
// limiter's refill rate is BudgetTotal tokens per WindowSeconds, with burst
// capacity BudgetTotal so a full window's worth of retries can be consumed
// immediately after a long idle period.
func NewRetryBudget(name string, cfg RetryConfig) *RetryBudget {
	ratePerSec := rate.Limit(float64(cfg.BudgetTotal) / cfg.WindowSeconds)
	return &RetryBudget{
		name:    name,
		cfg:     cfg,
		limiter: rate.NewLimiter(ratePerSec, max(1, cfg.BudgetTotal)),
	}
}

// consume reports whether a retry unit is available right now, without
// blocking. It mirrors spec.md §4.5: "Before each retry, consume one unit
// from the budget; if budget exhausted within the window, fail with
// BudgetExhausted."
func (r *RetryBudget) consume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiter.Allow()
}

// Do executes fn, retrying on errors classified as Transient or Timeout
// (spec.md §7) using exponential backoff with jitter, bounded by both
// MaxAttempts and the sliding-window budget.
func (r *RetryBudget) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := r.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := errkind.Classify(err)
		if !kind.Retriable() {
			return err
		}
		if attempt >= maxAttempts {
			break
		}
		if !r.consume() {
			return errkind.Wrap(errkind.BudgetExhausted, "retry budget exhausted for "+r.name, lastErr)
		}

		delay := r.backoff(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return &ExhaustedError{Attempts: maxAttempts, TotalDuration: time.Since(start), LastError: lastErr}
}

// BudgetSnapshot reports a RetryBudget's static configuration for health
// reporting (session.health() in spec.md §6). The limiter's live token count
// is deliberately not exposed here: what matters to an operator is which
// budgets exist and how they're sized, not an instant-by-instant reading
// that would be stale the moment it's read.
type BudgetSnapshot struct {
	Name          string
	BudgetTotal   int
	WindowSeconds float64
}

// Snapshot returns r's configuration for health reporting.
func (r *RetryBudget) Snapshot() BudgetSnapshot {
	return BudgetSnapshot{Name: r.name, BudgetTotal: r.cfg.BudgetTotal, WindowSeconds: r.cfg.WindowSeconds}
}

func (r *RetryBudget) backoff(attempt int) time.Duration {
	d := float64(r.cfg.InitialDelay) * math.Pow(r.cfg.ExponentialBase, float64(attempt-1))
	if d > float64(r.cfg.MaxDelay) {
		d = float64(r.cfg.MaxDelay)
	}
	if r.cfg.Jitter {
		d *= 0.5 + rand.Float64() //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(d)
}

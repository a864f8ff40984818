package resilience

import "context"

// Kit composes a CircuitBreaker and a RetryBudget for one named outbound
// call class (spec.md §5: "CircuitBreaker and RetryBudget state: guarded
// per named service"). A FallbackChain is a separate, outer concern: each
// cascade member gets its own Kit, and the chain loops over already-wrapped
// calls rather than sharing one breaker/retry across every provider — see
// internal/llm.NewTranslator, which builds one Kit per provider before
// handing their wrapped Call funcs to resilience.NewFallbackChain.
type Kit struct {
	Breaker *CircuitBreaker
	Retry   *RetryBudget
}

// NewKit constructs a Kit with fresh CircuitBreaker and RetryBudget state for
// the named service.
func NewKit(name string, cbCfg CircuitBreakerConfig, retryCfg RetryConfig) *Kit {
	return &Kit{
		Breaker: NewCircuitBreaker(name, cbCfg),
		Retry:   NewRetryBudget(name, retryCfg),
	}
}

// Call wraps a single provider call in the breaker and retry budget, per
// spec.md §4.5's composition formula for one call:
//
//	retry_with_budget( breaker.call( provider.call(args) ) )
func (k *Kit) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	return k.Retry.Do(ctx, func(ctx context.Context) error {
		return k.Breaker.Call(ctx, fn)
	})
}

package resilience

import (
	"context"
	"sort"
	"sync"
)

// FallbackOption is one cascade member of a FallbackChain, ordered by
// Priority (spec.md §4.5: "Options sorted by priority desc").
type FallbackOption struct {
	Name     string
	Priority int
	Call     func(ctx context.Context, args any) (any, error)
}

// FallbackChain tries each option in priority order and returns the first
// non-erroring result; if every option errors, it re-raises the last error
// (strategy = CASCADE, spec.md §4.5).
type FallbackChain struct {
	options []FallbackOption

	mu             sync.Mutex
	lastSuccessful string
}

// NewFallbackChain sorts options by priority descending and constructs the
// chain.
func NewFallbackChain(options []FallbackOption) *FallbackChain {
	sorted := append([]FallbackOption(nil), options...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	return &FallbackChain{options: sorted}
}

// Execute tries each option in priority order, returning the first success.
func (c *FallbackChain) Execute(ctx context.Context, args any) (any, error) {
	var lastErr error
	for _, opt := range c.options {
		result, err := opt.Call(ctx, args)
		if err == nil {
			c.mu.Lock()
			c.lastSuccessful = opt.Name
			c.mu.Unlock()
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// LastSuccessful returns the name of the option that most recently succeeded,
// for observability (session.health() in spec.md §6).
func (c *FallbackChain) LastSuccessful() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccessful
}

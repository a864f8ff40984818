package analyzer

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Dispatcher runs one level of step indices concurrently, bounded by a
// semaphore of fixed width — the same shape as
// other_examples/toolhive's dagExecutor.executeLevel (errgroup.WithContext
// + a buffered-channel semaphore acquired/released around each unit of
// work), generalized here to operate on arbitrary index sets rather than
// a concrete WorkflowStep type.
type Dispatcher struct {
	semaphore chan struct{}
}

// NewDispatcher constructs a Dispatcher bounded to width concurrent units
// of work (spec.md §4.7/§5: "worker pool is process-global and bounded").
func NewDispatcher(width int) *Dispatcher {
	if width <= 0 {
		width = 4
	}
	return &Dispatcher{semaphore: make(chan struct{}, width)}
}

// RunLevel executes fn(ctx, idx) for every idx in level concurrently,
// bounded by the Dispatcher's width, and waits for all to finish. If any
// call returns an error, RunLevel still waits for the rest of the level
// (spec.md §4.7.2b: "dispatch all steps concurrently; wait for all to
// finish") and returns the first error via errgroup's built-in
// first-error capture; the Planner inspects individual results to decide
// whether to short-circuit remaining levels.
func (d *Dispatcher) RunLevel(ctx context.Context, level []int, fn func(ctx context.Context, idx int) error) error {
	g, groupCtx := errgroup.WithContext(ctx)
	for _, idx := range level {
		idx := idx
		g.Go(func() error {
			select {
			case d.semaphore <- struct{}{}:
				defer func() { <-d.semaphore }()
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
			return fn(groupCtx, idx)
		})
	}
	return g.Wait()
}

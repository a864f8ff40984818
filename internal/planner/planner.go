// Package planner implements Planner (spec.md §4.7): it orchestrates one
// IntentIR end-to-end — a pre-flight FailureStore gate, dependency
// analysis into concurrency levels, level-by-level dispatch through the
// StepExecutor, and per-step failure recording.
package planner

import (
	"context"
	"fmt"

	"github.com/Guillhermm/zenus-os-sub000/internal/analyzer"
	"github.com/Guillhermm/zenus-os-sub000/internal/errkind"
	"github.com/Guillhermm/zenus-os-sub000/internal/failurestore"
	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
	"github.com/Guillhermm/zenus-os-sub000/internal/telemetry"
)

// Interact surfaces a yes/no confirmation prompt to the session's user
// (spec.md §4.7 step 1). nil means no interactive surface is available —
// a gated plan is denied rather than blocking forever.
type Interact func(ctx context.Context, prompt string) (bool, error)

// Executor is the narrow StepExecutor contract the Planner dispatches
// through (spec.md §4.2's public entry point).
type Executor interface {
	ExecuteStep(ctx context.Context, txnID string, stepRef int, step ir.Step) (ir.Observation, error)
}

// Option configures a Planner.
type Option func(*Planner)

// WithWorkerPool sets the bounded concurrency width for level dispatch
// (spec.md §5: "bounded pool (default width = 4)").
func WithWorkerPool(width int) Option {
	return func(p *Planner) { p.dispatcher = analyzer.NewDispatcher(width) }
}

// WithFailureStore attaches the FailureStore used for the pre-flight gate
// and post-failure recording. Without one, the Planner skips both.
func WithFailureStore(s failurestore.Store) Option {
	return func(p *Planner) { p.failures = s }
}

// WithLogger overrides the structured logger (default: noop).
func WithLogger(l telemetry.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// Planner is the Planner component (spec.md §4.7).
type Planner struct {
	executor   Executor
	failures   failurestore.Store
	dispatcher *analyzer.Dispatcher
	logger     telemetry.Logger
}

// New constructs a Planner dispatching Steps through exec.
func New(exec Executor, opts ...Option) *Planner {
	p := &Planner{
		executor:   exec,
		dispatcher: analyzer.NewDispatcher(4),
		logger:     telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Status is the terminal state of a Run.
type Status string

const (
	// StatusCompleted means every level ran to completion (individual
	// steps may still have failed; inspect Observations).
	StatusCompleted Status = "completed"
	// StatusAborted means a fatal-kind failure short-circuited remaining
	// levels (spec.md §4.7 step 3c).
	StatusAborted Status = "aborted"
	// StatusDenied means the pre-flight confirmation gate was declined or
	// had no Interact surface to ask through (spec.md §4.7 step 1).
	StatusDenied Status = "denied"
)

// Result is the outcome of one Planner.Run call.
type Result struct {
	Status Status
	// Observations is indexed by step_ref (original IR order), regardless
	// of the order in which concurrent steps within a level completed.
	Observations []ir.Observation
}

// Run executes spec.md §4.7's algorithm against plan under txnID.
func (p *Planner) Run(ctx context.Context, txnID string, plan ir.IntentIR, interact Interact) (Result, error) {
	allowed, err := p.preflight(ctx, plan, interact)
	if err != nil {
		return Result{}, err
	}
	if !allowed {
		return Result{Status: StatusDenied}, nil
	}

	footprints := make([]analyzer.Step, len(plan.Steps))
	for i, s := range plan.Steps {
		footprints[i] = stepFootprint(s)
	}
	levels, err := analyzer.Analyze(footprints)
	if err != nil {
		return Result{}, fmt.Errorf("planner: dependency analysis: %w", err)
	}
	if levels.SequentialFallback(len(plan.Steps)) {
		levels = sequentialLevels(len(plan.Steps))
	}

	observations := make([]ir.Observation, len(plan.Steps))
	aborted := false
	for _, level := range levels {
		if aborted {
			break
		}
		if len(level) == 1 {
			idx := level[0]
			observations[idx] = p.executeOne(ctx, txnID, idx, plan.Steps[idx])
		} else if err := p.dispatcher.RunLevel(ctx, level, func(ctx context.Context, idx int) error {
			observations[idx] = p.executeOne(ctx, txnID, idx, plan.Steps[idx])
			return nil // never short-circuit: spec.md §4.7 step 3b waits for the whole level
		}); err != nil {
			return Result{}, fmt.Errorf("planner: level dispatch: %w", err)
		}

		for _, idx := range level {
			if observations[idx].ErrorKind.Aborts() {
				aborted = true
			}
		}
	}

	status := StatusCompleted
	if aborted {
		status = StatusAborted
	}
	return Result{Status: status, Observations: observations}, nil
}

// preflight implements spec.md §4.7 step 1: a plan whose steps carry a low
// aggregate historical success_probability and meaningful risk is gated
// behind an explicit confirmation.
func (p *Planner) preflight(ctx context.Context, plan ir.IntentIR, interact Interact) (bool, error) {
	if p.failures == nil || len(plan.Steps) == 0 {
		return true, nil
	}

	// Aggregate as the minimum across steps: the plan is only as reliable
	// as its weakest step, the conservative reading of "aggregate
	// success_probability" spec.md §4.7 leaves open.
	prob := 1.0
	for _, s := range plan.Steps {
		sp, err := p.failures.SuccessProbability(ctx, s.Tool, inputFor(s))
		if err != nil {
			return false, fmt.Errorf("planner: preflight success probability: %w", err)
		}
		if sp < prob {
			prob = sp
		}
	}

	risky := plan.RequiresConfirmation
	for _, s := range plan.Steps {
		if s.Risk >= ir.RiskSignificant {
			risky = true
		}
	}
	if prob >= 0.5 || !risky {
		return true, nil
	}
	if interact == nil {
		p.logger.Warn(ctx, "planner: low success probability with no interact surface, denying", "probability", prob)
		return false, nil
	}
	prompt := fmt.Sprintf("historical success probability for this plan is low (%.0f%%); proceed?", prob*100)
	return interact(ctx, prompt)
}

// executeOne runs one Step and records a non-plumbing failure into the
// FailureStore (spec.md §4.7 "Recovery": "the Planner records the failure
// and surfaces user-facing suggestions from FailureStore").
func (p *Planner) executeOne(ctx context.Context, txnID string, idx int, step ir.Step) ir.Observation {
	obs, err := p.executor.ExecuteStep(ctx, txnID, idx, step)
	if err != nil {
		p.logger.Error(ctx, "planner: step execution plumbing failure", "txn_id", txnID, "step_ref", idx, "error", err.Error())
		return ir.Observation{StepRef: idx, Outcome: ir.OutcomeFailed, ErrorKind: errkind.Fatal}
	}
	if obs.Outcome == ir.OutcomeFailed && p.failures != nil {
		if _, rerr := p.failures.RecordFailure(ctx, step.Tool, inputFor(step), obs.Stderr, obs.ErrorKind); rerr != nil {
			p.logger.Warn(ctx, "planner: failure store record failed", "txn_id", txnID, "error", rerr.Error())
		}
	}
	return obs
}

// inputFor derives the "normalized input" FailureStore keys a step's
// failure history under (spec.md §4.7 step 1: "query FailureStore by tool
// and normalized input"). Using the same derivation at query time and at
// RecordFailure time is what makes pre-flight queries hit post-failure
// records for the same kind of step.
func inputFor(step ir.Step) string {
	return step.Action + " " + ir.ArgsDigest(step.Args)
}

// resourceArgPriority names the Step.Args keys spec.md §4.1 treats as
// identifying a conflicting resource, in the order checked.
var resourceArgPriority = []string{"path", "file", "url", "container_id", "id", "pkg", "package", "name", "service"}

func resourceKey(args map[string]any) string {
	for _, k := range resourceArgPriority {
		if v, ok := args[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return k + ":" + s
			}
		}
	}
	return ""
}

// stepFootprint derives the analyzer.Step conflict footprint spec.md
// §4.1's three rules need from a Step's declared resource argument and
// risk level: a read-only step reads its resource, anything else writes
// it.
func stepFootprint(step ir.Step) analyzer.Step {
	f := analyzer.Step{Tool: step.Tool}
	if key := resourceKey(step.Args); key != "" {
		if step.Risk == ir.RiskReadOnly {
			f.Reads = []string{key}
		} else {
			f.Writes = []string{key}
		}
	}
	return f
}

// sequentialLevels builds one level per step, in original IR order — the
// fallback spec.md §4.1's "Output guarantees" calls for when the estimated
// parallel speedup doesn't clear the 1.3x threshold.
func sequentialLevels(n int) analyzer.Levels {
	levels := make(analyzer.Levels, n)
	for i := 0; i < n; i++ {
		levels[i] = []int{i}
	}
	return levels
}

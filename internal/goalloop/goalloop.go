// Package goalloop implements GoalLoop (spec.md §4.8): the outer loop that
// repeatedly calls a Translator, runs the resulting plan through the
// Planner, and reflects on progress until the goal is reached, a safety
// bound triggers, or the user aborts.
//
// The mutable-state-holding, single for-loop shape (one struct carrying
// everything the loop needs to decide its next move, checked once per
// pass) is grounded on runtime/agent/runtime/workflow_loop.go's
// workflowLoop/runLoopState split — stripped of its Temporal-workflow
// deadline/interrupt machinery (dropped per DESIGN.md) down to the
// plain-Go iteration/stuck/batch bookkeeping spec.md §4.8 actually asks for.
package goalloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
	"github.com/Guillhermm/zenus-os-sub000/internal/planner"
	"github.com/Guillhermm/zenus-os-sub000/internal/telemetry"
)

// Translator is the external collaborator GoalLoop drives (spec.md §1
// "Out of scope: the natural-language → IR translator"): normal mode
// produces a new IntentIR from an augmented prompt; reflection mode
// produces a structured judgment of progress against the full trail.
type Translator interface {
	Translate(ctx context.Context, prompt string) (ir.IntentIR, error)
	Reflect(ctx context.Context, goal string, trail []ObservationEntry) (ir.ReflectionResult, error)
}

// Runner is the narrow Planner contract GoalLoop drives each iteration
// through (spec.md §4.7's public entry point).
type Runner interface {
	Run(ctx context.Context, txnID string, plan ir.IntentIR, interact planner.Interact) (planner.Result, error)
}

// ObservationEntry is one serialized line of the observation trail fed
// back into the augmented prompt and the reflection call (spec.md §4.8
// step 2: "Tool.action(args_digest) → truncated_stdout").
type ObservationEntry struct {
	Tool            string
	Action          string
	ArgsDigest      string
	TruncatedStdout string
}

func (e ObservationEntry) String() string {
	return fmt.Sprintf("%s.%s(%s) → %s", e.Tool, e.Action, e.ArgsDigest, e.TruncatedStdout)
}

// Outcome is the terminal state of a GoalLoop.Run call (spec.md §4.8).
type Outcome string

const (
	OutcomeComplete                  Outcome = "complete"
	OutcomeIncompleteMaxReached      Outcome = "incomplete_max_reached"
	OutcomeIncompleteTranslationFail Outcome = "incomplete_translation_failure"
	OutcomeAbortedByUser             Outcome = "aborted_by_user"
)

// Result is the outcome of one GoalLoop.Run call.
type Result struct {
	Outcome        Outcome
	Iterations     int
	Observations   []ObservationEntry
	LastReflection ir.ReflectionResult
}

// Config names GoalLoop's three tunables (spec.md §4.8 "Input").
type Config struct {
	MaxIterations  int
	BatchSize      int
	StuckThreshold int
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{MaxIterations: 50, BatchSize: 12, StuckThreshold: 3}
}

// maxTrailEntries bounds how many serialized Observations are fed into the
// augmented prompt (spec.md §4.8 step 2: "most recent 20 at most").
const maxTrailEntries = 20

// trimKeep is how many of the most recent entries survive trimming,
// alongside the anchor entry (spec.md §4.8 "Observation trimming": "keep
// the first observation and the most recent 19").
const trimKeep = 19

// Option configures a GoalLoop.
type Option func(*GoalLoop)

// WithConfig overrides the default MaxIterations/BatchSize/StuckThreshold.
func WithConfig(cfg Config) Option {
	return func(g *GoalLoop) { g.cfg = cfg }
}

// WithLogger overrides the structured logger (default: noop).
func WithLogger(l telemetry.Logger) Option {
	return func(g *GoalLoop) { g.logger = l }
}

// GoalLoop is the GoalLoop component (spec.md §4.8).
type GoalLoop struct {
	translator Translator
	runner     Runner
	cfg        Config
	logger     telemetry.Logger
}

// New constructs a GoalLoop driving translator and dispatching plans
// through runner.
func New(translator Translator, runner Runner, opts ...Option) *GoalLoop {
	g := &GoalLoop{
		translator: translator,
		runner:     runner,
		cfg:        DefaultConfig(),
		logger:     telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run executes spec.md §4.8's algorithm for goal under txnID, prompting
// through interact at stuck-detection and batch-boundary checkpoints.
func (g *GoalLoop) Run(ctx context.Context, txnID, goal string, interact planner.Interact) (Result, error) {
	var (
		trail                          []ObservationEntry
		lastGoal                       string
		stuckCount                     int
		consecutiveTranslationFailures int
		iteration                      int
		batchesCompleted               int
	)

	for {
		if iteration >= g.cfg.MaxIterations {
			return Result{Outcome: OutcomeIncompleteMaxReached, Iterations: iteration, Observations: trail}, nil
		}

		prompt := g.augmentedPrompt(goal, trail)
		newPlan, err := g.translator.Translate(ctx, prompt)
		if err != nil {
			consecutiveTranslationFailures++
			g.logger.Warn(ctx, "goalloop: translation failed", "txn_id", txnID, "iteration", iteration, "error", err.Error())
			if consecutiveTranslationFailures >= 2 {
				return Result{Outcome: OutcomeIncompleteTranslationFail, Iterations: iteration, Observations: trail}, nil
			}
			iteration++
			continue
		}
		consecutiveTranslationFailures = 0

		planResult, err := g.runner.Run(ctx, txnID, newPlan, interact)
		if err != nil {
			return Result{}, fmt.Errorf("goalloop: planner run: %w", err)
		}
		trail = trimTrail(appendObservations(trail, newPlan, planResult.Observations))

		reflection, err := g.translator.Reflect(ctx, newPlan.Goal, trail)
		if err != nil {
			return Result{}, fmt.Errorf("goalloop: reflect: %w", err)
		}

		if reflection.Achieved && reflection.Confidence >= 0.7 {
			return Result{Outcome: OutcomeComplete, Iterations: iteration + 1, Observations: trail, LastReflection: reflection}, nil
		}

		if newPlan.Goal == lastGoal && reflection.Confidence < 0.4 {
			stuckCount++
		} else {
			stuckCount = 0
		}
		lastGoal = newPlan.Goal

		if stuckCount >= g.cfg.StuckThreshold {
			ok, askErr := g.ask(ctx, interact, "this goal may be stuck; continue anyway?")
			if askErr != nil {
				return Result{}, askErr
			}
			if !ok {
				return Result{Outcome: OutcomeAbortedByUser, Iterations: iteration + 1, Observations: trail, LastReflection: reflection}, nil
			}
			stuckCount = 0
		}

		iteration++
		if iteration > 0 && iteration%g.cfg.BatchSize == 0 {
			batchesCompleted++
			ok, askErr := g.ask(ctx, interact, fmt.Sprintf("batch %d complete (%d iterations); continue?", batchesCompleted, iteration))
			if askErr != nil {
				return Result{}, askErr
			}
			if !ok {
				return Result{Outcome: OutcomeAbortedByUser, Iterations: iteration, Observations: trail, LastReflection: reflection}, nil
			}
		}
	}
}

func (g *GoalLoop) ask(ctx context.Context, interact planner.Interact, prompt string) (bool, error) {
	if interact == nil {
		return false, nil
	}
	return interact(ctx, prompt)
}

func (g *GoalLoop) augmentedPrompt(goal string, trail []ObservationEntry) string {
	if len(trail) == 0 {
		return goal
	}
	var b strings.Builder
	b.WriteString(goal)
	b.WriteString("\n\nObservations so far:\n")
	for _, e := range trail {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func appendObservations(trail []ObservationEntry, plan ir.IntentIR, observations []ir.Observation) []ObservationEntry {
	for _, obs := range observations {
		if obs.StepRef < 0 || obs.StepRef >= len(plan.Steps) {
			continue
		}
		step := plan.Steps[obs.StepRef]
		trail = append(trail, ObservationEntry{
			Tool:            step.Tool,
			Action:          step.Action,
			ArgsDigest:      obs.ArgsDigest,
			TruncatedStdout: obs.TruncatedStdout,
		})
	}
	return trail
}

// trimTrail implements spec.md §4.8 "Observation trimming": once the
// trail exceeds maxTrailEntries, keep the first ("anchor") entry and the
// most recent trimKeep entries.
func trimTrail(trail []ObservationEntry) []ObservationEntry {
	if len(trail) <= maxTrailEntries {
		return trail
	}
	out := make([]ObservationEntry, 0, trimKeep+1)
	out = append(out, trail[0])
	out = append(out, trail[len(trail)-trimKeep:]...)
	return out
}

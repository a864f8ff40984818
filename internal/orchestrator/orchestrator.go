// Package orchestrator is the public entry point binding AuditLog,
// ActionLedger, FailureStore, ResilienceKit, IntentCache, DependencyAnalyzer,
// StepExecutor, Planner, and GoalLoop to a Session, plus the
// direct/iterative autodetect heuristic that picks between them.
//
// A Session owns its live singletons exclusively, the same
// single-struct-holds-mutable-state pattern internal/goalloop uses.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Guillhermm/zenus-os-sub000/internal/audit"
	"github.com/Guillhermm/zenus-os-sub000/internal/cache"
	"github.com/Guillhermm/zenus-os-sub000/internal/config"
	"github.com/Guillhermm/zenus-os-sub000/internal/errkind"
	"github.com/Guillhermm/zenus-os-sub000/internal/failurestore"
	"github.com/Guillhermm/zenus-os-sub000/internal/goalloop"
	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
	"github.com/Guillhermm/zenus-os-sub000/internal/ledger"
	"github.com/Guillhermm/zenus-os-sub000/internal/planner"
	"github.com/Guillhermm/zenus-os-sub000/internal/resilience"
	"github.com/Guillhermm/zenus-os-sub000/internal/telemetry"
)

// Translator is the narrow NL→IR contract a Session drives, identical to
// goalloop.Translator; the Orchestrator's direct-execute path calls
// Translate once, GoalLoop calls both Translate and Reflect repeatedly.
type Translator = goalloop.Translator

// Mode names which top-level strategy Execute chose.
type Mode string

const (
	ModeDirect    Mode = "direct"
	ModeIterative Mode = "iterative"
)

// ExitCode is the CLI-front-end exit code contract, surfaced here so any
// enclosing shell/TUI can map a Session result to a process exit status
// without re-deriving the taxonomy.
type ExitCode int

const (
	ExitSuccess             ExitCode = 0
	ExitGenericFailure      ExitCode = 1
	ExitSchemaValidation    ExitCode = 2
	ExitCancellation        ExitCode = 3
	ExitRollbackNotFeasible ExitCode = 4
	ExitCircuitOrBudget     ExitCode = 5
)

// ExecutionResult is the outcome of Session.Execute / ExecuteIterative.
type ExecutionResult struct {
	Mode            Mode
	TxnID           string
	AutodetectScore int
	// PlannerStatus / Observations are populated for ModeDirect.
	PlannerStatus planner.Status
	Observations  []ir.Observation
	// GoalLoopOutcome / Iterations / Reflection are populated for ModeIterative.
	GoalLoopOutcome goalloop.Outcome
	Iterations      int
	Reflection      ir.ReflectionResult
	ExitCode        ExitCode
}

// ExecuteOptions tunes one Execute call.
type ExecuteOptions struct {
	// ForceIterative skips the autodetect heuristic and always runs GoalLoop.
	ForceIterative bool
	// ForceDirect skips the heuristic and always runs a single Planner pass.
	ForceDirect bool
	// MaxIterations overrides the GoalLoop's configured MaxIterations for
	// this call only, when non-zero.
	MaxIterations int
}

// Deps are the external collaborators and singletons a Session binds
// together. AuditLog, Ledger, Failures, and Cache are process-singleton
// collaborators shared by reference across Sessions.
type Deps struct {
	Translator Translator
	Executor   planner.Executor
	AuditLog   *audit.Log
	Ledger     *ledger.Ledger
	Failures   failurestore.Store
	Cache      *cache.IntentCache
	Config     *config.Provider
	Logger     telemetry.Logger
	// Interact surfaces a yes/no confirmation prompt to the session's user,
	// for confirmation gates and GoalLoop's stuck/batch checkpoints. nil
	// denies every gated prompt rather than blocking — the interactive
	// shell/TUI chrome that would normally answer it lives outside this
	// package.
	Interact planner.Interact
	// Kits lists every resilience.Kit this session's outbound calls are
	// wrapped in (llm.Translator's kit, and one per external tool that uses
	// its own breaker/budget), surfaced read-only through Health.
	Kits []*resilience.Kit
}

// Session is the bounded-lifetime object owning one Orchestrator run. Only
// one Execute/ExecuteIterative may run at a time on a given Session;
// multiple Sessions may run concurrently in the same process, each with its
// own Planner and GoalLoop, sharing the Deps singletons by reference.
type Session struct {
	deps     Deps
	planner  *planner.Planner
	goalLoop *goalloop.GoalLoop

	mu          sync.Mutex
	activeTxnID string
}

// Open constructs a Session, initializing every singleton it drives from a
// config snapshot.
func Open(deps Deps) (*Session, error) {
	if deps.Translator == nil {
		return nil, fmt.Errorf("orchestrator: translator is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("orchestrator: executor is required")
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}
	cfg := config.Default()
	if deps.Config != nil {
		cfg = deps.Config.Snapshot()
	}

	p := planner.New(deps.Executor,
		planner.WithWorkerPool(cfg.Planner.WorkerPool),
		planner.WithFailureStore(deps.Failures),
		planner.WithLogger(deps.Logger),
	)
	gl := goalloop.New(deps.Translator, p,
		goalloop.WithConfig(goalloop.Config{
			MaxIterations:  cfg.GoalLoop.MaxIterations,
			BatchSize:      cfg.GoalLoop.BatchSize,
			StuckThreshold: cfg.GoalLoop.StuckThreshold,
		}),
		goalloop.WithLogger(deps.Logger),
	)

	return &Session{deps: deps, planner: p, goalLoop: gl}, nil
}

// Execute runs translate-then-plan for input, autodetecting GoalLoop vs. a
// single Planner pass unless opts forces one or the other.
func (s *Session) Execute(ctx context.Context, input string, opts ExecuteOptions) (ExecutionResult, error) {
	score := autodetectScore(input)
	iterative := opts.ForceIterative || (!opts.ForceDirect && score >= iterativeThreshold)
	if iterative {
		return s.runIterative(ctx, input, score, opts.MaxIterations)
	}
	return s.runDirect(ctx, input, score)
}

// ExecuteIterative forces GoalLoop regardless of the autodetect heuristic.
func (s *Session) ExecuteIterative(ctx context.Context, input string, maxIterations int) (ExecutionResult, error) {
	return s.runIterative(ctx, input, autodetectScore(input), maxIterations)
}

func (s *Session) runDirect(ctx context.Context, input string, score int) (ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, err := s.openTransaction(ctx, input)
	if err != nil {
		return ExecutionResult{}, err
	}
	result := ExecutionResult{Mode: ModeDirect, TxnID: txn.TxnID, AutodetectScore: score}

	cacheKey := cache.Key(input, "")
	var plan *ir.IntentIR
	if s.deps.Cache != nil {
		plan, err = s.deps.Cache.GetOrCompute(ctx, cacheKey, func(ctx context.Context) (*ir.IntentIR, error) {
			got, terr := s.deps.Translator.Translate(ctx, input)
			return &got, terr
		})
	} else {
		var got ir.IntentIR
		got, err = s.deps.Translator.Translate(ctx, input)
		plan = &got
	}
	if err != nil {
		s.closeTransaction(ctx, txn, input, "", false)
		result.ExitCode = exitCodeForError(err)
		return result, fmt.Errorf("orchestrator: translate: %w", err)
	}

	pr, err := s.planner.Run(ctx, txn.TxnID, *plan, s.deps.Interact)
	if err != nil {
		s.closeTransaction(ctx, txn, input, plan.Goal, false)
		result.ExitCode = exitCodeForError(err)
		return result, fmt.Errorf("orchestrator: planner run: %w", err)
	}
	result.PlannerStatus = pr.Status
	result.Observations = pr.Observations

	success := pr.Status == planner.StatusCompleted
	s.closeTransaction(ctx, txn, input, plan.Goal, success)
	result.ExitCode = exitCodeForPlanner(pr.Status)
	return result, nil
}

func (s *Session) runIterative(ctx context.Context, input string, score, maxIterations int) (ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, err := s.openTransaction(ctx, input)
	if err != nil {
		return ExecutionResult{}, err
	}
	result := ExecutionResult{Mode: ModeIterative, TxnID: txn.TxnID, AutodetectScore: score}

	gl := s.goalLoop
	if maxIterations > 0 {
		cfg := config.Default()
		if s.deps.Config != nil {
			cfg = s.deps.Config.Snapshot()
		}
		gl = goalloop.New(s.deps.Translator, s.planner,
			goalloop.WithConfig(goalloop.Config{MaxIterations: maxIterations, BatchSize: cfg.GoalLoop.BatchSize, StuckThreshold: cfg.GoalLoop.StuckThreshold}),
			goalloop.WithLogger(s.deps.Logger),
		)
	}

	glResult, err := gl.Run(ctx, txn.TxnID, input, s.deps.Interact)
	if err != nil {
		s.closeTransaction(ctx, txn, input, input, false)
		result.ExitCode = exitCodeForError(err)
		return result, fmt.Errorf("orchestrator: goal loop: %w", err)
	}
	result.GoalLoopOutcome = glResult.Outcome
	result.Iterations = glResult.Iterations
	result.Reflection = glResult.LastReflection

	success := glResult.Outcome == goalloop.OutcomeComplete
	s.closeTransaction(ctx, txn, input, input, success)
	result.ExitCode = exitCodeForGoalLoop(glResult.Outcome)
	return result, nil
}

// RollbackReport is the outcome of Session.Rollback, combining
// ledger.RollbackSummary with the exit code it maps to.
type RollbackReport struct {
	ledger.RollbackSummary
	ExitCode ExitCode
}

// Rollback previews or executes the last n reversible actions' inverses,
// newest-first.
func (s *Session) Rollback(ctx context.Context, n int, dryRun bool) (RollbackReport, error) {
	if s.deps.Ledger == nil {
		return RollbackReport{ExitCode: ExitRollbackNotFeasible}, fmt.Errorf("orchestrator: no ledger configured, rollback is not feasible")
	}
	if dryRun {
		plan, err := s.deps.Ledger.Preview(ctx, n)
		if err != nil {
			return RollbackReport{ExitCode: ExitGenericFailure}, fmt.Errorf("orchestrator: preview rollback: %w", err)
		}
		summary := ledger.RollbackSummary{Attempted: len(plan)}
		for _, p := range plan {
			if p.Skipped {
				summary.Skipped = append(summary.Skipped, p.Record.ID)
			}
		}
		return RollbackReport{RollbackSummary: summary, ExitCode: ExitSuccess}, nil
	}
	summary, err := s.deps.Ledger.Rollback(ctx, n)
	if err != nil {
		return RollbackReport{RollbackSummary: summary, ExitCode: ExitRollbackNotFeasible}, fmt.Errorf("orchestrator: rollback: %w", err)
	}
	code := ExitSuccess
	if len(summary.Failed) > 0 {
		code = ExitRollbackNotFeasible
	}
	return RollbackReport{RollbackSummary: summary, ExitCode: code}, nil
}

// History returns every ActionRecord for txnID, oldest first. An empty
// txnID matches every transaction this Session's Ledger has recorded.
func (s *Session) History(ctx context.Context, txnID string) ([]ledger.ActionRecord, error) {
	if s.deps.Ledger == nil {
		return nil, nil
	}
	return s.deps.Ledger.History(ctx, txnID)
}

// HealthReport summarizes the live state of every resilience singleton a
// Session drives.
type HealthReport struct {
	Circuits []resilience.Snapshot
	Budgets  []resilience.BudgetSnapshot
	CacheLen int
}

// Health reports circuit breaker and retry budget state for every
// resilience.Kit in Deps.Kits, plus the IntentCache's current size.
func (s *Session) Health() HealthReport {
	var report HealthReport
	for _, kit := range s.deps.Kits {
		if kit == nil {
			continue
		}
		if kit.Breaker != nil {
			report.Circuits = append(report.Circuits, kit.Breaker.Snapshot())
		}
		if kit.Retry != nil {
			report.Budgets = append(report.Budgets, kit.Retry.Snapshot())
		}
	}
	if s.deps.Cache != nil {
		report.CacheLen = s.deps.Cache.Len()
	}
	return report
}

type openTxn struct {
	TxnID string
	txn   ledger.Transaction
	open  bool
}

func (s *Session) openTransaction(ctx context.Context, input string) (openTxn, error) {
	id := uuid.NewString()
	if s.deps.Ledger == nil {
		return openTxn{TxnID: id}, nil
	}
	txn, err := s.deps.Ledger.OpenTransaction(ctx, id, input, "")
	if err != nil {
		return openTxn{}, fmt.Errorf("orchestrator: open transaction: %w", err)
	}
	s.activeTxnID = id
	return openTxn{TxnID: id, txn: txn, open: true}, nil
}

// closeTransaction is called on every Execute/ExecuteIterative exit path —
// success, translation/planner/goal-loop error, or context cancellation —
// so no transaction is ever left open.
func (s *Session) closeTransaction(ctx context.Context, o openTxn, userInput, goal string, success bool) {
	s.activeTxnID = ""
	if s.deps.Ledger == nil || !o.open {
		return
	}
	status := ledger.TxnCompleted
	switch {
	case ctx.Err() != nil:
		status = ledger.TxnFailed
	case !success:
		status = ledger.TxnFailed
	}
	o.txn.Goal = goal
	if err := s.deps.Ledger.CloseTransaction(ctx, o.txn, status); err != nil {
		s.deps.Logger.Error(ctx, "orchestrator: close transaction failed", "txn_id", o.TxnID, "error", err.Error())
	}
}

func exitCodeForError(err error) ExitCode {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ExitCancellation
	}
	if c, ok := errkind.As(err); ok && (c.Kind == errkind.CircuitOpen || c.Kind == errkind.BudgetExhausted) {
		return ExitCircuitOrBudget
	}
	return ExitGenericFailure
}

func exitCodeForPlanner(status planner.Status) ExitCode {
	switch status {
	case planner.StatusCompleted:
		return ExitSuccess
	case planner.StatusDenied:
		return ExitGenericFailure
	default:
		return ExitGenericFailure
	}
}

func exitCodeForGoalLoop(outcome goalloop.Outcome) ExitCode {
	switch outcome {
	case goalloop.OutcomeComplete:
		return ExitSuccess
	case goalloop.OutcomeIncompleteMaxReached, goalloop.OutcomeIncompleteTranslationFail, goalloop.OutcomeAbortedByUser:
		return ExitGenericFailure
	default:
		return ExitGenericFailure
	}
}

// iterativeThreshold is spec.md §4.9's autodetect cutoff: "Choose iterative
// if score >= 2."
const iterativeThreshold = 2

var iterativeKeywordRes = compileWordBoundary([]string{"analyze", "understand", "improve", "refactor", "optimize", "organize by"})
var clauseSeparatorRes = compileWordBoundary([]string{"then", "after", "and"})
var directKeywordRes = compileWordBoundary([]string{"list", "show", "display", "status of"})

// compileWordBoundary compiles one \b-delimited regexp per keyword, so a
// keyword only matches whole words (or whole phrases, for multi-word
// entries like "organize by") rather than as a bare substring — "and" must
// not match inside "understand", nor "command".
func compileWordBoundary(keywords []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(keywords))
	for i, kw := range keywords {
		res[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
	}
	return res
}

func countMatches(lower string, res []*regexp.Regexp) int {
	count := 0
	for _, re := range res {
		count += len(re.FindAllString(lower, -1))
	}
	return count
}

// autodetectScore implements spec.md §4.9's heuristic exactly.
func autodetectScore(input string) int {
	lower := strings.ToLower(input)
	score := 0
	score += 3 * countMatches(lower, iterativeKeywordRes)
	score += countMatches(lower, clauseSeparatorRes)
	score -= 3 * countMatches(lower, directKeywordRes)
	if len(strings.Fields(input)) > 15 {
		score += 2
	}
	return score
}

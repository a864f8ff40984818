// Package executor implements StepExecutor (spec.md §4.2): it resolves a
// Step through the ToolRegistry, runs it under a timeout policy, streams
// its output, computes a rollback strategy for mutating operations, and
// records the result into AuditLog and (conditionally) ActionLedger.
//
// Grounded on runtime/toolregistry/executor/executor.go: a functional-
// options constructor (New/Option/With*), a struct of narrow collaborator
// interfaces, an OTel span per call with a rich attribute set, and — above
// all — the contract that failure never escapes as a raw Go error: every
// path, including an unknown tool, a validation failure, or a panic inside
// a handler, returns an ir.Observation the caller can inspect.
package executor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Guillhermm/zenus-os-sub000/internal/audit"
	"github.com/Guillhermm/zenus-os-sub000/internal/errkind"
	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
	"github.com/Guillhermm/zenus-os-sub000/internal/ledger"
	"github.com/Guillhermm/zenus-os-sub000/internal/resilience"
	"github.com/Guillhermm/zenus-os-sub000/internal/telemetry"
)

// longRunningClasses name tool classes that never receive the configured
// hard wall-clock timeout (spec.md §4.2): their own runtime — a package
// install, an image pull — is the real bound, and killing them mid-flight
// tends to leave a tool's own state half-written.
var longRunningClasses = map[string]bool{
	"pkg": true, "npm": true, "pip": true, "apt": true, "brew": true,
	"cargo": true, "go-mod": true, "docker": true, "container": true,
}

func isLongRunning(tool string) bool {
	return longRunningClasses[strings.ToLower(tool)]
}

// Option configures a StepExecutor (functional-options, matching the
// teacher's runtime/toolregistry/executor/executor.go With* pattern).
type Option func(*StepExecutor)

// WithDefaultTimeout overrides the default 60s step timeout applied to
// tools outside the long-running classes.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *StepExecutor) { e.defaultTimeout = d }
}

// WithAuditLog attaches the AuditLog every Execute call appends to.
func WithAuditLog(a *audit.Log) Option {
	return func(e *StepExecutor) { e.audit = a }
}

// WithLedger attaches the ActionLedger every successful mutating step
// (reversible or not) is recorded into.
func WithLedger(l *ledger.Ledger) Option {
	return func(e *StepExecutor) { e.ledger = l }
}

// WithRetryBudget overrides the RetryBudget a retriable-kind failure is
// resubmitted through (spec.md §4.7 "Recovery": "retried through
// RetryBudget (inside the StepExecutor)"). Pass nil to disable retries.
func WithRetryBudget(r *resilience.RetryBudget) Option {
	return func(e *StepExecutor) { e.retry = r }
}

// WithLogger overrides the structured logger (default: noop).
func WithLogger(l telemetry.Logger) Option {
	return func(e *StepExecutor) { e.logger = l }
}

// WithTracer overrides the span tracer (default: noop).
func WithTracer(t telemetry.Tracer) Option {
	return func(e *StepExecutor) { e.tracer = t }
}

// StepExecutor is the StepExecutor component (spec.md §4.2).
type StepExecutor struct {
	registry       ToolRegistry
	audit          *audit.Log
	ledger         *ledger.Ledger
	retry          *resilience.RetryBudget
	defaultTimeout time.Duration
	logger         telemetry.Logger
	tracer         telemetry.Tracer
}

// New constructs a StepExecutor over registry, applying opts over the
// defaults (60s timeout, a default RetryBudget, noop logger/tracer, no
// AuditLog/Ledger wiring — a caller that omits WithAuditLog/WithLedger
// gets a side-effect-free executor useful in tests).
func New(registry ToolRegistry, opts ...Option) *StepExecutor {
	e := &StepExecutor{
		registry:       registry,
		defaultTimeout: 60 * time.Second,
		retry:          resilience.NewRetryBudget("step-executor", resilience.DefaultRetryConfig()),
		logger:         telemetry.NewNoopLogger(),
		tracer:         telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one Step and returns its Observation. It never returns a
// non-nil error for an ordinary execution failure — errors are classified
// into the Observation's ErrorKind instead (spec.md §4.2, §7); the error
// return is reserved for AuditLog/Ledger plumbing failures the caller
// cannot recover from by inspecting the Observation alone. Satisfies
// ledger.Executor, closing the loop that lets Rollback replay inverse
// Steps through this same component.
func (e *StepExecutor) Execute(ctx context.Context, step ir.Step) (ir.Observation, error) {
	return e.ExecuteStep(ctx, "", 0, step)
}

// ExecuteStep is Execute with the txn/step-index context AuditLog and
// ActionLedger records need. Orchestrator/Planner call this form; Rollback
// calls the narrower Execute via the ledger.Executor interface.
func (e *StepExecutor) ExecuteStep(ctx context.Context, txnID string, stepRef int, step ir.Step) (ir.Observation, error) {
	ctx, span := e.tracer.Start(ctx, "executor.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tool", step.Tool),
			attribute.String("action", step.Action),
			attribute.Int("risk", int(step.Risk)),
			attribute.String("txn_id", txnID),
		),
	)
	defer span.End()

	start := time.Now()
	obs, rollback := e.run(ctx, stepRef, step, start)

	if obs.Outcome == ir.OutcomeFailed {
		span.SetStatus(codes.Error, string(obs.ErrorKind))
		e.logger.Error(ctx, "step failed",
			"txn_id", txnID, "tool", step.Tool, "action", step.Action,
			"error_kind", string(obs.ErrorKind), "stderr", obs.Stderr)
	} else {
		span.SetStatus(codes.Ok, "")
		e.logger.Debug(ctx, "step ok", "txn_id", txnID, "tool", step.Tool, "action", step.Action)
	}

	e.appendAudit(ctx, txnID, step, obs)
	if step.Risk != ir.RiskReadOnly {
		e.recordLedger(ctx, txnID, stepRef, step, obs, rollback)
	}
	return obs, nil
}

// run resolves and invokes the handler, retrying through the RetryBudget
// on a retriable error kind (spec.md §4.7 "Recovery"), and translates every
// failure mode (unknown tool, timeout, handler error, handler panic,
// retries exhausted) into a classified Observation. The second return
// value is the zero RollbackInfo unless the step ultimately succeeded and
// the handler reported one.
func (e *StepExecutor) run(ctx context.Context, stepRef int, step ir.Step, start time.Time) (ir.Observation, RollbackInfo) {
	base := ir.Observation{
		StepRef:    stepRef,
		ArgsDigest: ir.ArgsDigest(step.Args),
	}

	handler, ok := e.registry.Resolve(step.Tool)
	if !ok {
		return e.fail(base, start, errkind.Schema, "", fmt.Sprintf("unknown tool %q", step.Tool)), RollbackInfo{}
	}

	var (
		rollback   RollbackInfo
		stdoutTail string
		stderrFull string
	)
	attempt := func(ctx context.Context) error {
		timeout := e.defaultTimeout
		if isLongRunning(step.Tool) {
			timeout = 0
		}
		runCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		stdout := newTailWriter(ir.MaxTruncatedStdout)
		stderr := newFullWriter()

		rb, err := e.invokeSafely(runCtx, handler, step, stdout, stderr)
		stdoutTail = stdout.String()
		stderrFull = stderr.String()
		if err != nil {
			if runCtx.Err() != nil && errkind.Classify(err) != errkind.Fatal {
				return errkind.Wrap(errkind.Timeout, "step exceeded timeout", err)
			}
			return err
		}
		rollback = rb
		return nil
	}

	var err error
	if e.retry != nil {
		err = e.retry.Do(ctx, attempt)
	} else {
		err = attempt(ctx)
	}
	if err != nil {
		return e.fail(base, start, errkind.Classify(err), stdoutTail, err.Error()), RollbackInfo{}
	}

	base.Outcome = ir.OutcomeOK
	base.TruncatedStdout = stdoutTail
	base.Stderr = stderrFull
	base.ElapsedMs = time.Since(start).Milliseconds()
	return base, rollback
}

// invokeSafely recovers a panicking ToolHandler into a classified error —
// tool implementations are untrusted collaborators reached through the
// ToolRegistry contract, not code this package controls.
func (e *StepExecutor) invokeSafely(ctx context.Context, h ToolHandler, step ir.Step, stdout, stderr io.Writer) (info RollbackInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errkind.New(errkind.Fatal, fmt.Sprintf("tool handler panicked: %v", r))
		}
	}()
	return h.Invoke(ctx, step.Action, step.Args, stdout, stderr)
}

func (e *StepExecutor) fail(base ir.Observation, start time.Time, kind errkind.Kind, stdoutTail, stderr string) ir.Observation {
	base.Outcome = ir.OutcomeFailed
	base.ErrorKind = kind
	base.TruncatedStdout = stdoutTail
	base.Stderr = stderr
	base.ElapsedMs = time.Since(start).Milliseconds()
	return base
}

func (e *StepExecutor) appendAudit(ctx context.Context, txnID string, step ir.Step, obs ir.Observation) {
	if e.audit == nil {
		return
	}
	rec := audit.Record{
		TxnID:      txnID,
		Tool:       step.Tool,
		Action:     step.Action,
		Args:       step.Args,
		Outcome:    string(obs.Outcome),
		ErrorKind:  obs.ErrorKind,
		StdoutTail: obs.TruncatedStdout,
		Stderr:     obs.Stderr,
		ElapsedMs:  obs.ElapsedMs,
	}
	if _, err := e.audit.Append(ctx, rec); err != nil {
		e.logger.Error(ctx, "audit append failed", "txn_id", txnID, "tool", step.Tool, "error", err.Error())
	}
}

// recordLedger appends an ActionRecord for every mutating step, reversible
// or not (spec.md §4.4's record policy: reversible=false operations are
// still recorded, so the ledger's History shows that an irreversible
// mutation already happened, while Rollback/Preview, which read only
// reversible records, leave them out; only read-only steps never produce a
// record — enforced by the caller checking step.Risk before calling this).
func (e *StepExecutor) recordLedger(ctx context.Context, txnID string, stepRef int, step ir.Step, obs ir.Observation, rollback RollbackInfo) {
	if e.ledger == nil || obs.Outcome != ir.OutcomeOK {
		return
	}
	strategy := ledger.RollbackStrategy{
		Kind:        ledger.StrategyKind(rollback.StrategyKind),
		Path:        rollback.Path,
		BackupPath:  rollback.BackupPath,
		From:        rollback.From,
		To:          rollback.To,
		Pkg:         rollback.Pkg,
		Hash:        rollback.Hash,
		Name:        rollback.Name,
		ContainerID: rollback.ContainerID,
	}
	if strategy.Kind == "" {
		strategy.Kind = ledger.StrategyNone
	}
	reversible := rollback.Reversible && strategy.Kind != ledger.StrategyNone
	if _, err := e.ledger.Record(ctx, ledger.RecordParams{
		TxnID:            txnID,
		StepIndex:        stepRef,
		Tool:             step.Tool,
		Action:           step.Action,
		Args:             step.Args,
		Result:           obs.TruncatedStdout,
		Reversible:       reversible,
		RollbackStrategy: strategy,
	}); err != nil {
		e.logger.Error(ctx, "ledger record failed", "txn_id", txnID, "tool", step.Tool, "error", err.Error())
	}
}

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
	"github.com/Guillhermm/zenus-os-sub000/internal/telemetry"
)

// Executor runs a single inverse Step through the StepExecutor. ActionLedger
// depends on this narrow interface rather than importing internal/executor
// directly, keeping rollback decoupled from how steps are actually invoked.
type Executor interface {
	Execute(ctx context.Context, step ir.Step) (ir.Observation, error)
}

// Ledger is ActionLedger (spec.md §4.4): it records reversible operations
// and drives rollback/preview over a Repository.
type Ledger struct {
	repo     Repository
	executor Executor
	logger   telemetry.Logger
}

// New constructs a Ledger over repo, using executor to run inverse Steps.
func New(repo Repository, executor Executor, logger telemetry.Logger) *Ledger {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Ledger{repo: repo, executor: executor, logger: logger}
}

// RecordParams is the input to Record.
type RecordParams struct {
	TxnID            string
	StepIndex        int
	Tool             string
	Action           string
	Args             map[string]any
	Result           string
	Reversible       bool
	RollbackStrategy RollbackStrategy
}

// Record appends a new ActionRecord (spec.md §4.4 "Record policy": only
// reversible=true operations contribute rollback steps; reads never
// produce records — callers are responsible for not calling Record for
// read-only steps).
func (l *Ledger) Record(ctx context.Context, p RecordParams) (ActionRecord, error) {
	id, err := l.repo.NextID(ctx)
	if err != nil {
		return ActionRecord{}, fmt.Errorf("ledger: next id: %w", err)
	}
	rec := ActionRecord{
		ID:               id,
		TxnID:            p.TxnID,
		StepIndex:        p.StepIndex,
		Timestamp:        time.Now(),
		Tool:             p.Tool,
		Action:           p.Action,
		Args:             p.Args,
		Result:           p.Result,
		Reversible:       p.Reversible,
		RollbackStrategy: p.RollbackStrategy,
	}
	if err := l.repo.Append(ctx, rec); err != nil {
		return ActionRecord{}, fmt.Errorf("ledger: append: %w", err)
	}
	l.logger.Debug(ctx, "action recorded", "id", id, "txn_id", p.TxnID, "tool", p.Tool, "action", p.Action, "reversible", p.Reversible)
	return rec, nil
}

// PlannedInverse is one entry of a rollback preview (spec.md §4.4
// "Feasibility check").
type PlannedInverse struct {
	Record  ActionRecord
	Inverse InverseStep
	// Skipped is true when Record's strategy is StrategyNone or otherwise
	// has no computable inverse.
	Skipped bool
}

// Preview returns the ordered list of planned inverse operations for the
// last n reversible, not-yet-rolled-back records (across any transaction),
// without executing them. Required before any interactive rollback
// (spec.md §4.4).
func (l *Ledger) Preview(ctx context.Context, n int) ([]PlannedInverse, error) {
	return l.previewFor(ctx, "", n)
}

// PreviewTransaction previews rolling back every reversible record in txnID.
func (l *Ledger) PreviewTransaction(ctx context.Context, txnID string) ([]PlannedInverse, error) {
	return l.previewFor(ctx, txnID, 0)
}

func (l *Ledger) previewFor(ctx context.Context, txnID string, n int) ([]PlannedInverse, error) {
	recs, err := l.repo.LastReversible(ctx, txnID, n)
	if err != nil {
		return nil, fmt.Errorf("ledger: preview: %w", err)
	}
	out := make([]PlannedInverse, 0, len(recs))
	for _, rec := range recs {
		inv, ok := inverseStepFor(rec.Tool, rec.RollbackStrategy)
		out = append(out, PlannedInverse{Record: rec, Inverse: inv, Skipped: !ok})
	}
	return out, nil
}

// RollbackSummary reports the outcome of a Rollback call.
type RollbackSummary struct {
	Attempted int
	Succeeded []int64
	Failed    []int64
	Skipped   []int64
}

// Rollback executes spec.md §4.4's rollback(n) sequence: read the last n
// reversible, not-rolled-back records newest-first; for each, run its
// inverse through the Executor (not recorded as a new reversible record —
// the original is marked rolled_back=true instead); continue on partial
// failure; strategy "none" is skipped and reported.
func (l *Ledger) Rollback(ctx context.Context, n int) (RollbackSummary, error) {
	return l.rollback(ctx, "", n)
}

// RollbackTransaction rolls back every reversible record in txnID,
// newest-first (spec.md §4.4 "Transactions").
func (l *Ledger) RollbackTransaction(ctx context.Context, txnID string) (RollbackSummary, error) {
	return l.rollback(ctx, txnID, 0)
}

func (l *Ledger) rollback(ctx context.Context, txnID string, n int) (RollbackSummary, error) {
	plan, err := l.previewFor(ctx, txnID, n)
	if err != nil {
		return RollbackSummary{}, err
	}

	var summary RollbackSummary
	for _, p := range plan {
		summary.Attempted++

		select {
		case <-ctx.Done():
			// Cancellation is honored between individual inverse
			// operations, never mid-operation (spec.md §5 "Cancellation").
			return summary, ctx.Err()
		default:
		}

		if p.Skipped {
			summary.Skipped = append(summary.Skipped, p.Record.ID)
			l.logger.Warn(ctx, "rollback strategy none, skipping", "id", p.Record.ID)
			continue
		}

		step := ir.Step{Tool: p.Inverse.Tool, Action: p.Inverse.Action, Args: p.Inverse.Args, Risk: ir.RiskModify}
		obs, err := l.executor.Execute(ctx, step)
		if err != nil || obs.Outcome != ir.OutcomeOK {
			summary.Failed = append(summary.Failed, p.Record.ID)
			l.logger.Warn(ctx, "rollback inverse failed", "id", p.Record.ID, "error", fmt.Sprint(err))
			continue
		}

		if err := l.repo.MarkRolledBack(ctx, p.Record.ID); err != nil {
			summary.Failed = append(summary.Failed, p.Record.ID)
			continue
		}
		summary.Succeeded = append(summary.Succeeded, p.Record.ID)
	}
	return summary, nil
}

// OpenTransaction upserts a new in_progress Transaction (spec.md §3).
func (l *Ledger) OpenTransaction(ctx context.Context, id, userInput, goal string) (Transaction, error) {
	txn := Transaction{ID: id, Start: time.Now(), UserInput: userInput, Goal: goal, Status: TxnInProgress}
	if err := l.repo.UpsertTransaction(ctx, txn); err != nil {
		return Transaction{}, fmt.Errorf("ledger: open transaction: %w", err)
	}
	return txn, nil
}

// CloseTransaction sets a Transaction's terminal status and end time.
func (l *Ledger) CloseTransaction(ctx context.Context, txn Transaction, status TxnStatus) error {
	txn.End = time.Now()
	txn.Status = status
	return l.repo.UpsertTransaction(ctx, txn)
}

// History returns every ActionRecord for txnID (empty matches any
// transaction), oldest first (spec.md §6: "session.history(filter)").
func (l *Ledger) History(ctx context.Context, txnID string) ([]ActionRecord, error) {
	return l.repo.Records(ctx, txnID)
}

// Close releases the underlying Repository's resources.
func (l *Ledger) Close(ctx context.Context) error {
	return l.repo.Close(ctx)
}

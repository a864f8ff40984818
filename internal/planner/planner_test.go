package planner_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guillhermm/zenus-os-sub000/internal/errkind"
	"github.com/Guillhermm/zenus-os-sub000/internal/failurestore"
	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
	"github.com/Guillhermm/zenus-os-sub000/internal/planner"
)

type fakeExecutor struct {
	mu      sync.Mutex
	byTool  map[string]func(step ir.Step) (ir.Observation, error)
	inFlight int
	maxInFlight int
}

func (e *fakeExecutor) ExecuteStep(ctx context.Context, txnID string, stepRef int, step ir.Step) (ir.Observation, error) {
	e.mu.Lock()
	e.inFlight++
	if e.inFlight > e.maxInFlight {
		e.maxInFlight = e.inFlight
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}()

	time.Sleep(time.Millisecond)
	fn, ok := e.byTool[step.Tool]
	if !ok {
		return ir.Observation{StepRef: stepRef, Outcome: ir.OutcomeOK}, nil
	}
	obs, err := fn(step)
	obs.StepRef = stepRef
	return obs, err
}

func TestRunDispatchesIndependentStepsConcurrently(t *testing.T) {
	exec := &fakeExecutor{byTool: map[string]func(ir.Step) (ir.Observation, error){}}
	p := planner.New(exec, planner.WithWorkerPool(4))

	plan := ir.IntentIR{
		Goal: "write three files",
		Steps: []ir.Step{
			{Tool: "fs", Action: "write", Risk: ir.RiskModify, Args: map[string]any{"path": "/tmp/a"}},
			{Tool: "fs", Action: "write", Risk: ir.RiskModify, Args: map[string]any{"path": "/tmp/b"}},
			{Tool: "fs", Action: "write", Risk: ir.RiskModify, Args: map[string]any{"path": "/tmp/c"}},
		},
	}
	result, err := p.Run(context.Background(), "txn-1", plan, nil)
	require.NoError(t, err)
	assert.Equal(t, planner.StatusCompleted, result.Status)
	assert.Greater(t, exec.maxInFlight, 1)
}

func TestRunSerializesConflictingWrites(t *testing.T) {
	exec := &fakeExecutor{byTool: map[string]func(ir.Step) (ir.Observation, error){}}
	p := planner.New(exec, planner.WithWorkerPool(4))

	plan := ir.IntentIR{
		Steps: []ir.Step{
			{Tool: "fs", Action: "write", Risk: ir.RiskModify, Args: map[string]any{"path": "/tmp/shared"}},
			{Tool: "fs", Action: "write", Risk: ir.RiskModify, Args: map[string]any{"path": "/tmp/shared"}},
		},
	}
	result, err := p.Run(context.Background(), "txn-1", plan, nil)
	require.NoError(t, err)
	assert.Equal(t, planner.StatusCompleted, result.Status)
	assert.Equal(t, 1, exec.maxInFlight)
}

func TestRunAbortsRemainingLevelsOnFatalFailure(t *testing.T) {
	exec := &fakeExecutor{byTool: map[string]func(ir.Step) (ir.Observation, error){
		"vcs": func(step ir.Step) (ir.Observation, error) {
			return ir.Observation{Outcome: ir.OutcomeFailed, ErrorKind: errkind.Fatal}, nil
		},
	}}
	p := planner.New(exec)

	plan := ir.IntentIR{
		Steps: []ir.Step{
			{Tool: "vcs", Action: "commit", Risk: ir.RiskModify, Args: map[string]any{"path": "/tmp/repo"}},
			{Tool: "fs", Action: "write", Risk: ir.RiskModify, Args: map[string]any{"path": "/tmp/repo"}},
		},
	}
	result, err := p.Run(context.Background(), "txn-1", plan, nil)
	require.NoError(t, err)
	assert.Equal(t, planner.StatusAborted, result.Status)
	assert.Equal(t, ir.Outcome(""), result.Observations[1].Outcome) // untouched, zero value
}

func TestRunRecordsNonRetriableFailureIntoFailureStore(t *testing.T) {
	exec := &fakeExecutor{byTool: map[string]func(ir.Step) (ir.Observation, error){
		"fs": func(step ir.Step) (ir.Observation, error) {
			return ir.Observation{Outcome: ir.OutcomeFailed, ErrorKind: errkind.Permission, Stderr: "permission denied"}, nil
		},
	}}
	store := failurestore.NewMemStore(nil)
	p := planner.New(exec, planner.WithFailureStore(store))

	plan := ir.IntentIR{
		Steps: []ir.Step{{Tool: "fs", Action: "write", Risk: ir.RiskModify, Args: map[string]any{"path": "/etc/shadow"}}},
	}
	_, err := p.Run(context.Background(), "txn-1", plan, nil)
	require.NoError(t, err)

	recs, err := store.Similar(context.Background(), "fs", "write "+ir.ArgsDigest(plan.Steps[0].Args))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, errkind.Permission, recs[0].ErrorKind)
}

func TestRunDeniesLowProbabilityRiskyPlanWithoutInteract(t *testing.T) {
	store := failurestore.NewMemStore(nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = store.RecordFailure(ctx, "pkg", "install "+ir.ArgsDigest(map[string]any{"pkg": "left-pad"}), "network unreachable", errkind.Transient)
	}
	exec := &fakeExecutor{byTool: map[string]func(ir.Step) (ir.Observation, error){}}
	p := planner.New(exec, planner.WithFailureStore(store))

	plan := ir.IntentIR{
		RequiresConfirmation: true,
		Steps:                []ir.Step{{Tool: "pkg", Action: "install", Risk: ir.RiskSignificant, Args: map[string]any{"pkg": "left-pad"}}},
	}
	result, err := p.Run(ctx, "txn-1", plan, nil)
	require.NoError(t, err)
	assert.Equal(t, planner.StatusDenied, result.Status)
}

func TestRunProceedsWhenInteractApproves(t *testing.T) {
	store := failurestore.NewMemStore(nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = store.RecordFailure(ctx, "pkg", "install "+ir.ArgsDigest(map[string]any{"pkg": "left-pad"}), "network unreachable", errkind.Transient)
	}
	exec := &fakeExecutor{byTool: map[string]func(ir.Step) (ir.Observation, error){}}
	p := planner.New(exec, planner.WithFailureStore(store))

	plan := ir.IntentIR{
		RequiresConfirmation: true,
		Steps:                []ir.Step{{Tool: "pkg", Action: "install", Risk: ir.RiskSignificant, Args: map[string]any{"pkg": "left-pad"}}},
	}
	approved := func(ctx context.Context, prompt string) (bool, error) { return true, nil }
	result, err := p.Run(ctx, "txn-1", plan, approved)
	require.NoError(t, err)
	assert.Equal(t, planner.StatusCompleted, result.Status)
}

package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guillhermm/zenus-os-sub000/internal/errkind"
	"github.com/Guillhermm/zenus-os-sub000/internal/goalloop"
	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
	"github.com/Guillhermm/zenus-os-sub000/internal/orchestrator"
	"github.com/Guillhermm/zenus-os-sub000/internal/planner"
)

type fakeTranslator struct {
	plan ir.IntentIR
	err  error
}

func (f *fakeTranslator) Translate(ctx context.Context, prompt string) (ir.IntentIR, error) {
	return f.plan, f.err
}

func (f *fakeTranslator) Reflect(ctx context.Context, goal string, trail []goalloop.ObservationEntry) (ir.ReflectionResult, error) {
	return ir.ReflectionResult{Achieved: true, Confidence: 1, Reasoning: "stub"}, nil
}

type fakeExecutor struct{}

func (fakeExecutor) ExecuteStep(ctx context.Context, txnID string, stepRef int, step ir.Step) (ir.Observation, error) {
	return ir.Observation{StepRef: stepRef, Outcome: ir.OutcomeOK}, nil
}

func TestAutodetectScoresViaExecute(t *testing.T) {
	plan := ir.IntentIR{Goal: "list files", Steps: []ir.Step{{Tool: "fs", Action: "list", Risk: ir.RiskReadOnly}}}
	sess, err := orchestrator.Open(orchestrator.Deps{
		Translator: &fakeTranslator{plan: plan},
		Executor:   fakeExecutor{},
	})
	require.NoError(t, err)

	result, err := sess.Execute(context.Background(), "list the files in /tmp", orchestrator.ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ModeDirect, result.Mode)
	assert.Equal(t, orchestrator.ExitSuccess, result.ExitCode)
	assert.Equal(t, planner.StatusCompleted, result.PlannerStatus)
}

func TestExecuteForceIterativeRunsGoalLoop(t *testing.T) {
	plan := ir.IntentIR{Goal: "x", Steps: nil}
	sess, err := orchestrator.Open(orchestrator.Deps{
		Translator: &fakeTranslator{plan: plan},
		Executor:   fakeExecutor{},
	})
	require.NoError(t, err)

	result, err := sess.Execute(context.Background(), "list files", orchestrator.ExecuteOptions{ForceIterative: true})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ModeIterative, result.Mode)
}

func TestRollbackWithoutLedgerIsNotFeasible(t *testing.T) {
	sess, err := orchestrator.Open(orchestrator.Deps{
		Translator: &fakeTranslator{},
		Executor:   fakeExecutor{},
	})
	require.NoError(t, err)

	report, err := sess.Rollback(context.Background(), 1, false)
	require.Error(t, err)
	assert.Equal(t, orchestrator.ExitRollbackNotFeasible, report.ExitCode)
}

func TestExecuteDirectReturnsCircuitOrBudgetExitCodeOnCircuitOpen(t *testing.T) {
	sess, err := orchestrator.Open(orchestrator.Deps{
		Translator: &fakeTranslator{err: errkind.New(errkind.CircuitOpen, "provider breaker open")},
		Executor:   fakeExecutor{},
	})
	require.NoError(t, err)

	result, err := sess.Execute(context.Background(), "list the files in /tmp", orchestrator.ExecuteOptions{ForceDirect: true})
	require.Error(t, err)
	assert.Equal(t, orchestrator.ExitCircuitOrBudget, result.ExitCode)
}

func TestExecuteDirectReturnsCircuitOrBudgetExitCodeOnBudgetExhausted(t *testing.T) {
	sess, err := orchestrator.Open(orchestrator.Deps{
		Translator: &fakeTranslator{err: errkind.New(errkind.BudgetExhausted, "retry budget exhausted")},
		Executor:   fakeExecutor{},
	})
	require.NoError(t, err)

	result, err := sess.Execute(context.Background(), "list the files in /tmp", orchestrator.ExecuteOptions{ForceDirect: true})
	require.Error(t, err)
	assert.Equal(t, orchestrator.ExitCircuitOrBudget, result.ExitCode)
}

func TestHealthWithNoKitsReturnsEmptyReport(t *testing.T) {
	sess, err := orchestrator.Open(orchestrator.Deps{
		Translator: &fakeTranslator{},
		Executor:   fakeExecutor{},
	})
	require.NoError(t, err)

	report := sess.Health()
	assert.Empty(t, report.Circuits)
	assert.Empty(t, report.Budgets)
}

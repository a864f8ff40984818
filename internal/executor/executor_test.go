package executor_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guillhermm/zenus-os-sub000/internal/audit"
	"github.com/Guillhermm/zenus-os-sub000/internal/errkind"
	"github.com/Guillhermm/zenus-os-sub000/internal/executor"
	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
	"github.com/Guillhermm/zenus-os-sub000/internal/ledger"
	"github.com/Guillhermm/zenus-os-sub000/internal/resilience"
)

type fakeHandler struct {
	rollback executor.RollbackInfo
	err      error
	writeOut string
	writeErr string
	sleep    time.Duration
	panics   bool
}

func (h fakeHandler) Invoke(ctx context.Context, action string, args map[string]any, stdout, stderr io.Writer) (executor.RollbackInfo, error) {
	if h.panics {
		panic("boom")
	}
	if h.writeOut != "" {
		_, _ = stdout.Write([]byte(h.writeOut))
	}
	if h.writeErr != "" {
		_, _ = stderr.Write([]byte(h.writeErr))
	}
	if h.sleep > 0 {
		select {
		case <-time.After(h.sleep):
		case <-ctx.Done():
			return executor.RollbackInfo{}, ctx.Err()
		}
	}
	return h.rollback, h.err
}

type fakeRegistry map[string]executor.ToolHandler

func (r fakeRegistry) Resolve(tool string) (executor.ToolHandler, bool) {
	h, ok := r[tool]
	return h, ok
}

func TestExecuteUnknownToolReturnsSchemaError(t *testing.T) {
	reg := fakeRegistry{}
	e := executor.New(reg)
	obs, err := e.Execute(context.Background(), ir.Step{Tool: "nope", Action: "do"})
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeFailed, obs.Outcome)
	assert.Equal(t, errkind.Schema, obs.ErrorKind)
}

func TestExecuteSucceedsAndTrimsStdoutTail(t *testing.T) {
	reg := fakeRegistry{"fs": fakeHandler{writeOut: "hello world", writeErr: ""}}
	e := executor.New(reg)
	obs, err := e.Execute(context.Background(), ir.Step{Tool: "fs", Action: "read"})
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeOK, obs.Outcome)
	assert.Equal(t, "hello world", obs.TruncatedStdout)
}

func TestExecuteClassifiesHandlerError(t *testing.T) {
	reg := fakeRegistry{"fs": fakeHandler{err: errors.New("permission denied for /etc/shadow")}}
	e := executor.New(reg)
	obs, err := e.Execute(context.Background(), ir.Step{Tool: "fs", Action: "write"})
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeFailed, obs.Outcome)
	assert.Equal(t, errkind.Permission, obs.ErrorKind)
}

func TestExecuteRecoversHandlerPanicAsFatal(t *testing.T) {
	reg := fakeRegistry{"fs": fakeHandler{panics: true}}
	e := executor.New(reg)
	obs, err := e.Execute(context.Background(), ir.Step{Tool: "fs", Action: "write"})
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeFailed, obs.Outcome)
	assert.Equal(t, errkind.Fatal, obs.ErrorKind)
}

func TestExecuteTimesOutDefaultTool(t *testing.T) {
	reg := fakeRegistry{"http": fakeHandler{sleep: 50 * time.Millisecond}}
	e := executor.New(reg, executor.WithDefaultTimeout(5*time.Millisecond), executor.WithRetryBudget(nil))
	obs, err := e.Execute(context.Background(), ir.Step{Tool: "http", Action: "get"})
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeFailed, obs.Outcome)
	assert.Equal(t, errkind.Timeout, obs.ErrorKind)
}

func TestExecuteDoesNotTimeoutLongRunningToolClass(t *testing.T) {
	reg := fakeRegistry{"npm": fakeHandler{sleep: 20 * time.Millisecond}}
	e := executor.New(reg, executor.WithDefaultTimeout(1*time.Millisecond))
	obs, err := e.Execute(context.Background(), ir.Step{Tool: "npm", Action: "install"})
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeOK, obs.Outcome)
}

type flakyHandler struct {
	failuresLeft int
}

func (h *flakyHandler) Invoke(ctx context.Context, action string, args map[string]any, stdout, stderr io.Writer) (executor.RollbackInfo, error) {
	if h.failuresLeft > 0 {
		h.failuresLeft--
		return executor.RollbackInfo{}, errors.New("connection reset by peer")
	}
	return executor.RollbackInfo{}, nil
}

func TestExecuteRetriesTransientFailureThenSucceeds(t *testing.T) {
	handler := &flakyHandler{failuresLeft: 2}
	reg := fakeRegistry{"net": handler}
	fastRetry := resilience.NewRetryBudget("test", resilience.RetryConfig{
		MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond,
		ExponentialBase: 2.0, Jitter: false, BudgetTotal: 10, WindowSeconds: 1,
	})
	e := executor.New(reg, executor.WithRetryBudget(fastRetry))
	obs, err := e.Execute(context.Background(), ir.Step{Tool: "net", Action: "fetch"})
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeOK, obs.Outcome)
	assert.Equal(t, 0, handler.failuresLeft)
}

func TestExecuteStepAppendsAuditRecord(t *testing.T) {
	dir := t.TempDir()
	log, err := audit.Open(dir, nil)
	require.NoError(t, err)
	defer log.Close()

	reg := fakeRegistry{"fs": fakeHandler{writeOut: "ok"}}
	e := executor.New(reg, executor.WithAuditLog(log))
	_, err = e.ExecuteStep(context.Background(), "txn-1", 0, ir.Step{Tool: "fs", Action: "read", Risk: ir.RiskReadOnly})
	require.NoError(t, err)

	var count int
	for range log.History(audit.Filter{TxnID: "txn-1"}) {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestExecuteStepRecordsReversibleLedgerEntryForMutatingStep(t *testing.T) {
	repo := ledger.NewMemRepository()
	l := ledger.New(repo, nil, nil)

	reg := fakeRegistry{"fs": fakeHandler{
		rollback: executor.RollbackInfo{Reversible: true, StrategyKind: "delete", Path: "/tmp/new"},
	}}
	e := executor.New(reg, executor.WithLedger(l))
	_, err := e.ExecuteStep(context.Background(), "txn-1", 0, ir.Step{Tool: "fs", Action: "create", Risk: ir.RiskModify, Args: map[string]any{"path": "/tmp/new"}})
	require.NoError(t, err)

	plan, err := l.Preview(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.False(t, plan[0].Skipped)
	assert.Equal(t, "delete", plan[0].Inverse.Action)
}

func TestExecuteStepSkipsLedgerForReadOnlyStep(t *testing.T) {
	repo := ledger.NewMemRepository()
	l := ledger.New(repo, nil, nil)

	reg := fakeRegistry{"fs": fakeHandler{writeOut: "ok"}}
	e := executor.New(reg, executor.WithLedger(l))
	_, err := e.ExecuteStep(context.Background(), "txn-1", 0, ir.Step{Tool: "fs", Action: "read", Risk: ir.RiskReadOnly})
	require.NoError(t, err)

	plan, err := l.Preview(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestExecuteStepRecordsIrreversibleWhenNoRollbackComputed(t *testing.T) {
	repo := ledger.NewMemRepository()
	l := ledger.New(repo, nil, nil)

	reg := fakeRegistry{"fs": fakeHandler{}}
	e := executor.New(reg, executor.WithLedger(l))
	_, err := e.ExecuteStep(context.Background(), "txn-1", 0, ir.Step{Tool: "fs", Action: "chmod", Risk: ir.RiskModify})
	require.NoError(t, err)

	recs, err := l.History(context.Background(), "txn-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Reversible)
	assert.Equal(t, ledger.StrategyNone, recs[0].RollbackStrategy.Kind)
}

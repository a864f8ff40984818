package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Guillhermm/zenus-os-sub000/internal/audit"
)

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	dir := t.TempDir()
	log, err := audit.Open(dir, nil)
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	r1, err := log.Append(ctx, audit.Record{TxnID: "t1", Tool: "FileOps", Action: "write_file", Outcome: "ok"})
	require.NoError(t, err)
	r2, err := log.Append(ctx, audit.Record{TxnID: "t1", Tool: "FileOps", Action: "mkdir", Outcome: "ok"})
	require.NoError(t, err)

	require.Equal(t, uint64(1), r1.Seq)
	require.Equal(t, uint64(2), r2.Seq)
}

func TestHistoryFiltersByTxn(t *testing.T) {
	dir := t.TempDir()
	log, err := audit.Open(dir, nil)
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	_, _ = log.Append(ctx, audit.Record{TxnID: "a", Tool: "X"})
	_, _ = log.Append(ctx, audit.Record{TxnID: "b", Tool: "Y"})
	_, _ = log.Append(ctx, audit.Record{TxnID: "a", Tool: "Z"})

	var tools []string
	for r := range log.History(audit.Filter{TxnID: "a"}) {
		tools = append(tools, r.Tool)
	}
	require.Equal(t, []string{"X", "Z"}, tools)
}

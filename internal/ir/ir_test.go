package ir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
)

func TestValidatorDecodeValid(t *testing.T) {
	v, err := ir.NewValidator()
	require.NoError(t, err)

	doc := []byte(`{"goal":"download files","requires_confirmation":false,"steps":[
		{"tool":"NetworkOps","action":"download","args":{"url":"https://example.com/a"},"risk":1}
	]}`)
	got, err := v.Decode(doc)
	require.NoError(t, err)
	assert.Equal(t, "download files", got.Goal)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, ir.RiskModify, got.Steps[0].Risk)
}

func TestValidatorDecodeRejectsMissingFields(t *testing.T) {
	v, err := ir.NewValidator()
	require.NoError(t, err)

	_, err = v.Decode([]byte(`{"goal":"x"}`))
	require.Error(t, err)
}

func TestValidatorDecodeRejectsBadRisk(t *testing.T) {
	v, err := ir.NewValidator()
	require.NoError(t, err)

	doc := []byte(`{"goal":"x","requires_confirmation":false,"steps":[
		{"tool":"T","action":"a","args":{},"risk":9}
	]}`)
	_, err = v.Decode(doc)
	require.Error(t, err)
}

func TestTrimStdoutKeepsTail(t *testing.T) {
	long := ""
	for i := 0; i < 500; i++ {
		long += "x"
	}
	trimmed := ir.TrimStdout(long + "END")
	assert.LessOrEqual(t, len([]rune(trimmed)), ir.MaxTruncatedStdout)
	assert.Equal(t, "END", trimmed[len(trimmed)-3:])
}

func TestArgsDigestStable(t *testing.T) {
	a := ir.ArgsDigest(map[string]any{"path": "/tmp/x", "content": "hi"})
	b := ir.ArgsDigest(map[string]any{"path": "/tmp/x", "content": "hi"})
	assert.Equal(t, a, b)
}

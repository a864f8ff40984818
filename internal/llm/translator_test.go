package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guillhermm/zenus-os-sub000/internal/goalloop"
	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
	"github.com/Guillhermm/zenus-os-sub000/internal/llm"
	"github.com/Guillhermm/zenus-os-sub000/internal/resilience"
)

type fakeProvider struct {
	text string
	err  error
	n    int
}

func (p *fakeProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	p.n++
	if p.err != nil {
		return llm.Response{}, p.err
	}
	return llm.Response{Text: p.text}, nil
}

func newTranslator(t *testing.T, providers ...llm.NamedProvider) *llm.Translator {
	t.Helper()
	validator, err := ir.NewValidator()
	require.NoError(t, err)
	tr, err := llm.NewTranslator(providers, resilience.DefaultCircuitBreakerConfig(), resilience.RetryConfig{MaxAttempts: 1}, validator, "test-model", 512, 0)
	require.NoError(t, err)
	return tr
}

func TestTranslateDecodesValidIntentIR(t *testing.T) {
	p := &fakeProvider{text: `{"goal":"list files","requires_confirmation":false,"steps":[{"tool":"fs","action":"list","args":{},"risk":0}]}`}
	tr := newTranslator(t, llm.NamedProvider{Name: "primary", Provider: p})

	got, err := tr.Translate(context.Background(), "list the files in /tmp")
	require.NoError(t, err)
	assert.Equal(t, "list files", got.Goal)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "fs", got.Steps[0].Tool)
}

func TestTranslateStripsCodeFence(t *testing.T) {
	p := &fakeProvider{text: "```json\n" + `{"goal":"x","requires_confirmation":false,"steps":[]}` + "\n```"}
	tr := newTranslator(t, llm.NamedProvider{Name: "primary", Provider: p})

	got, err := tr.Translate(context.Background(), "do x")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Goal)
}

func TestTranslateRejectsInvalidIntentIR(t *testing.T) {
	p := &fakeProvider{text: `{"goal":"x"}`}
	tr := newTranslator(t, llm.NamedProvider{Name: "primary", Provider: p})

	_, err := tr.Translate(context.Background(), "do x")
	require.Error(t, err)
}

func TestTranslateFallsBackToSecondaryProvider(t *testing.T) {
	primary := &fakeProvider{err: errors.New("primary down")}
	secondary := &fakeProvider{text: `{"goal":"x","requires_confirmation":false,"steps":[]}`}
	tr := newTranslator(t,
		llm.NamedProvider{Name: "primary", Provider: primary},
		llm.NamedProvider{Name: "secondary", Provider: secondary},
	)

	got, err := tr.Translate(context.Background(), "do x")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Goal)
	assert.Positive(t, secondary.n)
}

func TestReflectParsesReflectionResult(t *testing.T) {
	p := &fakeProvider{text: `{"achieved":true,"confidence":0.9,"reasoning":"done","next_steps":[]}`}
	tr := newTranslator(t, llm.NamedProvider{Name: "primary", Provider: p})

	trail := []goalloop.ObservationEntry{{Tool: "fs", Action: "list"}}
	result, err := tr.Reflect(context.Background(), "list files", trail)
	require.NoError(t, err)
	assert.True(t, result.Achieved)
	assert.InDelta(t, 0.9, result.Confidence, 0.001)
}

func TestReflectRejectsOutOfRangeConfidence(t *testing.T) {
	p := &fakeProvider{text: `{"achieved":true,"confidence":1.5,"reasoning":"bad","next_steps":[]}`}
	tr := newTranslator(t, llm.NamedProvider{Name: "primary", Provider: p})

	_, err := tr.Reflect(context.Background(), "goal", nil)
	require.Error(t, err)
}

func TestNewTranslatorRequiresAtLeastOneProvider(t *testing.T) {
	validator, err := ir.NewValidator()
	require.NoError(t, err)
	_, err = llm.NewTranslator(nil, resilience.DefaultCircuitBreakerConfig(), resilience.DefaultRetryConfig(), validator, "m", 512, 0)
	require.Error(t, err)
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Guillhermm/zenus-os-sub000/internal/goalloop"
	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
	"github.com/Guillhermm/zenus-os-sub000/internal/resilience"
)

// Translator is the reference Translator implementation (spec.md §1's
// opaque, out-of-scope NL→IR collaborator) GoalLoop and the Orchestrator's
// direct-execute path drive. It prompts a ModelProvider for an IntentIR or
// ReflectionResult JSON document and validates the result. Each provider gets
// its own resilience.Kit (CircuitBreaker + RetryBudget guarded per named
// service, spec.md §5), and FallbackChain is the outer cascade over those
// already-wrapped calls, per spec.md §4.5's formula:
//
//	fallback.execute( retry_with_budget( breaker.call( provider.call(args) ) ) )
type Translator struct {
	kits        []*resilience.Kit
	chain       *resilience.FallbackChain
	validator   *ir.Validator
	model       string
	maxTokens   int
	temperature float64
}

// NewTranslator constructs a Translator. providers is ordered
// highest-priority first (index 0 is primary; the rest are FallbackChain
// cascade members per spec.md §4.5).
func NewTranslator(providers []NamedProvider, cbCfg resilience.CircuitBreakerConfig, retryCfg resilience.RetryConfig, validator *ir.Validator, model string, maxTokens int, temperature float64) (*Translator, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("llm: at least one provider is required")
	}
	kits := make([]*resilience.Kit, len(providers))
	options := make([]resilience.FallbackOption, len(providers))
	for i, p := range providers {
		p := p
		kit := resilience.NewKit(fmt.Sprintf("llm-translator-%s", p.Name), cbCfg, retryCfg)
		kits[i] = kit
		options[i] = resilience.FallbackOption{
			Name:     p.Name,
			Priority: len(providers) - i,
			Call: func(ctx context.Context, args any) (any, error) {
				req, ok := args.(Request)
				if !ok {
					return nil, fmt.Errorf("llm: unexpected call args type %T", args)
				}
				var resp Response
				err := kit.Call(ctx, func(ctx context.Context) error {
					r, err := p.Provider.Complete(ctx, req)
					if err != nil {
						return err
					}
					resp = r
					return nil
				})
				return resp, err
			},
		}
	}
	chain := resilience.NewFallbackChain(options)
	return &Translator{kits: kits, chain: chain, validator: validator, model: model, maxTokens: maxTokens, temperature: temperature}, nil
}

// NamedProvider pairs a ModelProvider with the name it reports to
// FallbackChain observability (spec.md §4.5 "Track last_successful").
type NamedProvider struct {
	Name     string
	Provider ModelProvider
}

const intentIRSystemPrompt = `You translate a user's goal into a validated IntentIR JSON document with this exact shape:
{"goal": string, "requires_confirmation": bool, "steps": [{"tool": string, "action": string, "args": {...}, "risk": 0|1|2|3}]}
Respond with the JSON document only, no surrounding prose or code fences.`

const reflectionSystemPrompt = `You judge whether an execution trail has achieved the stated goal. Respond with a JSON document only, this exact shape:
{"achieved": bool, "confidence": number between 0 and 1, "reasoning": string, "next_steps": [string, ...]}
No surrounding prose or code fences.`

// Translate implements goalloop.Translator / the Orchestrator's direct-
// execute Translate call: it prompts the resilient provider chain for an
// IntentIR document and validates it against the compiled JSON Schema
// (internal/ir.Validator) before returning.
func (t *Translator) Translate(ctx context.Context, prompt string) (ir.IntentIR, error) {
	resp, err := t.complete(ctx, intentIRSystemPrompt, prompt)
	if err != nil {
		return ir.IntentIR{}, fmt.Errorf("llm: translate: %w", err)
	}
	doc, err := t.validator.Decode([]byte(extractJSON(resp.Text)))
	if err != nil {
		return ir.IntentIR{}, fmt.Errorf("llm: translate: invalid intent ir: %w", err)
	}
	return *doc, nil
}

// Reflect implements goalloop.Translator's reflection mode.
func (t *Translator) Reflect(ctx context.Context, goal string, trail []goalloop.ObservationEntry) (ir.ReflectionResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\nObservations:\n", goal)
	for _, e := range trail {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	resp, err := t.complete(ctx, reflectionSystemPrompt, b.String())
	if err != nil {
		return ir.ReflectionResult{}, fmt.Errorf("llm: reflect: %w", err)
	}
	var result ir.ReflectionResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &result); err != nil {
		return ir.ReflectionResult{}, fmt.Errorf("llm: reflect: invalid reflection json: %w", err)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return ir.ReflectionResult{}, fmt.Errorf("llm: reflect: confidence %f out of [0,1]", result.Confidence)
	}
	return result, nil
}

// Kits exposes the per-provider resilience.Kits backing this Translator's
// calls, for callers assembling a Session's Health report (spec.md §6
// "session.health()").
func (t *Translator) Kits() []*resilience.Kit {
	return t.kits
}

func (t *Translator) complete(ctx context.Context, system, user string) (Response, error) {
	req := Request{
		Model:       t.model,
		MaxTokens:   t.maxTokens,
		Temperature: t.temperature,
		Messages: []Message{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: user},
		},
	}
	result, err := t.chain.Execute(ctx, req)
	if err != nil {
		return Response{}, err
	}
	resp, ok := result.(Response)
	if !ok {
		return Response{}, fmt.Errorf("llm: unexpected result type %T", result)
	}
	return resp, nil
}

// extractJSON strips a leading/trailing markdown code fence if the model
// wrapped its JSON response in one despite being asked not to — a
// frequently-observed model quirk worth tolerating rather than failing on.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

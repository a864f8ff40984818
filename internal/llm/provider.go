// Package llm defines the narrow ModelProvider contract the execution core's
// reference Translator drives through internal/resilience, and the three
// concrete providers (internal/llm/anthropic, internal/llm/openai,
// internal/llm/bedrock) that implement it.
//
// spec.md §1 treats the natural-language → IR translator as an opaque,
// out-of-scope collaborator; ModelProvider is narrower still — it is just
// "send these messages, get text back" — so that CircuitBreaker/RetryBudget/
// FallbackChain (spec.md §4.5) have a real outbound call to wrap. The
// Translate/Reflect prompting strategy built on top of it (translator.go) is
// a reference implementation, not a specified component.
package llm

import "context"

// Role names a message's speaker in a ModelProvider request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a ModelProvider conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is a single-turn (or short multi-turn) completion request.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Usage reports token accounting for a completion, when the provider surfaces it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is a ModelProvider's answer to a Request.
type Response struct {
	Text  string
	Usage Usage
}

// ModelProvider is the narrow capability set spec.md §9 calls for ("model as
// {translate, reflect, analyze_image?}... select at runtime via a registry
// keyed by symbolic name; do not impose an inheritance hierarchy"): one
// method, selected by the caller's own registry (internal/llm/providers.New,
// which switches on config.LLMProvider), no base class.
type ModelProvider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

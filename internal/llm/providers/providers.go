// Package providers builds the concrete llm.ModelProvider implementations
// (internal/llm/anthropic, internal/llm/openai, internal/llm/bedrock) by
// name. It lives outside internal/llm so that llm can stay import-free of
// its own provider implementations, which each depend on llm's types.
package providers

import (
	"fmt"

	"github.com/Guillhermm/zenus-os-sub000/internal/config"
	"github.com/Guillhermm/zenus-os-sub000/internal/llm"
	"github.com/Guillhermm/zenus-os-sub000/internal/llm/anthropic"
	"github.com/Guillhermm/zenus-os-sub000/internal/llm/bedrock"
	"github.com/Guillhermm/zenus-os-sub000/internal/llm/openai"
)

// Credentials carries the provider API keys/clients a caller resolved from
// its own secrets store. spec.md §6 lists `.env` as an external
// collaborator ("secrets") the core never reads directly; cmd/zenus reads
// the environment and passes the result in here.
type Credentials struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	// BedrockRuntime is a pre-built AWS Bedrock runtime client. Resolving
	// AWS credentials (static keys, profile, IAM role) is the AWS SDK's own
	// job, not this module's — spec.md §1 scopes "choice of underlying
	// model provider" as a non-goal, and credential chains doubly so.
	BedrockRuntime bedrock.RuntimeClient
}

// New builds the concrete ModelProvider for name using creds, satisfying
// spec.md §9's "select at runtime via a registry keyed by symbolic name"
// for model providers.
func New(name config.LLMProvider, model string, creds Credentials) (llm.ModelProvider, error) {
	switch name {
	case config.ProviderAnthropic:
		return anthropic.NewFromAPIKey(creds.AnthropicAPIKey, model)
	case config.ProviderOpenAI:
		return openai.NewFromAPIKey(creds.OpenAIAPIKey, model)
	case config.ProviderDeepSeek:
		baseURL := creds.DeepSeekBaseURL
		if baseURL == "" {
			baseURL = "https://api.deepseek.com"
		}
		return openai.NewWithBaseURL(creds.DeepSeekAPIKey, baseURL, model)
	case config.ProviderBedrock:
		if creds.BedrockRuntime == nil {
			return nil, fmt.Errorf("llm: provider %q requires a Bedrock runtime client", name)
		}
		return bedrock.New(creds.BedrockRuntime, bedrock.Options{DefaultModel: model})
	default:
		return nil, fmt.Errorf("llm: unrecognized or unimplemented provider %q", name)
	}
}

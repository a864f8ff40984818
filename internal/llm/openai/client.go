// Package openai implements llm.ModelProvider on top of the OpenAI Chat
// Completions API. Because DeepSeek's hosted API is OpenAI-compatible, this
// same client also serves config.ProviderDeepSeek by pointing BaseURL at
// DeepSeek's endpoint — SPEC_FULL.md's domain-stack table calls this out
// explicitly rather than writing a near-duplicate deepseek package.
//
// Grounded on features/model/openai/client.go's ChatClient collaborator
// interface and Options-with-defaults shape, re-pointed from
// github.com/sashabaranov/go-openai (the teacher's import) to
// github.com/openai/openai-go (the teacher's actual go.mod dependency) since
// the two expose an equivalent Chat Completions surface.
package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Guillhermm/zenus-os-sub000/internal/llm"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, satisfied by &sdk.Client.Chat.Completions or a test double.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Options configures the OpenAI/DeepSeek adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements llm.ModelProvider via OpenAI-compatible Chat Completions.
type Client struct {
	chat  ChatClient
	model string
	maxTok int
	temp  float64
}

// New builds a Client over an already-constructed Chat Completions client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model identifier is required")
	}
	return &Client{chat: chat, model: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client against the standard OpenAI endpoint.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	return NewWithBaseURL(apiKey, "", defaultModel)
}

// NewWithBaseURL constructs a Client pointed at an OpenAI-compatible
// endpoint. An empty baseURL uses openai-go's default (api.openai.com);
// for config.ProviderDeepSeek, providers.New passes Credentials.DeepSeekBaseURL
// here, defaulting to https://api.deepseek.com.
func NewWithBaseURL(apiKey, baseURL, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	oc := sdk.NewClient(opts...)
	return New(&oc.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Complete issues a Chat Completions request.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if len(req.Messages) == 0 {
		return llm.Response{}, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			messages = append(messages, sdk.SystemMessage(m.Content))
		case llm.RoleUser:
			messages = append(messages, sdk.UserMessage(m.Content))
		case llm.RoleAssistant:
			messages = append(messages, sdk.AssistantMessage(m.Content))
		}
	}

	params := sdk.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai chat completions: %w", err)
	}
	return translateResponse(resp), nil
}

func translateResponse(resp *sdk.ChatCompletion) llm.Response {
	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	return llm.Response{
		Text: text,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
}

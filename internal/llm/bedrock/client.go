// Package bedrock implements llm.ModelProvider on top of the AWS Bedrock
// Converse API, adding a third, non-"illustrative-list" provider
// (SPEC_FULL.md's domain stack table) so FallbackChain has a real third
// cascade member exercising github.com/aws/aws-sdk-go-v2's
// bedrockruntime service and github.com/aws/smithy-go's error model.
//
// Grounded on features/model/bedrock/client.go's RuntimeClient collaborator
// interface and Converse request-building shape, stripped of tool
// configuration, transcript/ledger rehydration, thinking, caching, and
// streaming — none of which this text-in/text-out ModelProvider needs.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/Guillhermm/zenus-os-sub000/internal/llm"
)

// RuntimeClient captures the subset of the Bedrock runtime client used by
// the adapter, satisfied by *bedrockruntime.Client or a test double.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements llm.ModelProvider via Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
	maxTok  int
	temp    float32
}

// New builds a Client over an already-constructed Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model identifier is required")
	}
	return &Client{runtime: runtime, model: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// Complete issues a Converse request and translates the response into text.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if len(req.Messages) == 0 {
		return llm.Response{}, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, m := range req.Messages {
		block := brtypes.ContentBlockMemberText{Value: m.Content}
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		case llm.RoleUser:
			messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: []brtypes.ContentBlock{&block}})
		case llm.RoleAssistant:
			messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: []brtypes.ContentBlock{&block}})
		}
	}
	if len(messages) == 0 {
		return llm.Response{}, errors.New("bedrock: at least one user/assistant message is required")
	}

	inferenceConfig := &brtypes.InferenceConfiguration{}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		v := int32(maxTokens)
		inferenceConfig.MaxTokens = &v
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = float64(c.temp)
	}
	if temp > 0 {
		v := float32(temp)
		inferenceConfig.Temperature = &v
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(modelID),
		Messages:        messages,
		InferenceConfig: inferenceConfig,
	}
	if len(system) > 0 {
		input.System = system
	}

	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
			return llm.Response{}, fmt.Errorf("bedrock converse: rate limited: %w", err)
		}
		return llm.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateResponse(output), nil
}

func translateResponse(out *bedrockruntime.ConverseOutput) llm.Response {
	var text string
	if msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msgOutput.Value.Content {
			if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text += tb.Value
			}
		}
	}
	resp := llm.Response{Text: text}
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			resp.Usage.InputTokens = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			resp.Usage.OutputTokens = int(*out.Usage.OutputTokens)
		}
	}
	return resp
}

package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIAdapter implements LLM against the Chat Completions API, forcing
// tool_choice to the single named tool. Grounded on the donor's
// internal/agent/providers/openai.go tool conversion, simplified to a
// single non-streaming call.
type OpenAIAdapter struct {
	client *openai.Client
	model  string
}

// OpenAIConfig configures an OpenAIAdapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAIAdapter constructs an OpenAIAdapter.
func NewOpenAIAdapter(cfg OpenAIConfig) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("responder: openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
	}, nil
}

// Extract implements LLM.
func (a *OpenAIAdapter) Extract(ctx context.Context, prompt, toolName string, toolSchema json.RawMessage) (ToolCallResult, error) {
	var schemaMap map[string]any
	if err := json.Unmarshal(toolSchema, &schemaMap); err != nil {
		return ToolCallResult{}, fmt.Errorf("responder: invalid tool schema: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Tools: []openai.Tool{
			{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:       toolName,
					Parameters: schemaMap,
				},
			},
		},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: toolName},
		},
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return ToolCallResult{}, fmt.Errorf("responder: openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ToolCallResult{}, fmt.Errorf("responder: openai returned no choices")
	}
	msg := resp.Choices[0].Message
	result := ToolCallResult{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		if tc.Type == openai.ToolTypeFunction {
			result.ToolName = tc.Function.Name
			result.Arguments = json.RawMessage(tc.Function.Arguments)
			break
		}
	}
	return result, nil
}

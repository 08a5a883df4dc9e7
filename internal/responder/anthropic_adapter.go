package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter implements LLM against Claude's Messages API, forcing
// the model to invoke the single named tool so the response is always a
// structured tool_use block rather than free text. Grounded on the
// donor's internal/agent/providers/anthropic.go message/tool conversion,
// simplified to the non-streaming single-call shape this responder needs.
type AnthropicAdapter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// AnthropicConfig configures an AnthropicAdapter.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// NewAnthropicAdapter constructs an AnthropicAdapter.
func NewAnthropicAdapter(cfg AnthropicConfig) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("responder: anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicAdapter{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Extract implements LLM.
func (a *AnthropicAdapter) Extract(ctx context.Context, prompt, toolName string, toolSchema json.RawMessage) (ToolCallResult, error) {
	var schema anthropic.ToolInputSchemaParam
	if err := json.Unmarshal(toolSchema, &schema); err != nil {
		return ToolCallResult{}, fmt.Errorf("responder: invalid tool schema: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: []anthropic.ToolUnionParam{
			anthropic.ToolUnionParamOfTool(schema, toolName),
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: toolName},
		},
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return ToolCallResult{}, fmt.Errorf("responder: anthropic request failed: %w", err)
	}

	var result ToolCallResult
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Content += b.Text
		case anthropic.ToolUseBlock:
			result.ToolName = b.Name
			result.Arguments = json.RawMessage(b.Input)
		}
	}
	return result, nil
}

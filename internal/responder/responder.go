// Package responder implements the LLM responder (spec.md §4.5): prompt
// assembly, the closed tool invocation, and bounded schema-correction
// retries with a deterministic fallback.
package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/flowrunner/internal/action"
	"github.com/haasonsaas/flowrunner/internal/feedback"
)

const toolName = "PerformAction"

// Responder drives one turn's LLM invocation against a bound LLM adapter
// and the compiled action schema.
type Responder struct {
	llm    LLM
	schema *action.Schema
	logger *slog.Logger
}

// New constructs a Responder. logger must not be nil; pass slog.Default()
// if no dedicated logger is configured.
func New(llm LLM, schema *action.Schema, logger *slog.Logger) *Responder {
	return &Responder{llm: llm, schema: schema, logger: logger}
}

// rawToolSchema is reused across calls; its JSON mirrors action.rawSchema's
// structural shape without the draft-07 metadata the jsonschema compiler
// needs but LLM tool-calling APIs don't accept.
var rawToolSchema = json.RawMessage(`{
  "type": "object",
  "required": ["actions", "messages", "confidence", "reasoning"],
  "properties": {
    "actions": {"type": "array", "items": {"type": "string", "enum": ["stay", "update", "navigate", "handoff", "complete", "restart", "modify_flow", "update_communication_style"]}},
    "messages": {"type": "array", "items": {"type": "object", "properties": {"text": {"type": "string"}, "delay_ms": {"type": "integer"}}}},
    "updates": {"type": "object"},
    "target_node_id": {"type": "string"},
    "clarification_reason": {"type": "string"},
    "handoff_reason": {"type": "string"},
    "flow_modification_instruction": {"type": "string"},
    "updated_communication_style": {"type": "string"},
    "confidence": {"type": "number"},
    "reasoning": {"type": "string"}
  }
}`)

// fallbackToolCall is the deterministic response emitted when every
// schema-correction retry is exhausted (spec.md §4.5).
func fallbackToolCall() *action.ToolCall {
	return &action.ToolCall{
		Actions:    []action.Name{action.Stay},
		Messages:   []action.Message{{Text: "Desculpe, pode repetir sua mensagem?", DelayMS: 0}},
		Confidence: 0,
		Reasoning:  "schema validation exhausted all retries",
	}
}

// Respond runs the bounded retry loop of spec.md §4.5 and returns a
// validated ToolCall, the fallback, or an error if the LLM itself failed
// (as opposed to returning an invalid payload).
func (r *Responder) Respond(ctx context.Context, in Input) (*action.ToolCall, error) {
	prompt := BuildPrompt(in)
	var lastErrs []string

	for attempt := 0; attempt <= action.MaxSchemaRetries; attempt++ {
		callPrompt := SchemaCorrectionHint(prompt, lastErrs)
		result, err := r.llm.Extract(ctx, callPrompt, toolName, rawToolSchema)
		r.logger.Debug("responder llm call",
			"prompt_type", "tool_calling",
			"attempt", attempt,
			"model_tool", result.ToolName,
			"error", err,
		)
		if err != nil {
			return nil, fmt.Errorf("responder: llm extract failed: %w", err)
		}
		if result.ToolName != toolName || len(result.Arguments) == 0 {
			lastErrs = []string{fmt.Sprintf("expected a %q tool call, got content=%q tool=%q", toolName, result.Content, result.ToolName)}
			continue
		}
		tc, err := r.schema.Decode(tolerantArguments(result.Arguments))
		if err != nil {
			lastErrs = []string{err.Error()}
			continue
		}
		if err := action.ValidateSemantics(tc, in.IsAdmin); err != nil {
			lastErrs = []string{err.Error()}
			continue
		}
		if len(tc.Messages) > action.TypicalMessagesPerTurn {
			r.logger.Warn("tool call exceeded the typical messages-per-turn cap",
				"count", len(tc.Messages), "typical", action.TypicalMessagesPerTurn, "max", action.MaxMessagesPerTurn)
		}
		return tc, nil
	}

	r.logger.Warn("responder schema retries exhausted, using deterministic fallback")
	fb := fallbackToolCall()
	fb.Normalize()
	return fb, nil
}

// feedbackFallbackMessages is the deterministic reply used when the
// feedback reply itself exhausts schema retries or still contradicts the
// action's real outcome (spec.md §4.7 step 2).
func feedbackFallbackMessages(success bool) []action.Message {
	if success {
		return []action.Message{{Text: "Pronto, feito com sucesso.", DelayMS: 0}}
	}
	return []action.Message{{Text: "Desculpe, não foi possível concluir isso agora.", DelayMS: 0}}
}

func joinMessageText(msgs []action.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Text
	}
	return strings.Join(parts, " ")
}

// RespondFeedback re-invokes the LLM with an external action's real
// outcome (spec.md §4.7 step 2), so the message the user receives
// reports what actually happened instead of the pre-execution draft
// produced by the first Respond call. The regenerated reply is checked
// with the same truthfulness heuristic feedback.Loop applies to the
// executor's own result; if it still contradicts the outcome, a
// deterministic fallback is used instead.
func (r *Responder) RespondFeedback(ctx context.Context, in FeedbackInput) []action.Message {
	prompt := BuildFeedbackPrompt(in)
	var lastErrs []string

	for attempt := 0; attempt <= action.MaxSchemaRetries; attempt++ {
		callPrompt := SchemaCorrectionHint(prompt, lastErrs)
		result, err := r.llm.Extract(ctx, callPrompt, toolName, rawToolSchema)
		if err != nil {
			r.logger.Warn("feedback responder llm call failed", "action", in.Action, "error", err)
			return feedbackFallbackMessages(in.Success)
		}
		if result.ToolName != toolName || len(result.Arguments) == 0 {
			lastErrs = []string{fmt.Sprintf("expected a %q tool call, got content=%q tool=%q", toolName, result.Content, result.ToolName)}
			continue
		}
		tc, err := r.schema.Decode(tolerantArguments(result.Arguments))
		if err != nil {
			lastErrs = []string{err.Error()}
			continue
		}
		if err := action.ValidateSemantics(tc, false); err != nil {
			lastErrs = []string{err.Error()}
			continue
		}
		if !feedback.IsTruthfulMessage(in.Success, joinMessageText(tc.Messages)) {
			r.logger.Warn("feedback reply contradicts the action outcome, using fallback",
				"action", in.Action, "success", in.Success)
			return feedbackFallbackMessages(in.Success)
		}
		return tc.Messages
	}

	r.logger.Warn("feedback responder schema retries exhausted, using deterministic fallback", "action", in.Action)
	return feedbackFallbackMessages(in.Success)
}

// tolerantArguments handles arguments that arrive double-encoded as a JSON
// string rather than a JSON object (spec.md §6: "Arguments may arrive as a
// JSON-encoded string and must be tolerantly parsed").
func tolerantArguments(raw json.RawMessage) json.RawMessage {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil && asString != "" {
		return json.RawMessage(asString)
	}
	return raw
}

package responder

import (
	"context"
	"encoding/json"
)

// ToolCallResult is what an LLM adapter returns for one invocation: either
// a tool call with structured (possibly still JSON-string-encoded)
// arguments, or free-form content — which the responder treats as a
// schema violation per spec.md §4.5.
type ToolCallResult struct {
	Content   string
	ToolName  string
	Arguments json.RawMessage
}

// LLM is the invocation contract spec.md §6 describes: "extract(prompt,
// tools) → {content?, tool_calls}". Arguments may arrive as a JSON-encoded
// string; implementations return them as received, and the responder
// unwraps that form itself (tolerantArguments).
type LLM interface {
	Extract(ctx context.Context, prompt, toolName string, toolSchema json.RawMessage) (ToolCallResult, error)
}

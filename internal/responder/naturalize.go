package responder

import (
	"context"
	"encoding/json"
	"fmt"
)

const naturalizeToolName = "NaturalizeText"

var naturalizeSchema = json.RawMessage(`{
  "type": "object",
  "required": ["text"],
  "properties": {"text": {"type": "string"}}
}`)

// Naturalize runs the optional second LLM pass described in SPEC_FULL.md §7
// (grounded on the distilled implementation's core/naturalize.py): it
// rewrites a single outgoing bubble's tone to match style while leaving its
// subject matter untouched. It never changes message count or delay
// timing — callers apply it per-bubble, after Respond has already produced
// the turn's messages. On any LLM failure, the original text is returned
// unchanged rather than surfacing an error — naturalization is cosmetic.
func (r *Responder) Naturalize(ctx context.Context, text, style string) (string, error) {
	if style == "" || text == "" {
		return text, nil
	}
	prompt := fmt.Sprintf(
		"Rewrite the following message to match this tone: %q. "+
			"Keep the exact same subject and keywords; change only phrasing. "+
			"Preserve whether it ends in a question.\n\nMESSAGE: %s",
		style, text,
	)
	result, err := r.llm.Extract(ctx, prompt, naturalizeToolName, naturalizeSchema)
	if err != nil {
		r.logger.Warn("naturalize pass failed, using original text", "error", err)
		return text, nil
	}
	if result.ToolName != naturalizeToolName || len(result.Arguments) == 0 {
		return text, nil
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(tolerantArguments(result.Arguments), &payload); err != nil || payload.Text == "" {
		return text, nil
	}
	return payload.Text, nil
}

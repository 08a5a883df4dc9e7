package action

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// rawSchema is the JSON Schema the closed tool contract is validated
// against, mirroring the structural shape of spec.md §4.4's action tool
// (the donor's Pydantic `FlowResponse` family expressed as one compiled
// tool instead of a family of tools).
const rawSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["actions", "messages", "confidence", "reasoning"],
  "properties": {
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "string",
        "enum": ["stay", "update", "navigate", "handoff", "complete", "restart", "modify_flow", "update_communication_style"]
      }
    },
    "messages": {
      "type": "array",
      "minItems": 1,
      "maxItems": 5,
      "items": {
        "type": "object",
        "required": ["text"],
        "properties": {
          "text": {"type": "string"},
          "delay_ms": {"type": "integer", "minimum": 0}
        }
      }
    },
    "updates": {"type": "object"},
    "target_node_id": {"type": "string"},
    "clarification_reason": {"type": "string"},
    "handoff_reason": {"type": "string"},
    "flow_modification_instruction": {"type": "string"},
    "updated_communication_style": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"}
  }
}`

// Schema compiles and validates ToolCall payloads against the closed tool
// contract's JSON Schema, reusing the same library the donor's config/IR
// loaders already depend on for structural validation.
type Schema struct {
	compiled *jsonschema.Schema
}

// NewSchema compiles the action tool's JSON Schema once; reuse the
// returned Schema across every responder call.
func NewSchema() (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("action-tool.json", mustJSONReader(rawSchema)); err != nil {
		return nil, fmt.Errorf("action: compile schema resource: %w", err)
	}
	compiled, err := compiler.Compile("action-tool.json")
	if err != nil {
		return nil, fmt.Errorf("action: compile schema: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// ValidateRaw validates a raw JSON payload (as arrives from the LLM
// adapter's tool-call arguments) against the schema, returning up to the
// first few structural errors verbatim for the schema-correction retry
// prompt (spec.md §4.5).
func (s *Schema) ValidateRaw(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("action: invalid json: %w", err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return err
	}
	return nil
}

// Decode validates raw against the JSON Schema and decodes it into a
// ToolCall, normalizing pacing and message length. It does not enforce the
// action-specific semantic rules (ValidateSemantics) since those depend on
// caller context (e.g. whether this turn is admin-originated); callers
// must run ValidateSemantics themselves after Decode.
func (s *Schema) Decode(raw json.RawMessage) (*ToolCall, error) {
	if err := s.ValidateRaw(raw); err != nil {
		return nil, err
	}
	var tc ToolCall
	if err := json.Unmarshal(raw, &tc); err != nil {
		return nil, fmt.Errorf("action: decode tool call: %w", err)
	}
	tc.Normalize()
	return &tc, nil
}

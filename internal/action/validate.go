package action

import (
	"fmt"
	"io"
	"strings"
)

func mustJSONReader(s string) io.Reader {
	return strings.NewReader(s)
}

// ValidateSemantics enforces the action-specific required-field rules of
// spec.md §4.4 beyond what the JSON Schema alone can express (cross-field
// requirements keyed by which actions are present). isAdmin gates
// modify_flow, which spec.md restricts to admin-originated turns.
func ValidateSemantics(tc *ToolCall, isAdmin bool) error {
	if len(tc.Actions) == 0 {
		return fmt.Errorf("action: actions must not be empty")
	}
	if len(tc.Messages) < MinMessagesPerTurn || len(tc.Messages) > MaxMessagesPerTurn {
		return fmt.Errorf("action: messages must contain between %d and %d items, got %d", MinMessagesPerTurn, MaxMessagesPerTurn, len(tc.Messages))
	}
	onlyStay := true
	for _, a := range tc.Actions {
		if a != Stay {
			onlyStay = false
		}
		switch a {
		case Update:
			if len(tc.Updates) == 0 {
				return fmt.Errorf("action: update requires non-empty updates")
			}
		case Navigate:
			if tc.TargetNodeID == "" {
				return fmt.Errorf("action: navigate requires target_node_id")
			}
		case Handoff:
			if tc.HandoffReason == "" {
				return fmt.Errorf("action: handoff requires handoff_reason")
			}
		case ModifyFlow:
			if tc.FlowModificationInstruction == "" {
				return fmt.Errorf("action: modify_flow requires flow_modification_instruction")
			}
			if !isAdmin {
				return fmt.Errorf("action: modify_flow requires an admin-originated turn")
			}
		case UpdateCommunicationStyle:
			if tc.UpdatedCommunicationStyle == "" {
				return fmt.Errorf("action: update_communication_style requires updated_communication_style")
			}
		case Stay, Complete, Restart:
			// no additional required fields
		default:
			return fmt.Errorf("action: unknown action %q", a)
		}
	}
	if onlyStay {
		for _, m := range tc.Messages {
			if strings.TrimSpace(m.Text) == "" {
				return fmt.Errorf("action: stay-only turn must re-ask or clarify with non-empty text")
			}
		}
	}
	return nil
}

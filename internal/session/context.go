// Package session implements the durable per-session context and the key
// discipline required to make debouncing and turn execution race-free
// across multiple webhook workers (spec.md §4.9, §3). FlowContext is the
// runtime state the engine and turn runner operate on; Store is the
// durable key-value contract it is persisted through.
package session

import (
	"reflect"
	"time"
)

// NodeStatus is the lifecycle state of one node's per-session bookkeeping.
type NodeStatus string

const (
	StatusNotVisited NodeStatus = "not_visited"
	StatusInProgress NodeStatus = "in_progress"
	StatusCompleted  NodeStatus = "completed"
	StatusSkipped    NodeStatus = "skipped"
	StatusFailed     NodeStatus = "failed"
)

// NodeState is the per-node bookkeeping record inside a FlowContext.
type NodeState struct {
	Status           NodeStatus     `json:"status"`
	Visits           int            `json:"visits"`
	LastVisited      *time.Time     `json:"last_visited,omitempty"`
	ValidationErrors []string       `json:"validation_errors,omitempty"`
	Meta             map[string]any `json:"meta,omitempty"`
}

// Role identifies the author of one history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// HistoryTurn is one entry in the session's conversation transcript.
type HistoryTurn struct {
	Timestamp time.Time      `json:"timestamp"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	NodeID    string         `json:"node_id,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// FlowContext is the durable per-(user, flow) runtime state described in
// spec.md §3. The session store exclusively owns the persisted form; the
// turn runner borrows a snapshot for one turn and writes it back
// atomically (spec.md §3 "Ownership").
type FlowContext struct {
	// Identity
	FlowID    string `json:"flow_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	TenantID  string `json:"tenant_id,omitempty"`

	// State
	CurrentNodeID string         `json:"current_node_id,omitempty"`
	Answers       map[string]any `json:"answers"`
	PendingField  string         `json:"pending_field,omitempty"`

	// Per-node bookkeeping
	NodeStates map[string]*NodeState `json:"node_states"`

	// Conversation
	History   []HistoryTurn `json:"history"`
	TurnCount int           `json:"turn_count"`

	// Path selection (advisory metadata; path_locked is the only
	// load-bearing guard input, per spec.md §9 open questions)
	AvailablePaths  []string           `json:"available_paths,omitempty"`
	ActivePath      string             `json:"active_path,omitempty"`
	PathConfidence  map[string]float64 `json:"path_confidence,omitempty"`
	PathLocked      bool               `json:"path_locked"`
	PathLabels      map[string]string  `json:"path_labels,omitempty"`
	PathCorrections []string           `json:"path_corrections,omitempty"`

	// LLM hints
	UserIntent         string `json:"user_intent,omitempty"`
	ConversationStyle  string `json:"conversation_style,omitempty"`
	ClarificationCount int    `json:"clarification_count"`

	// Lifecycle
	IsComplete       bool      `json:"is_complete"`
	EscalationReason string    `json:"escalation_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewFlowContext builds an empty context for (flowID, userID, sessionID),
// ready for engine.Initialize.
func NewFlowContext(flowID, userID, sessionID string, now time.Time) *FlowContext {
	return &FlowContext{
		FlowID:     flowID,
		UserID:     userID,
		SessionID:  sessionID,
		Answers:    map[string]any{},
		NodeStates: map[string]*NodeState{},
		History:    nil,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AppendHistory appends a turn and keeps TurnCount consistent, per the
// invariant turn_count = |history|.
func (c *FlowContext) AppendHistory(turn HistoryTurn) {
	c.History = append(c.History, turn)
	c.TurnCount = len(c.History)
}

// RecentHistory returns the last n turns (or fewer, if history is
// shorter), used by the responder's bounded prompt window (spec.md §4.5).
func (c *FlowContext) RecentHistory(n int) []HistoryTurn {
	if n <= 0 || len(c.History) == 0 {
		return nil
	}
	if n >= len(c.History) {
		return append([]HistoryTurn(nil), c.History...)
	}
	return append([]HistoryTurn(nil), c.History[len(c.History)-n:]...)
}

// NodeStateFor returns the bookkeeping record for id, creating it if absent.
func (c *FlowContext) NodeStateFor(id string) *NodeState {
	if c.NodeStates == nil {
		c.NodeStates = map[string]*NodeState{}
	}
	ns, ok := c.NodeStates[id]
	if !ok {
		ns = &NodeState{Status: StatusNotVisited}
		c.NodeStates[id] = ns
	}
	return ns
}

// Clone deep-copies the context so the turn runner can operate on a
// worker-local snapshot and discard it if superseded (spec.md §5).
func (c *FlowContext) Clone() *FlowContext {
	clone := *c
	clone.Answers = cloneAnyMap(c.Answers)
	clone.NodeStates = make(map[string]*NodeState, len(c.NodeStates))
	for k, v := range c.NodeStates {
		ns := *v
		ns.ValidationErrors = append([]string(nil), v.ValidationErrors...)
		ns.Meta = cloneAnyMap(v.Meta)
		clone.NodeStates[k] = &ns
	}
	clone.History = append([]HistoryTurn(nil), c.History...)
	clone.AvailablePaths = append([]string(nil), c.AvailablePaths...)
	clone.PathConfidence = cloneFloatMap(c.PathConfidence)
	clone.PathLabels = cloneStringMap(c.PathLabels)
	clone.PathCorrections = append([]string(nil), c.PathCorrections...)
	return &clone
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AnswersDiff returns the keys/values present in after but absent (or
// different) in before — used by the turn runner to compute
// TurnResult.AnswersDiff (spec.md §4.6 step 6).
func AnswersDiff(before, after map[string]any) map[string]any {
	diff := map[string]any{}
	for k, v := range after {
		if bv, ok := before[k]; !ok || !reflect.DeepEqual(bv, v) {
			diff[k] = v
		}
	}
	return diff
}

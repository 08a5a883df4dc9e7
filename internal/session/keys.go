package session

import "fmt"

// KeyBuilder produces every storage key the session store touches, under a
// single canonical pattern per concern. spec.md §4.9 requires storage and
// cleanup to use the *same* patterns; every method here is the one and
// only place that pattern is assembled.
type KeyBuilder struct {
	Namespace string
}

// NewKeyBuilder returns a KeyBuilder for the given namespace.
func NewKeyBuilder(namespace string) KeyBuilder {
	return KeyBuilder{Namespace: namespace}
}

// State is the key for a session's persisted FlowContext JSON.
func (k KeyBuilder) State(userID, sessionID string) string {
	return fmt.Sprintf("%s:state:%s:%s", k.Namespace, userID, sessionID)
}

// Meta is the key for a (user, agent_type) conversation meta record.
func (k KeyBuilder) Meta(userID, agentType string) string {
	return fmt.Sprintf("%s:state:%s:meta:%s", k.Namespace, userID, agentType)
}

// Buffer is the key for a session's inbound message buffer.
func (k KeyBuilder) Buffer(sessionID string) string {
	return fmt.Sprintf("%s:buffer:%s", k.Namespace, sessionID)
}

// Cancel is the key for a session's cancellation epoch.
func (k KeyBuilder) Cancel(sessionID string) string {
	return fmt.Sprintf("%s:cancel:%s", k.Namespace, sessionID)
}

// CurrentReply is the key for the current outbound reply marker for a user.
func (k KeyBuilder) CurrentReply(userID string) string {
	return fmt.Sprintf("%s:state:system:current_reply:%s", k.Namespace, userID)
}

// History is the key for a session's transcript (used by transcript tools,
// distinct from the FlowContext's own embedded History field so it can be
// trimmed/archived independently).
func (k KeyBuilder) History(sessionID string) string {
	return fmt.Sprintf("%s:history:%s", k.Namespace, sessionID)
}

// Escalation is the key for a (user, agent_type) escalation timestamp,
// used for delayed context clearing after a handoff.
func (k KeyBuilder) Escalation(userID, agentType string) string {
	return fmt.Sprintf("%s:state:%s:escalation:%s", k.Namespace, userID, agentType)
}

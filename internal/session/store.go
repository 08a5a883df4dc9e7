package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/haasonsaas/flowrunner/internal/errs"
)

// Store is the minimal atomic primitive contract every session-store
// backend must provide (spec.md §4.9): get/set/setex/rpush/lrange/del plus
// an atomic integer increment for the cancellation epoch. Cross-key
// atomicity is not required; the debounce protocol tolerates non-atomic
// interleaving by re-checking the epoch (spec.md §4.9 "Atomicity").
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int) ([]string, error)

	// Incr atomically increments the integer at key (treating a missing
	// key as 0) and returns the new value. Used for the cancellation
	// epoch.
	Incr(ctx context.Context, key string) (int64, error)
}

// DefaultContextTTL is the recommended TTL for persisted FlowContext
// entries (spec.md §4.9).
const DefaultContextTTL = 30 * 24 * time.Hour

// EscalationContextClearDelay bounds how long a handed-off session's
// escalation marker survives before it is allowed to expire, per the
// distilled source's ESCALATION_CONTEXT_CLEAR_DELAY_SECONDS (300s).
const EscalationContextClearDelay = 300 * time.Second

// Meta is the conversation meta record per (user, agent_type).
type Meta struct {
	LastInboundTS time.Time `json:"last_inbound_ts"`
	WindowStartTS time.Time `json:"window_start_ts"`
}

// ContextStore wraps a raw Store with the FlowContext-aware operations the
// turn runner and debounce manager actually call, always going through the
// KeyBuilder so storage and cleanup use identical patterns.
type ContextStore struct {
	Store Store
	Keys  KeyBuilder
	TTL   time.Duration
}

// NewContextStore builds a ContextStore over raw with the given namespace.
func NewContextStore(raw Store, namespace string) *ContextStore {
	return &ContextStore{Store: raw, Keys: NewKeyBuilder(namespace), TTL: DefaultContextTTL}
}

func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", errs.ErrStoreUnavailable, op, err)
}

// LoadContext fetches and deserializes a FlowContext, or (nil, false, nil)
// if it does not exist.
func (s *ContextStore) LoadContext(ctx context.Context, userID, sessionID string) (*FlowContext, bool, error) {
	raw, ok, err := s.Store.Get(ctx, s.Keys.State(userID, sessionID))
	if err != nil {
		return nil, false, wrapStoreErr("load context", err)
	}
	if !ok {
		return nil, false, nil
	}
	var fc FlowContext
	if err := json.Unmarshal([]byte(raw), &fc); err != nil {
		return nil, false, wrapStoreErr("decode context", err)
	}
	return &fc, true, nil
}

// SaveContext serializes and persists fc with the store's configured TTL.
func (s *ContextStore) SaveContext(ctx context.Context, fc *FlowContext) error {
	fc.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(fc)
	if err != nil {
		return wrapStoreErr("encode context", err)
	}
	key := s.Keys.State(fc.UserID, fc.SessionID)
	if err := s.Store.SetEx(ctx, key, string(data), s.TTL); err != nil {
		return wrapStoreErr("save context", err)
	}
	return nil
}

// AppendInbound appends one message to the session's inbound buffer.
func (s *ContextStore) AppendInbound(ctx context.Context, sessionID string, msg BufferedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return wrapStoreErr("encode inbound message", err)
	}
	if err := s.Store.RPush(ctx, s.Keys.Buffer(sessionID), string(data)); err != nil {
		return wrapStoreErr("append inbound", err)
	}
	return nil
}

// DrainInbound atomically reads back the full buffer and deletes it,
// returning entries sorted in timestamp+sequence order. This is the
// "drain atomic at emit time" behavior spec.md §9 requires — never draining
// before the LLM call, only once the winning worker is ready to aggregate.
func (s *ContextStore) DrainInbound(ctx context.Context, sessionID string) ([]BufferedMessage, error) {
	raw, err := s.Store.LRange(ctx, s.Keys.Buffer(sessionID), 0, -1)
	if err != nil {
		return nil, wrapStoreErr("drain inbound: read", err)
	}
	if err := s.Store.Del(ctx, s.Keys.Buffer(sessionID)); err != nil {
		return nil, wrapStoreErr("drain inbound: delete", err)
	}
	msgs := make([]BufferedMessage, 0, len(raw))
	for _, r := range raw {
		var m BufferedMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	SortMessages(msgs)
	return msgs, nil
}

// BumpEpoch atomically advances the session's cancellation epoch and
// returns the new value; the caller compares its own observed epoch
// against a later CurrentEpoch read to detect supersession.
func (s *ContextStore) BumpEpoch(ctx context.Context, sessionID string) (int64, error) {
	v, err := s.Store.Incr(ctx, s.Keys.Cancel(sessionID))
	if err != nil {
		return 0, wrapStoreErr("bump epoch", err)
	}
	return v, nil
}

// CurrentEpoch returns the session's current cancellation epoch without
// advancing it.
func (s *ContextStore) CurrentEpoch(ctx context.Context, sessionID string) (int64, error) {
	raw, ok, err := s.Store.Get(ctx, s.Keys.Cancel(sessionID))
	if err != nil {
		return 0, wrapStoreErr("read epoch", err)
	}
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, wrapStoreErr("parse epoch", err)
	}
	return v, nil
}

// SetCurrentReply records the marker for the most recent outbound reply
// sent to userID.
func (s *ContextStore) SetCurrentReply(ctx context.Context, userID, replyID string, ts time.Time) error {
	data, err := json.Marshal(struct {
		ReplyID string    `json:"reply_id"`
		TS      time.Time `json:"ts"`
	}{replyID, ts})
	if err != nil {
		return wrapStoreErr("encode current reply", err)
	}
	if err := s.Store.Set(ctx, s.Keys.CurrentReply(userID), string(data)); err != nil {
		return wrapStoreErr("save current reply", err)
	}
	return nil
}

// SaveMeta persists a conversation meta record for (userID, agentType).
func (s *ContextStore) SaveMeta(ctx context.Context, userID, agentType string, m Meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return wrapStoreErr("encode meta", err)
	}
	if err := s.Store.Set(ctx, s.Keys.Meta(userID, agentType), string(data)); err != nil {
		return wrapStoreErr("save meta", err)
	}
	return nil
}

// LoadMeta fetches a conversation meta record, returning the zero value if
// absent.
func (s *ContextStore) LoadMeta(ctx context.Context, userID, agentType string) (Meta, error) {
	raw, ok, err := s.Store.Get(ctx, s.Keys.Meta(userID, agentType))
	if err != nil {
		return Meta{}, wrapStoreErr("load meta", err)
	}
	if !ok {
		return Meta{}, nil
	}
	var m Meta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Meta{}, wrapStoreErr("decode meta", err)
	}
	return m, nil
}

// SetEscalation records a TTL'd escalation marker for (userID, agentType),
// written when the Handoff action fires (spec.md §4.6). The marker
// expires on its own after EscalationContextClearDelay, so no separate
// cleanup sweep is needed to let a handed-off session's context settle
// back to normal.
func (s *ContextStore) SetEscalation(ctx context.Context, userID, agentType string, ts time.Time) error {
	if err := s.Store.SetEx(ctx, s.Keys.Escalation(userID, agentType), ts.UTC().Format(time.RFC3339), EscalationContextClearDelay); err != nil {
		return wrapStoreErr("set escalation", err)
	}
	return nil
}

// EscalatedAt reports whether (userID, agentType) is within its escalation
// clear-delay window, and since when.
func (s *ContextStore) EscalatedAt(ctx context.Context, userID, agentType string) (time.Time, bool, error) {
	raw, ok, err := s.Store.Get(ctx, s.Keys.Escalation(userID, agentType))
	if err != nil {
		return time.Time{}, false, wrapStoreErr("load escalation", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, wrapStoreErr("parse escalation", err)
	}
	return ts, true, nil
}

// Package debounce implements the inbound debouncing, aggregation and
// cancellation protocol described in spec.md §4.8: a burst of rapid-fire
// messages from one user is coalesced into a single LLM turn, and any
// worker superseded by a later message abandons its own turn before it
// reaches the user.
package debounce

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/flowrunner/internal/retry"
	"github.com/haasonsaas/flowrunner/internal/session"
)

// Config controls one tenant's debounce timing (spec.md §4.8, §4.9
// tenant config defaults: wait 60000ms clamped [100, 120000],
// variance 20%).
type Config struct {
	WaitMS          int
	CheckMS         int
	VariancePercent float64
}

// Manager implements the wait/poll/supersede protocol purely against a
// session.ContextStore, so every backend (memory/postgres/sqlite) gets
// identical debounce semantics without reimplementing them.
type Manager struct {
	store  *session.ContextStore
	logger *slog.Logger
}

// New constructs a Manager bound to a ContextStore.
func New(store *session.ContextStore, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// Enqueue appends an inbound message to sessionID's buffer and bumps its
// cancellation epoch, superseding any worker already waiting on this
// session (spec.md §4.8 step 1). The returned epoch is this worker's own
// stake; callers must carry it through AwaitQuiet and every later
// Superseded checkpoint.
func (m *Manager) Enqueue(ctx context.Context, sessionID string, msg session.BufferedMessage) (int64, error) {
	if err := m.store.AppendInbound(ctx, sessionID, msg); err != nil {
		return 0, err
	}
	return m.store.BumpEpoch(ctx, sessionID)
}

// Superseded reports whether a newer worker has claimed sessionID since
// epoch was observed. Callers must invoke this at each of the three
// checkpoints spec.md §4.8 names: before the LLM call, after the LLM
// call, and before sending the reply.
func (m *Manager) Superseded(ctx context.Context, sessionID string, epoch int64) (bool, error) {
	current, err := m.store.CurrentEpoch(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return current != epoch, nil
}

// AwaitQuiet blocks until sessionID has been inactive for cfg.WaitMS,
// polling every cfg.CheckMS (spec.md §4.8 step 2: this is pure quiescence
// detection, not jittered — jitter belongs only to the pre-reply delay
// applied afterward, see PreReplyDelay). It returns early with
// superseded=true at the first poll after a newer worker bumps the epoch,
// and never
// drains the buffer itself — draining only happens once a worker commits
// to a turn (spec.md §9).
func (m *Manager) AwaitQuiet(ctx context.Context, sessionID string, epoch int64, cfg Config) (superseded bool, err error) {
	wait := time.Duration(cfg.WaitMS) * time.Millisecond
	check := time.Duration(cfg.CheckMS) * time.Millisecond
	if check <= 0 {
		check = 250 * time.Millisecond
	}
	deadline := time.Now().Add(wait)

	ticker := time.NewTicker(check)
	defer ticker.Stop()

	for {
		sup, err := m.Superseded(ctx, sessionID, epoch)
		if err != nil {
			return false, err
		}
		if sup {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PreReplyDelay returns the jittered, humanlike pause (spec.md §4.8 step
// 3: wait_ms × (1 ± variance)) applied once after a burst has been
// drained and aggregated, before the reply is sent. This is distinct
// from AwaitQuiet's unjittered inactivity window: quiescence detection
// and the pre-reply pause serve different purposes and must not share a
// jittered value.
func (m *Manager) PreReplyDelay(cfg Config) time.Duration {
	return retry.Jitter(time.Duration(cfg.WaitMS)*time.Millisecond, cfg.VariancePercent/100)
}

// Sleep blocks for d or until ctx is cancelled, whichever comes first.
func (m *Manager) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// DrainAndAggregate atomically drains sessionID's buffer and returns the
// concatenated message text (timestamp+sequence order) alongside the raw
// entries for history bookkeeping (spec.md §4.8 step 3).
func (m *Manager) DrainAndAggregate(ctx context.Context, sessionID string) (string, []session.BufferedMessage, error) {
	msgs, err := m.store.DrainInbound(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}
	buf := session.InboundBuffer{Entries: msgs}
	return buf.Aggregate(), msgs, nil
}

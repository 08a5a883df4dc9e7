package debounce

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/flowrunner/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager() *Manager {
	store := session.NewContextStore(session.NewMemoryStore(), "test")
	return New(store, testLogger())
}

func TestEnqueueBumpsEpoch(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	e1, err := m.Enqueue(ctx, "s1", session.BufferedMessage{ID: "1", Content: "oi", Timestamp: time.Now(), Sequence: 1})
	require.NoError(t, err)
	e2, err := m.Enqueue(ctx, "s1", session.BufferedMessage{ID: "2", Content: "tudo bem?", Timestamp: time.Now(), Sequence: 2})
	require.NoError(t, err)
	assert.Greater(t, e2, e1)
}

func TestSupersededDetectsNewerWorker(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	e1, err := m.Enqueue(ctx, "s1", session.BufferedMessage{ID: "1", Content: "a"})
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, "s1", session.BufferedMessage{ID: "2", Content: "b"})
	require.NoError(t, err)

	sup, err := m.Superseded(ctx, "s1", e1)
	require.NoError(t, err)
	assert.True(t, sup)
}

func TestAwaitQuietReturnsFalseWhenNoNewMessages(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	epoch, err := m.Enqueue(ctx, "s1", session.BufferedMessage{ID: "1", Content: "a"})
	require.NoError(t, err)

	sup, err := m.AwaitQuiet(ctx, "s1", epoch, Config{WaitMS: 20, CheckMS: 5})
	require.NoError(t, err)
	assert.False(t, sup)
}

func TestAwaitQuietReturnsTrueWhenSuperseded(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	epoch, err := m.Enqueue(ctx, "s1", session.BufferedMessage{ID: "1", Content: "a"})
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = m.Enqueue(ctx, "s1", session.BufferedMessage{ID: "2", Content: "b"})
	}()

	sup, err := m.AwaitQuiet(ctx, "s1", epoch, Config{WaitMS: 200, CheckMS: 5})
	require.NoError(t, err)
	assert.True(t, sup)
}

func TestPreReplyDelayIsJitteredAroundWaitMS(t *testing.T) {
	m := newManager()
	d := m.PreReplyDelay(Config{WaitMS: 1000, VariancePercent: 20})
	assert.GreaterOrEqual(t, d, 800*time.Millisecond)
	assert.LessOrEqual(t, d, 1200*time.Millisecond)
}

func TestSleepReturnsContextErrorWhenCancelled(t *testing.T) {
	m := newManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Sleep(ctx, 50*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDrainAndAggregateOrdersByTimestamp(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	now := time.Now()
	_, err := m.Enqueue(ctx, "s1", session.BufferedMessage{ID: "2", Content: "second", Timestamp: now.Add(2 * time.Second), Sequence: 2})
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, "s1", session.BufferedMessage{ID: "1", Content: "first", Timestamp: now, Sequence: 1})
	require.NoError(t, err)

	aggregated, msgs, err := m.DrainAndAggregate(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first\nsecond", aggregated)

	aggregated2, msgs2, err := m.DrainAndAggregate(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs2)
	assert.Empty(t, aggregated2)
}

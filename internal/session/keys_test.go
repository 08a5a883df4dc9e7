package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBuilderKeysAreNamespacedAndDistinct(t *testing.T) {
	k := NewKeyBuilder("tenant-a")
	keys := []string{
		k.State("u1", "s1"),
		k.Meta("u1", "onboarding"),
		k.Buffer("s1"),
		k.Cancel("s1"),
		k.CurrentReply("u1"),
		k.History("s1"),
		k.Escalation("u1", "onboarding"),
	}
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		assert.False(t, seen[key], "duplicate key %q", key)
		seen[key] = true
		assert.Contains(t, key, "tenant-a")
	}
}

func TestContextStoreSetEscalationRoundTrips(t *testing.T) {
	store := NewContextStore(NewMemoryStore(), "tenant-a")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, ok, err := store.EscalatedAt(ctx, "u1", "onboarding")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetEscalation(ctx, "u1", "onboarding", now))
	got, ok, err := store.EscalatedAt(ctx, "u1", "onboarding")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(now))
}

func TestContextStoreSetEscalationExpires(t *testing.T) {
	raw := NewMemoryStore()
	store := &ContextStore{Store: raw, Keys: NewKeyBuilder("tenant-a"), TTL: DefaultContextTTL}
	ctx := context.Background()

	require.NoError(t, raw.SetEx(ctx, store.Keys.Escalation("u1", "onboarding"), time.Now().UTC().Format(time.RFC3339), 5*time.Millisecond))
	time.Sleep(15 * time.Millisecond)

	_, ok, err := store.EscalatedAt(ctx, "u1", "onboarding")
	require.NoError(t, err)
	assert.False(t, ok)
}

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSet(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", "v"))
	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestMemoryStoreSetExExpires(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.SetEx(ctx, "k", "v", 5*time.Millisecond))
	time.Sleep(15 * time.Millisecond)
	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreRPushLRange(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.RPush(ctx, "list", "a", "b"))
	require.NoError(t, m.RPush(ctx, "list", "c"))
	out, err := m.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

func TestMemoryStoreDel(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "k", "v"))
	require.NoError(t, m.RPush(ctx, "list", "a"))
	require.NoError(t, m.Del(ctx, "k", "list"))
	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	out, err := m.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMemoryStoreIncr(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	v1, err := m.Incr(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)
	v2, err := m.Incr(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/clock"
)

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewMemory(clk)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 30*time.Second))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	clk.Advance(30 * time.Second)
	_, ok, _ = c.Get(ctx, "k")
	assert.True(t, ok, "expiry is exclusive")

	clk.Advance(time.Millisecond)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(nil)
	buf := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'x'

	v, _, _ := c.Get(ctx, "k")
	assert.Equal(t, "abc", string(v))
	v[1] = 'y'
	v, _, _ = c.Get(ctx, "k")
	assert.Equal(t, "abc", string(v))
}

func TestMemoryDeleteAndZeroTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(nil)
	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Minute))
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.Delete(ctx, "a", "c", "missing"))
	assert.Zero(t, c.Len())
}

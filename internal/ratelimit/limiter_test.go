package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, limit int64, window time.Duration) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	l := New(mr.Addr(), window, limit)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLimiterAllowsWithinBudget(t *testing.T) {
	l := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx, "agent-a")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestLimiterRejectsOverBudget(t *testing.T) {
	l := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	ok, _, err := l.Allow(ctx, "agent-a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _, err = l.Allow(ctx, "agent-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, retryAfter, err := l.Allow(ctx, "agent-a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestLimiterTracksAgentsIndependently(t *testing.T) {
	l := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	ok, _, err := l.Allow(ctx, "agent-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = l.Allow(ctx, "agent-b")
	require.NoError(t, err)
	assert.True(t, ok, "a different agent must have its own independent budget")
}

func TestLimiterReset(t *testing.T) {
	l := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	ok, _, err := l.Allow(ctx, "agent-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = l.Allow(ctx, "agent-a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, l.Reset(ctx, "agent-a"))

	ok, _, err = l.Allow(ctx, "agent-a")
	require.NoError(t, err)
	assert.True(t, ok, "reset must clear the prior window")
}

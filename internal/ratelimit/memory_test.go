package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuardDeniesAfterBurst(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	guard := NewMemoryGuard(clk)
	policy := Policy{Name: "webhook", Rate: 1, Burst: 3}
	ctx := context.Background()

	for i := range 3 {
		decision, err := guard.Admit(ctx, "org:1", policy)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d", i)
		assert.Equal(t, 2-i, decision.Remaining)
	}

	decision, err := guard.Admit(ctx, "org:1", policy)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 3, decision.Limit)
	assert.InDelta(t, time.Second, decision.RetryAfter, float64(10*time.Millisecond))

	// other keys have their own bucket
	decision, err = guard.Admit(ctx, "org:2", policy)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	clk.Advance(time.Second)
	decision, err = guard.Admit(ctx, "org:1", policy)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestMemoryGuardDeniedRequestsDoNotConsume(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	guard := NewMemoryGuard(clk)
	policy := Policy{Name: "ingest", Rate: 2, Burst: 1}
	ctx := context.Background()

	decision, err := guard.Admit(ctx, "ip:10.0.0.1", policy)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	for range 5 {
		decision, err = guard.Admit(ctx, "ip:10.0.0.1", policy)
		require.NoError(t, err)
		require.False(t, decision.Allowed)
	}

	clk.Advance(500 * time.Millisecond)
	decision, err = guard.Admit(ctx, "ip:10.0.0.1", policy)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestMemoryGuardEvictsIdleBuckets(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	guard := NewMemoryGuard(clk)
	policy := Policy{Name: "ingest", Rate: 1, Burst: 1}

	_, err := guard.Admit(context.Background(), "a", policy)
	require.NoError(t, err)
	clk.Advance(idleEviction + time.Second)
	_, err = guard.Admit(context.Background(), "b", policy)
	require.NoError(t, err)

	guard.mu.Lock()
	defer guard.mu.Unlock()
	assert.Len(t, guard.buckets, 1)
	assert.Contains(t, guard.buckets, "ingest:b")
}

func TestInvalidPolicy(t *testing.T) {
	guard := NewMemoryGuard(nil)
	for _, policy := range []Policy{
		{Name: "x", Rate: 0, Burst: 1},
		{Name: "x", Rate: 1, Burst: 0},
	} {
		_, err := guard.Admit(context.Background(), "k", policy)
		assert.ErrorIs(t, err, ErrInvalidPolicy)
	}
	_, err := guard.Admit(context.Background(), "", Policy{Name: "x", Rate: 1, Burst: 1})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestAllowAll(t *testing.T) {
	decision, err := AllowAll{}.Admit(context.Background(), "", Policy{Burst: 5})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

package lease_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/cartflow/pkg/lease"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryManager_Exclusive(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	m := lease.NewMemoryManager(clock)

	ok, err := m.TryAcquire(ctx, "exec-1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryAcquire(ctx, "exec-1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.TryAcquire(ctx, "exec-1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Release(ctx, "exec-1", "b"))

	ok, err = m.TryAcquire(ctx, "exec-1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner must not free the lease")

	require.NoError(t, m.Release(ctx, "exec-1", "a"))

	ok, err = m.TryAcquire(ctx, "exec-1", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryManager_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	m := lease.NewMemoryManager(clock)

	ok, err := m.TryAcquire(ctx, "exec-1", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(30 * time.Second)
	require.NoError(t, m.Renew(ctx, "exec-1", "a", time.Minute))

	clock.Advance(45 * time.Second)

	ok, err = m.TryAcquire(ctx, "exec-1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "renewed lease is still held")

	clock.Advance(time.Minute)

	ok, err = m.TryAcquire(ctx, "exec-1", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, m.Renew(ctx, "exec-1", "a", time.Minute), lease.ErrNotHeld)
}

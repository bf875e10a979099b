package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_AcquireRelease(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	acquired, err := locker.Acquire(ctx, "lock:test", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// A second acquire while held fails.
	acquired, err = locker.Acquire(ctx, "lock:test", time.Minute)
	require.NoError(t, err)
	require.False(t, acquired)

	released, err := locker.Release(ctx, "lock:test")
	require.NoError(t, err)
	require.True(t, released)

	acquired, err = locker.Acquire(ctx, "lock:test", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestMemoryLocker_Release_NotHeld(t *testing.T) {
	locker := NewMemoryLocker()

	released, err := locker.Release(context.Background(), "lock:missing")
	require.NoError(t, err)
	require.False(t, released)
}

func TestMemoryLocker_Release_ForeignToken(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	// A lock written by a different locker instance must survive this
	// instance's Release and Extend.
	locker.mu.Lock()
	locker.locks["lock:test"] = &lockEntry{
		expiresAt: time.Now().Add(time.Minute),
		token:     "other-holder",
	}
	locker.mu.Unlock()

	released, err := locker.Release(ctx, "lock:test")
	require.NoError(t, err)
	require.False(t, released)

	extended, err := locker.Extend(ctx, "lock:test", time.Minute)
	require.NoError(t, err)
	require.False(t, extended)

	held, err := locker.IsHeld(ctx, "lock:test")
	require.NoError(t, err)
	require.True(t, held)
}

func TestMemoryLocker_Acquire_ExpiredLock(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	acquired, err := locker.Acquire(ctx, "lock:test", -time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	// Expired locks are free for the taking.
	acquired, err = locker.Acquire(ctx, "lock:test", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestMemoryLocker_Extend(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	acquired, err := locker.Acquire(ctx, "lock:test", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	extended, err := locker.Extend(ctx, "lock:test", time.Hour)
	require.NoError(t, err)
	require.True(t, extended)

	extended, err = locker.Extend(ctx, "lock:missing", time.Hour)
	require.NoError(t, err)
	require.False(t, extended)
}

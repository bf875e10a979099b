package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/meridian/internal/cache"
)

func TestCache_SetGet(t *testing.T) {
	c := NewCache()
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("value"), time.Minute))

	got, err := c.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
}

func TestCache_Get_Miss(t *testing.T) {
	c := NewCache()
	defer c.Stop()

	_, err := c.Get(context.Background(), "missing")
	require.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestCache_Get_Expired(t *testing.T) {
	c := NewCache()
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("value"), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	_, err := c.Get(ctx, "key")
	require.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestCache_Delete(t *testing.T) {
	c := NewCache()
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("value"), 0))
	require.NoError(t, c.Delete(ctx, "key"))

	_, err := c.Get(ctx, "key")
	require.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestCache_Get_ReturnsCopy(t *testing.T) {
	c := NewCache()
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("value"), 0))

	got, _ := c.Get(ctx, "key")
	got[0] = 'X'

	again, err := c.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, []byte("value"), again)
}

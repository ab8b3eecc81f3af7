package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetSetDelete(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()

	_, ok := c.Get(ctx, "/about")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "/about", "About us"))
	v, ok := c.Get(ctx, "/about")
	require.True(t, ok)
	assert.Equal(t, "About us", v)

	require.NoError(t, c.Delete(ctx, "/about"))
	_, ok = c.Get(ctx, "/about")
	assert.False(t, ok)

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(2), st.Misses)
}

func TestCacheCancelledContext(t *testing.T) {
	c := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.Set(ctx, "k", 1), context.Canceled)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCacheFlush(t *testing.T) {
	c := New(Options{ShardCount: 4})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("doc-%d", i), i))
	}
	require.Equal(t, 50, c.Stats().Items)

	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 0, c.Stats().Items)
}

// TestCacheConcurrentAccess is meant to be run with -race
func TestCacheConcurrentAccess(t *testing.T) {
	c := New(Options{TTL: time.Hour})
	ctx := context.Background()

	const workers, ops = 50, 100
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(3)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				assert.NoError(t, c.Set(ctx, fmt.Sprintf("key-%d-%d", id, j), j))
			}
		}(i)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				_, _ = c.Get(ctx, fmt.Sprintf("key-%d-%d", id, j))
			}
		}(i)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				_ = c.Delete(ctx, fmt.Sprintf("key-%d-%d", id, j))
			}
		}(i)
	}

	wg.Wait()
}

func TestCacheCleanupWorker(t *testing.T) {
	c := New(Options{TTL: 50 * time.Millisecond, CleanupInterval: 20 * time.Millisecond})
	ctx := context.Background()

	c.StartCleanupWorker()
	c.StartCleanupWorker()
	defer c.StopCleanupWorker()

	for i := 0; i < 100; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("expire-%d", i), i))
	}

	assert.Eventually(t, func() bool {
		return c.Stats().Items == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCacheStopWithoutStart(t *testing.T) {
	c := New(Options{})
	assert.NotPanics(t, c.StopCleanupWorker)
}

func TestCacheSharding(t *testing.T) {
	c := New(Options{ShardCount: 16, TTL: time.Hour})
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("shard-key-%d", i), i))
	}

	st := c.Stats()
	assert.Equal(t, 16, st.Shards)
	assert.Equal(t, 1000, st.Items)
	assert.Greater(t, c.NonEmptyShards(), 10)
}

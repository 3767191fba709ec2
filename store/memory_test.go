package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryangodara/rate_limiter_engine"
)

func TestMemory_CompareAndSwap(t *testing.T) {
	base := time.Date(2024, time.June, 23, 10, 15, 0, 0, time.UTC)

	t.Run("creates a missing key at version zero", func(t *testing.T) {
		m := NewMemory()
		ctx := context.Background()

		ok, err := m.CompareAndSwap(ctx, "some-user", 0, rate_limiter_engine.State{Count: 1}, base)
		require.NoError(t, err)
		require.True(t, ok)

		e, exists, err := m.Load(ctx, "some-user")
		require.NoError(t, err)
		require.True(t, exists)
		assert.Equal(t, 1, e.State.Count)
		assert.Equal(t, uint64(1), e.Version)
		assert.Equal(t, base, e.LastAccess)
	})

	t.Run("rejects a missing key at nonzero version", func(t *testing.T) {
		m := NewMemory()

		ok, err := m.CompareAndSwap(context.Background(), "some-user", 3, rate_limiter_engine.State{}, base)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("increments the version on every successful swap", func(t *testing.T) {
		m := NewMemory()
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			ok, err := m.CompareAndSwap(ctx, "some-user", uint64(i), rate_limiter_engine.State{Count: i + 1}, base)
			require.NoError(t, err)
			require.True(t, ok)
		}

		e, _, err := m.Load(ctx, "some-user")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), e.Version)
		assert.Equal(t, 3, e.State.Count)
	})

	t.Run("rejects a stale version", func(t *testing.T) {
		m := NewMemory()
		ctx := context.Background()

		ok, err := m.CompareAndSwap(ctx, "some-user", 0, rate_limiter_engine.State{Count: 1}, base)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = m.CompareAndSwap(ctx, "some-user", 0, rate_limiter_engine.State{Count: 99}, base)
		require.NoError(t, err)
		assert.False(t, ok)

		e, _, err := m.Load(ctx, "some-user")
		require.NoError(t, err)
		assert.Equal(t, 1, e.State.Count)
	})
}

func TestMemory_Update(t *testing.T) {
	base := time.Date(2024, time.June, 23, 10, 15, 0, 0, time.UTC)

	t.Run("persists the returned state", func(t *testing.T) {
		m := NewMemory()
		ctx := context.Background()

		err := m.Update(ctx, "some-user", base, func(e rate_limiter_engine.Entry, exists bool) (rate_limiter_engine.State, bool, error) {
			require.False(t, exists)
			return rate_limiter_engine.State{Count: 1}, true, nil
		})
		require.NoError(t, err)

		e, exists, err := m.Load(ctx, "some-user")
		require.NoError(t, err)
		require.True(t, exists)
		assert.Equal(t, 1, e.State.Count)
		assert.Equal(t, uint64(1), e.Version)
	})

	t.Run("refreshes last access without persisting", func(t *testing.T) {
		m := NewMemory()
		ctx := context.Background()

		ok, err := m.CompareAndSwap(ctx, "some-user", 0, rate_limiter_engine.State{Count: 5}, base)
		require.NoError(t, err)
		require.True(t, ok)

		later := base.Add(time.Minute)
		err = m.Update(ctx, "some-user", later, func(e rate_limiter_engine.Entry, exists bool) (rate_limiter_engine.State, bool, error) {
			return rate_limiter_engine.State{}, false, nil
		})
		require.NoError(t, err)

		e, _, err := m.Load(ctx, "some-user")
		require.NoError(t, err)
		assert.Equal(t, 5, e.State.Count, "state must be untouched")
		assert.Equal(t, uint64(1), e.Version)
		assert.Equal(t, later, e.LastAccess)
	})

	t.Run("does not create a key when nothing is persisted", func(t *testing.T) {
		m := NewMemory()
		ctx := context.Background()

		err := m.Update(ctx, "some-user", base, func(e rate_limiter_engine.Entry, exists bool) (rate_limiter_engine.State, bool, error) {
			return rate_limiter_engine.State{}, false, nil
		})
		require.NoError(t, err)

		_, exists, err := m.Load(ctx, "some-user")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("passes errors through unchanged", func(t *testing.T) {
		m := NewMemory()
		ctx := context.Background()

		err := m.Update(ctx, "some-user", base, func(e rate_limiter_engine.Entry, exists bool) (rate_limiter_engine.State, bool, error) {
			return rate_limiter_engine.State{}, false, assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)
	})
}

func TestMemory_ConcurrentUpdates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2024, time.June, 23, 10, 15, 0, 0, time.UTC)

	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		go func() {
			defer wg.Done()
			err := m.Update(ctx, "hot-key", base, func(e rate_limiter_engine.Entry, exists bool) (rate_limiter_engine.State, bool, error) {
				next := e.State
				next.Count++
				return next, true, nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	e, _, err := m.Load(ctx, "hot-key")
	require.NoError(t, err)
	assert.Equal(t, 100, e.State.Count, "no update may be lost")
	assert.Equal(t, uint64(100), e.Version)
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2024, time.June, 23, 10, 15, 0, 0, time.UTC)

	ok, err := m.CompareAndSwap(ctx, "some-user", 0, rate_limiter_engine.State{Count: 1}, base)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Delete(ctx, "some-user"))
	require.NoError(t, m.Delete(ctx, "some-user")) // deleting a missing key is fine

	_, exists, err := m.Load(ctx, "some-user")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemory_ScanIdle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2024, time.June, 23, 10, 15, 0, 0, time.UTC)

	ok, err := m.CompareAndSwap(ctx, "idle-user", 0, rate_limiter_engine.State{}, base)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = m.CompareAndSwap(ctx, "active-user", 0, rate_limiter_engine.State{}, base.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	keys, err := m.ScanIdle(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"idle-user"}, keys)
}

func TestMemory_DeleteIdle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2024, time.June, 23, 10, 15, 0, 0, time.UTC)
	cutoff := base.Add(time.Minute)

	ok, err := m.CompareAndSwap(ctx, "some-user", 0, rate_limiter_engine.State{}, base)
	require.NoError(t, err)
	require.True(t, ok)

	// Refreshed after the scan cutoff: the delete must back off.
	ok, err = m.CompareAndSwap(ctx, "some-user", 1, rate_limiter_engine.State{Count: 1}, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := m.DeleteIdle(ctx, "some-user", cutoff)
	require.NoError(t, err)
	assert.False(t, removed)

	_, exists, err := m.Load(ctx, "some-user")
	require.NoError(t, err)
	assert.True(t, exists)

	removed, err = m.DeleteIdle(ctx, "some-user", base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = m.DeleteIdle(ctx, "missing", cutoff)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemory_SingleShard(t *testing.T) {
	m := NewMemory(WithShardCount(1))
	ctx := context.Background()
	base := time.Date(2024, time.June, 23, 10, 15, 0, 0, time.UTC)

	for _, key := range []string{"a", "b", "c"} {
		ok, err := m.CompareAndSwap(ctx, key, 0, rate_limiter_engine.State{}, base)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, 3, m.Len())
}

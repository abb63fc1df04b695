package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"slotguard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounterStore_ConcurrentBurst(t *testing.T) {
	store := NewMemoryCounterStore()
	limits := models.Limits{PerMinute: 20, PerHour: 200}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		denied  []*models.LimitResult
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Consume(context.Background(), "ip:203.0.113.5", limits, 1)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if res.Allowed {
				allowed++
			} else {
				denied = append(denied, res)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, allowed)
	require.Len(t, denied, 5)
	for _, d := range denied {
		assert.Equal(t, models.ScopeMinute, d.Scope)
		assert.Positive(t, d.RetryAfterSeconds)
	}
}

func TestMemoryCounterStore_Windows(t *testing.T) {
	now := time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)
	store := NewMemoryCounterStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("Refill", func(t *testing.T) {
		limits := models.Limits{PerMinute: 2, PerHour: 0}
		for i := 0; i < 2; i++ {
			res, err := store.Consume(ctx, "key:a", limits, 1)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, -1, res.RemainingHour)
		}

		res, err := store.Consume(ctx, "key:a", limits, 1)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 30, res.RetryAfterSeconds)

		now = now.Add(31 * time.Second)
		res, err = store.Consume(ctx, "key:a", limits, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("HourLimit", func(t *testing.T) {
		limits := models.Limits{PerMinute: 10, PerHour: 2}
		for i := 0; i < 2; i++ {
			res, err := store.Consume(ctx, "key:b", limits, 1)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
		}

		res, err := store.Consume(ctx, "key:b", limits, 1)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, models.ScopeHour, res.Scope)
		assert.Equal(t, 1800, res.RetryAfterSeconds)
		assert.Equal(t, 8, res.RemainingMinute, "a denied call consumes nothing")
	})

	t.Run("Cleanup", func(t *testing.T) {
		store.idleTTL = time.Minute
		before := store.size()
		require.Positive(t, before)

		now = now.Add(2 * time.Minute)
		_, err := store.Consume(ctx, "key:fresh", models.Limits{PerMinute: 1}, 1)
		require.NoError(t, err)

		store.Cleanup()
		assert.Equal(t, 1, store.size())
	})
}

func TestMemoryCounterStore_Janitor(t *testing.T) {
	store := NewMemoryCounterStore(WithIdleTTL(time.Millisecond), WithCleanupEvery(5*time.Millisecond))
	_, err := store.Consume(context.Background(), "key:idle", models.Limits{PerMinute: 1}, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartJanitor(ctx)

	assert.Eventually(t, func() bool { return store.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryIdempotencyStore(t *testing.T) {
	now := time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)
	store := NewMemoryIdempotencyStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := store.Reserve(ctx, &models.IdempotencyRecord{Key: "k", State: models.IdempotencyPending, Token: "t1"}, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(ctx, &models.IdempotencyRecord{Key: "k", State: models.IdempotencyPending, Token: "t2"}, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// an expired lease can be taken over
	now = now.Add(2 * time.Second)
	ok, err = store.Reserve(ctx, &models.IdempotencyRecord{Key: "k", State: models.IdempotencyPending, Token: "t2"}, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Release(ctx, "k", "t1"))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t2", got.Token)

	require.NoError(t, store.Complete(ctx, &models.IdempotencyRecord{Key: "k", State: models.IdempotencyDone, StatusCode: 409}, time.Hour))
	require.NoError(t, store.Release(ctx, "k", "t2"))
	got, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, got.Done())
	assert.Equal(t, 409, got.StatusCode)

	now = now.Add(2 * time.Hour)
	got, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

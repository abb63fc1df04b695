package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"slotguard/internal/config"
	"slotguard/internal/domain"
	"slotguard/internal/models"
	"slotguard/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var publicCaller = models.Identity{Key: "ip:203.0.113.5", Tier: models.TierPublic}

func burst(t *testing.T, limiter *Limiter, identity models.Identity, n int) (allowed int, denied []*models.LimitResult) {
	t.Helper()
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.CheckAndConsume(context.Background(), identity, 1)
			assert.NoError(t, err)
			if res == nil {
				return
			}
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
	return allowed, denied
}

func assertMinuteDenials(t *testing.T, denied []*models.LimitResult, degraded bool) {
	t.Helper()
	require.Len(t, denied, 5)
	for _, d := range denied {
		assert.Equal(t, models.ScopeMinute, d.Scope)
		assert.Positive(t, d.RetryAfterSeconds)
		assert.Equal(t, degraded, d.Degraded)
	}
}

func TestLimiter_RedisBurst(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	limiter := NewLimiter(repository.NewRedisCounterStore(client), config.RateLimitConfig{}, testLogger())
	allowed, denied := burst(t, limiter, publicCaller, 25)

	assert.Equal(t, 20, allowed)
	assertMinuteDenials(t, denied, false)
}

func TestLimiter_FallbackBurst(t *testing.T) {
	client := unreachableRedis(t)

	failover := repository.NewFailoverCounterStore(
		repository.NewRedisCounterStore(client),
		repository.NewMemoryCounterStore(),
		time.Minute,
		testLogger(),
	)
	limiter := NewLimiter(failover, config.RateLimitConfig{}, testLogger())
	allowed, denied := burst(t, limiter, publicCaller, 25)

	assert.Equal(t, 20, allowed)
	assertMinuteDenials(t, denied, true)
	assert.True(t, failover.Degraded())
}

func TestLimiter_FallbackDisabled(t *testing.T) {
	client := unreachableRedis(t)

	limiter := NewLimiter(repository.NewRedisCounterStore(client), config.RateLimitConfig{}, testLogger())
	_, err := limiter.CheckAndConsume(context.Background(), publicCaller, 1)
	assert.True(t, errors.Is(err, domain.ErrLimiterUnavailable))
}

func TestLimiter_Tiers(t *testing.T) {
	cfg := config.RateLimitConfig{Tiers: map[models.Tier]config.TierLimits{
		models.TierAdmin:    {PerMinute: 0, PerHour: 0},
		models.TierCustomer: {PerMinute: 2, PerHour: 10},
	}}
	store := repository.NewMemoryCounterStore()
	limiter := NewLimiter(store, cfg, testLogger())
	ctx := context.Background()

	t.Run("Unlimited", func(t *testing.T) {
		admin := models.Identity{Key: "key:ops", Tier: models.TierAdmin}
		for i := 0; i < 50; i++ {
			res, err := limiter.CheckAndConsume(ctx, admin, 1)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, -1, res.RemainingMinute)
		}
	})

	t.Run("Configured", func(t *testing.T) {
		customer := models.Identity{Key: "key:acme", Tier: models.TierCustomer}
		for i := 0; i < 2; i++ {
			res, err := limiter.CheckAndConsume(ctx, customer, 0)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
		}
		res, err := limiter.CheckAndConsume(ctx, customer, 1)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
	})

	t.Run("DefaultsAndUnknownTier", func(t *testing.T) {
		assert.Equal(t, models.Limits{PerMinute: 20, PerHour: 200}, limiter.LimitsFor(models.TierPublic))
		assert.Equal(t, limiter.LimitsFor(models.TierPublic), limiter.LimitsFor("partner"))
	})
}

func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

package repository

import (
	"context"
	"sync/atomic"
	"time"

	"slotguard/internal/domain"
	"slotguard/internal/metrics"
	"slotguard/internal/models"

	"github.com/rs/zerolog"
)

// FailoverCounterStore prefers the shared primary store and degrades to the
// in-process fallback when the primary errors. The primary is retried once
// per recovery interval; results served by the fallback carry Degraded.
type FailoverCounterStore struct {
	primary          domain.CounterStore
	fallback         domain.CounterStore
	logger           *zerolog.Logger
	recoveryInterval time.Duration
	isDown           atomic.Bool
	lastCheck        atomic.Int64
	now              func() time.Time
}

func NewFailoverCounterStore(primary, fallback domain.CounterStore, recoveryInterval time.Duration, logger *zerolog.Logger) *FailoverCounterStore {
	if recoveryInterval <= 0 {
		recoveryInterval = time.Minute
	}
	return &FailoverCounterStore{
		primary:          primary,
		fallback:         fallback,
		logger:           logger,
		recoveryInterval: recoveryInterval,
		now:              time.Now,
	}
}

// Degraded reports whether calls are currently served by the fallback.
func (r *FailoverCounterStore) Degraded() bool {
	return r.isDown.Load()
}

func (r *FailoverCounterStore) Consume(ctx context.Context, identity string, limits models.Limits, cost int) (*models.LimitResult, error) {
	if !r.isDown.Load() || r.recoveryDue() {
		result, err := r.primary.Consume(ctx, identity, limits, cost)
		if err == nil {
			if r.isDown.CompareAndSwap(true, false) {
				r.logger.Info().Msg("rate limiter recovered, primary store is back")
				metrics.SetLimiterDegraded(false)
			}
			return result, nil
		}
		r.markDown(err)
	}

	result, err := r.fallback.Consume(ctx, identity, limits, cost)
	if err != nil {
		return nil, err
	}
	result.Degraded = true
	return result, nil
}

func (r *FailoverCounterStore) recoveryDue() bool {
	last := r.lastCheck.Load()
	now := r.now().UnixNano()
	if now-last < int64(r.recoveryInterval) {
		return false
	}
	// one caller per interval probes the primary
	return r.lastCheck.CompareAndSwap(last, now)
}

func (r *FailoverCounterStore) markDown(err error) {
	r.lastCheck.Store(r.now().UnixNano())
	if r.isDown.CompareAndSwap(false, true) {
		r.logger.Warn().Err(err).Msg("rate limiter degraded, falling back to in-process counters")
		metrics.SetLimiterDegraded(true)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotguard/internal/config"
	"slotguard/internal/domain"
	"slotguard/internal/metrics"
	"slotguard/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// IdempotencyService runs a computation at most once per key. Callers in the
// same process share one execution; callers elsewhere wait on the stored
// record until it completes or the wait bound passes.
type IdempotencyService struct {
	store        domain.IdempotencyStore
	lease        time.Duration
	wait         time.Duration
	pollInterval time.Duration
	group        singleflight.Group
	logger       *zerolog.Logger
}

func NewIdempotencyService(store domain.IdempotencyStore, cfg config.IdempotencyConfig, logger *zerolog.Logger) *IdempotencyService {
	lease := cfg.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	wait := cfg.Wait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &IdempotencyService{
		store:        store,
		lease:        lease,
		wait:         wait,
		pollInterval: 50 * time.Millisecond,
		logger:       logger,
	}
}

type computeResult struct {
	record   *models.IdempotencyRecord
	replayed bool
	// stored is set once the record is durable in the store
	stored bool
}

// GetOrCompute returns the stored outcome for key, or runs compute and stores
// its outcome when it is cacheable. The boolean reports a replay.
func (s *IdempotencyService) GetOrCompute(
	ctx context.Context,
	key, fingerprint string,
	ttl time.Duration,
	compute func(ctx context.Context) (*domain.Outcome, error),
) (*models.IdempotencyRecord, bool, error) {
	if ttl <= 0 {
		ttl = models.DefaultIdempotencyTTL
	}

	leader := false
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		leader = true
		return s.getOrCompute(ctx, key, fingerprint, ttl, compute)
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(*computeResult)
	if leader {
		return res.record, res.replayed, nil
	}

	// coalesced caller: same key, possibly a different body
	if res.record.Fingerprint != "" && res.record.Fingerprint != fingerprint {
		metrics.IncIdempotency("mismatch")
		return nil, false, domain.ErrIdempotencyMismatch
	}
	if !res.stored {
		// the leader's outcome was not kept, so it is shared but not a replay
		return res.record, false, nil
	}
	metrics.IncIdempotency("replay")
	return res.record, true, nil
}

func (s *IdempotencyService) getOrCompute(
	ctx context.Context,
	key, fingerprint string,
	ttl time.Duration,
	compute func(ctx context.Context) (*domain.Outcome, error),
) (*computeResult, error) {
	deadline := time.Now().Add(s.wait)

	for {
		record, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrIdempotencyUnavailable, err)
		}

		switch {
		case record.Done():
			if record.Fingerprint != fingerprint {
				metrics.IncIdempotency("mismatch")
				return nil, domain.ErrIdempotencyMismatch
			}
			metrics.IncIdempotency("replay")
			return &computeResult{record: record, replayed: true, stored: true}, nil

		case record == nil:
			token := uuid.NewString()
			now := time.Now().UTC()
			pending := &models.IdempotencyRecord{
				Key:         key,
				State:       models.IdempotencyPending,
				Token:       token,
				Fingerprint: fingerprint,
				CreatedAt:   now,
				ExpiresAt:   now.Add(s.lease),
			}
			reserved, err := s.store.Reserve(ctx, pending, s.lease)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrIdempotencyUnavailable, err)
			}
			if reserved {
				metrics.IncIdempotency("miss")
				return s.run(ctx, key, token, fingerprint, ttl, compute)
			}
			// lost the race; read the winner's record
			continue

		default:
			if record.Fingerprint != fingerprint {
				metrics.IncIdempotency("mismatch")
				return nil, domain.ErrIdempotencyMismatch
			}
		}

		if !time.Now().Before(deadline) {
			metrics.IncIdempotency("in_flight")
			return nil, domain.ErrIdempotencyInFlight
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

func (s *IdempotencyService) run(
	ctx context.Context,
	key, token, fingerprint string,
	ttl time.Duration,
	compute func(ctx context.Context) (*domain.Outcome, error),
) (*computeResult, error) {
	outcome, err := compute(ctx)
	if err != nil {
		s.release(ctx, key, token)
		return nil, err
	}

	now := time.Now().UTC()
	record := &models.IdempotencyRecord{
		Key:         key,
		Fingerprint: fingerprint,
		StatusCode:  outcome.StatusCode,
		Body:        outcome.Body,
		CreatedAt:   now,
	}
	if !outcome.Cacheable {
		s.release(ctx, key, token)
		return &computeResult{record: record}, nil
	}

	record.State = models.IdempotencyDone
	record.ExpiresAt = now.Add(ttl)
	if err := s.store.Complete(context.WithoutCancel(ctx), record, ttl); err != nil {
		// the pending lease still expires; a retry after that recomputes
		s.logger.Error().Err(err).Str("key", key).Msg("failed to store idempotent outcome")
		return &computeResult{record: record}, nil
	}
	return &computeResult{record: record, stored: true}, nil
}

func (s *IdempotencyService) release(ctx context.Context, key, token string) {
	if err := s.store.Release(context.WithoutCancel(ctx), key, token); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to release idempotency lease")
	}
}

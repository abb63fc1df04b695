package worker

import (
	"context"
	"errors"
	"time"

	"slotguard/internal/domain"
	"slotguard/internal/models"

	"github.com/rs/zerolog"
)

// PendingLister finds bookings that have stayed pending too long.
type PendingLister interface {
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Booking, error)
}

// Expirer cancels one booking and frees its seat.
type Expirer interface {
	Expire(ctx context.Context, bookingID string) (*models.ReleaseResult, error)
}

// ExpirySweeper cancels pending bookings older than the pending TTL so their
// seats return to the pool.
type ExpirySweeper struct {
	lister      PendingLister
	expirer     Expirer
	ttl         time.Duration
	interval    time.Duration
	batchSize   int
	retryPolicy RetryPolicy
	logger      *zerolog.Logger
	now         func() time.Time
}

// NewExpirySweeper builds a sweeper with sane defaults.
func NewExpirySweeper(lister PendingLister, expirer Expirer, ttl, interval time.Duration, retry RetryPolicy, logger *zerolog.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 3
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 100 * time.Millisecond
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 2 * time.Second
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &ExpirySweeper{
		lister:      lister,
		expirer:     expirer,
		ttl:         ttl,
		interval:    interval,
		batchSize:   100,
		retryPolicy: retry,
		logger:      logger,
		now:         time.Now,
	}
}

// Start runs a sweep every interval until ctx is done. A zero TTL disables it.
func (s *ExpirySweeper) Start(ctx context.Context) {
	if s.ttl <= 0 {
		s.logger.Info().Msg("pending expiry sweeper is disabled")
		return
	}

	s.logger.Info().Dur("ttl", s.ttl).Dur("interval", s.interval).Msg("pending expiry sweeper started")
	defer s.logger.Info().Msg("pending expiry sweeper stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("pending expiry sweep failed")
			} else if n > 0 {
				s.logger.Info().Int("expired", n).Msg("expired stale pending bookings")
			}
		}
	}
}

// SweepOnce expires one batch and returns how many bookings it cancelled.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	stale, err := s.lister.ListStalePending(ctx, s.now().Add(-s.ttl), s.batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, b := range stale {
		ok, err := s.expire(ctx, b.ID)
		if err != nil {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			s.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("failed to expire pending booking")
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

// expire retries contention errors with backoff. A booking that left
// pending in the meantime is skipped.
func (s *ExpirySweeper) expire(ctx context.Context, bookingID string) (bool, error) {
	var res *models.ReleaseResult
	err := s.retryPolicy.Do(ctx, retryable, func(ctx context.Context) error {
		var err error
		res, err = s.expirer.Expire(ctx, bookingID)
		return err
	})
	switch {
	case err == nil:
		return !res.NoOp, nil
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrBookingNotFound):
		return false, nil
	}
	return false, err
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrLockTimeout) || errors.Is(err, domain.ErrVersionConflict)
}

package service

import (
	"context"
	"fmt"

	"slotguard/internal/config"
	"slotguard/internal/domain"
	"slotguard/internal/metrics"
	"slotguard/internal/models"

	"github.com/rs/zerolog"
)

// Limiter resolves an identity's tier to its quota and charges the counter store.
type Limiter struct {
	store  domain.CounterStore
	tiers  map[models.Tier]models.Limits
	logger *zerolog.Logger
}

func NewLimiter(store domain.CounterStore, cfg config.RateLimitConfig, logger *zerolog.Logger) *Limiter {
	tiers := make(map[models.Tier]models.Limits)
	for tier, l := range config.DefaultTierLimits() {
		tiers[tier] = models.Limits{PerMinute: l.PerMinute, PerHour: l.PerHour}
	}
	for tier, l := range cfg.Tiers {
		tiers[tier] = models.Limits{PerMinute: l.PerMinute, PerHour: l.PerHour}
	}
	return &Limiter{store: store, tiers: tiers, logger: logger}
}

// LimitsFor returns the quota of a tier; unknown tiers get the public quota.
func (l *Limiter) LimitsFor(tier models.Tier) models.Limits {
	if limits, ok := l.tiers[tier]; ok {
		return limits
	}
	return l.tiers[models.TierPublic]
}

// CheckAndConsume charges cost units to identity in both windows or in
// neither. A denial is a result, not an error; an error means the counter
// store could not decide and wraps ErrLimiterUnavailable.
func (l *Limiter) CheckAndConsume(ctx context.Context, identity models.Identity, cost int) (*models.LimitResult, error) {
	if cost <= 0 {
		cost = 1
	}
	limits := l.LimitsFor(identity.Tier)
	if limits.PerMinute <= 0 && limits.PerHour <= 0 {
		return &models.LimitResult{Allowed: true, RemainingMinute: -1, RemainingHour: -1}, nil
	}

	result, err := l.store.Consume(ctx, identity.Key, limits, cost)
	if err != nil {
		l.logger.Error().Err(err).Str("identity", identity.Key).Msg("rate limiter store failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrLimiterUnavailable, err)
	}

	mode := "primary"
	if result.Degraded {
		mode = "fallback"
	}
	metrics.IncRateLimit(result.Allowed, mode)

	if !result.Allowed {
		l.logger.Info().
			Str("identity", identity.Key).
			Str("tier", string(identity.Tier)).
			Str("scope", string(result.Scope)).
			Int("retry_after", result.RetryAfterSeconds).
			Bool("degraded", result.Degraded).
			Msg("rate limit exceeded")
	}
	return result, nil
}

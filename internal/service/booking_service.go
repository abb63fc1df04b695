package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"slotguard/internal/domain"
	"slotguard/internal/events"
	"slotguard/internal/models"

	"github.com/rs/zerolog"
)

// lockRetryAfter is the retry hint sent with LOCK_TIMEOUT and VERSION_CONFLICT.
const lockRetryAfter = 1

// BookingService orchestrates one booking request: rate limit, idempotency,
// slot claim, event.
type BookingService struct {
	arbiter        domain.SlotArbiter
	limiter        domain.RateLimiter
	idempotency    domain.Idempotency
	eventBus       domain.EventPublisher
	idempotencyTTL time.Duration
	logger         *zerolog.Logger
}

func NewBookingService(
	arbiter domain.SlotArbiter,
	limiter domain.RateLimiter,
	idempotency domain.Idempotency,
	eventBus domain.EventPublisher,
	idempotencyTTL time.Duration,
	logger *zerolog.Logger,
) *BookingService {
	if idempotencyTTL <= 0 {
		idempotencyTTL = models.DefaultIdempotencyTTL
	}
	return &BookingService{
		arbiter:        arbiter,
		limiter:        limiter,
		idempotency:    idempotency,
		eventBus:       eventBus,
		idempotencyTTL: idempotencyTTL,
		logger:         logger,
	}
}

// Book claims a seat for req. Rejections are returned as outcomes; the error
// is reserved for failures the caller should report as internal.
func (s *BookingService) Book(ctx context.Context, identity models.Identity, idempotencyKey string, req models.CreateBookingRequest) (*models.BookingOutcome, error) {
	limit, out := s.checkLimit(ctx, identity)
	if out != nil {
		return out, nil
	}

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" || s.idempotency == nil {
		out, err := s.claim(ctx, identity, req, idempotencyKey)
		if err != nil {
			return nil, err
		}
		return withLimit(out, limit), nil
	}

	fingerprint, err := Fingerprint(req)
	if err != nil {
		return nil, err
	}
	scopedKey := identity.Key + ":" + idempotencyKey

	record, replayed, err := s.idempotency.GetOrCompute(ctx, scopedKey, fingerprint, s.idempotencyTTL,
		func(ctx context.Context) (*domain.Outcome, error) {
			out, err := s.claim(ctx, identity, req, idempotencyKey)
			if err != nil {
				return nil, err
			}
			body, err := json.Marshal(out)
			if err != nil {
				return nil, fmt.Errorf("marshal outcome: %w", err)
			}
			return &domain.Outcome{StatusCode: out.StatusCode, Body: body, Cacheable: cacheable(out)}, nil
		})
	switch {
	case errors.Is(err, domain.ErrIdempotencyInFlight):
		return withLimit(&models.BookingOutcome{
			StatusCode:        http.StatusConflict,
			Reason:            models.ReasonInProgress,
			Message:           err.Error(),
			RetryAfterSeconds: lockRetryAfter,
		}, limit), nil
	case errors.Is(err, domain.ErrIdempotencyUnavailable):
		s.logger.Error().Err(err).Str("identity", identity.Key).Msg("idempotency store failed")
		return withLimit(&models.BookingOutcome{
			StatusCode: http.StatusServiceUnavailable,
			Reason:     models.ReasonUnavailable,
			Message:    domain.ErrIdempotencyUnavailable.Error(),
		}, limit), nil
	case errors.Is(err, domain.ErrIdempotencyMismatch):
		return withLimit(&models.BookingOutcome{
			StatusCode: http.StatusUnprocessableEntity,
			Reason:     models.ReasonIdempotencyMismatch,
			Message:    err.Error(),
		}, limit), nil
	case err != nil:
		return nil, err
	}

	var stored models.BookingOutcome
	if err := json.Unmarshal(record.Body, &stored); err != nil {
		return nil, fmt.Errorf("decode stored outcome: %w", err)
	}
	stored.Replayed = replayed
	if replayed {
		s.logger.Info().Str("identity", identity.Key).Str("idempotency_key", idempotencyKey).
			Int("status", stored.StatusCode).Msg("idempotent replay")
	}
	return withLimit(&stored, limit), nil
}

func (s *BookingService) claim(ctx context.Context, identity models.Identity, req models.CreateBookingRequest, idempotencyKey string) (*models.BookingOutcome, error) {
	if err := validateRequest(req); err != nil {
		return invalid(err), nil
	}

	key := req.SlotKey()
	result, err := s.arbiter.TryClaim(ctx, key, req.Intent(idempotencyKey))
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrUnknownResource):
		return invalid(err), nil
	case err != nil:
		s.logger.Error().Err(err).Str("slot", key.String()).Msg("claim failed")
		return nil, err
	}

	if !result.Claimed {
		return rejection(result.Reason), nil
	}

	s.publish(events.EventBookingCreated, result.Booking, result.Version, identity.Key)
	return &models.BookingOutcome{StatusCode: http.StatusCreated, Booking: result.Booking}, nil
}

// Cancel releases the booking's seat.
func (s *BookingService) Cancel(ctx context.Context, identity models.Identity, bookingID string) (*models.BookingOutcome, error) {
	return s.transition(ctx, identity, bookingID, s.arbiter.Release, events.EventBookingCancelled)
}

func (s *BookingService) Confirm(ctx context.Context, identity models.Identity, bookingID string) (*models.BookingOutcome, error) {
	return s.transition(ctx, identity, bookingID, s.arbiter.Confirm, events.EventBookingConfirmed)
}

func (s *BookingService) Complete(ctx context.Context, identity models.Identity, bookingID string) (*models.BookingOutcome, error) {
	return s.transition(ctx, identity, bookingID, s.arbiter.Complete, events.EventBookingCompleted)
}

// Expire cancels a stale pending booking on behalf of the system. It skips
// the rate limiter and reports lock contention as an error so the caller can
// retry.
func (s *BookingService) Expire(ctx context.Context, bookingID string) (*models.ReleaseResult, error) {
	res, err := s.arbiter.Release(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !res.NoOp {
		s.publish(events.EventBookingCancelled, res.Booking, res.SlotVersion, "system:expiry")
	}
	return res, nil
}

func (s *BookingService) transition(
	ctx context.Context,
	identity models.Identity,
	bookingID string,
	apply func(context.Context, string) (*models.ReleaseResult, error),
	eventType string,
) (*models.BookingOutcome, error) {
	limit, out := s.checkLimit(ctx, identity)
	if out != nil {
		return out, nil
	}

	res, err := apply(ctx, bookingID)
	switch {
	case errors.Is(err, domain.ErrBookingNotFound):
		return withLimit(&models.BookingOutcome{StatusCode: http.StatusNotFound, Reason: models.ReasonNotFound, Message: err.Error()}, limit), nil
	case errors.Is(err, domain.ErrInvalidTransition):
		return withLimit(&models.BookingOutcome{StatusCode: http.StatusConflict, Reason: models.ReasonInvalidTransition, Message: err.Error()}, limit), nil
	case errors.Is(err, domain.ErrLockTimeout):
		return withLimit(rejection(models.ReasonLockTimeout), limit), nil
	case errors.Is(err, domain.ErrVersionConflict):
		return withLimit(rejection(models.ReasonVersionConflict), limit), nil
	case err != nil:
		s.logger.Error().Err(err).Str("booking_id", bookingID).Str("event", eventType).Msg("booking transition failed")
		return nil, err
	}

	if !res.NoOp {
		s.publish(eventType, res.Booking, res.SlotVersion, identity.Key)
	}
	return withLimit(&models.BookingOutcome{StatusCode: http.StatusOK, Booking: res.Booking}, limit), nil
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.arbiter.GetBooking(ctx, bookingID)
}

func (s *BookingService) GetSlot(ctx context.Context, key models.SlotKey) (*models.TimeSlot, error) {
	return s.arbiter.GetSlot(ctx, key)
}

// checkLimit charges one unit to identity. A non-nil outcome means the
// request must stop there.
func (s *BookingService) checkLimit(ctx context.Context, identity models.Identity) (*models.LimitResult, *models.BookingOutcome) {
	if s.limiter == nil {
		return nil, nil
	}
	res, err := s.limiter.CheckAndConsume(ctx, identity, 1)
	if err != nil {
		return nil, &models.BookingOutcome{
			StatusCode: http.StatusServiceUnavailable,
			Reason:     models.ReasonUnavailable,
			Message:    domain.ErrLimiterUnavailable.Error(),
		}
	}
	if !res.Allowed {
		rlErr := &domain.RateLimitError{Scope: res.Scope, RetryAfterSeconds: res.RetryAfterSeconds}
		return res, withLimit(&models.BookingOutcome{
			StatusCode:        http.StatusTooManyRequests,
			Reason:            models.ReasonRateLimited,
			Message:           rlErr.Error(),
			RetryAfterSeconds: res.RetryAfterSeconds,
		}, res)
	}
	return res, nil
}

func (s *BookingService) publish(eventType string, b *models.Booking, slotVersion int64, actor string) {
	if s.eventBus == nil || b == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:   b.ID,
		Slot:        b.SlotKey.String(),
		Seat:        b.Seat,
		CustomerRef: b.CustomerRef,
		Status:      b.Status,
		Version:     b.Version,
		SlotVersion: slotVersion,
		ChangedBy:   actor,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", b.ID).Msg("publish event error")
	}
}

// Fingerprint hashes the request body so a reused idempotency key with a
// different payload can be detected.
func Fingerprint(req models.CreateBookingRequest) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("fingerprint request: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func validateRequest(req models.CreateBookingRequest) error {
	if err := req.SlotKey().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(req.CustomerRef) == "" {
		return errors.New("customer_ref is required")
	}
	if req.Guests < 0 {
		return errors.New("guests must not be negative")
	}
	return nil
}

func invalid(err error) *models.BookingOutcome {
	return &models.BookingOutcome{
		StatusCode: http.StatusBadRequest,
		Reason:     models.ReasonInvalidRequest,
		Message:    err.Error(),
	}
}

func rejection(reason models.RejectReason) *models.BookingOutcome {
	out := &models.BookingOutcome{
		StatusCode: http.StatusConflict,
		Reason:     reason,
		Message:    domain.ReasonError(reason).Error(),
	}
	if reason == models.ReasonLockTimeout || reason == models.ReasonVersionConflict {
		out.RetryAfterSeconds = lockRetryAfter
	}
	return out
}

// cacheable reports whether an outcome is final for its idempotency key.
// Contention outcomes are not: a retry may succeed.
func cacheable(out *models.BookingOutcome) bool {
	switch {
	case out.StatusCode == http.StatusCreated:
		return true
	case out.Reason == models.ReasonSlotFull, out.Reason == models.ReasonInvalidRequest:
		return true
	}
	return false
}

func withLimit(out *models.BookingOutcome, limit *models.LimitResult) *models.BookingOutcome {
	if limit != nil {
		out.Limit = limit
		out.Degraded = limit.Degraded
	}
	return out
}

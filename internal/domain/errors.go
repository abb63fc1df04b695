package domain

import (
	"errors"
	"fmt"

	"slotguard/internal/models"
)

var (
	// ErrSlotFull means capacity is exhausted; do not retry the same slot.
	ErrSlotFull = errors.New("slot is full")
	// ErrVersionConflict means a concurrent mutation won; one retry is reasonable.
	ErrVersionConflict = errors.New("slot changed concurrently")
	// ErrLockTimeout means another caller holds the slot; retry with backoff.
	ErrLockTimeout = errors.New("slot is being booked by someone else")

	ErrInvalidRequest      = errors.New("invalid request")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrLimiterUnavailable  = errors.New("rate limiter unavailable")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrInvalidTransition   = errors.New("invalid booking status transition")
	ErrUnknownResource     = errors.New("unknown resource")
	ErrIdempotencyInFlight = errors.New("request with this idempotency key is in progress")
	ErrIdempotencyMismatch = errors.New("idempotency key reused with a different request")

	// ErrIdempotencyUnavailable means the key store could not be read; the
	// request is refused rather than run unguarded.
	ErrIdempotencyUnavailable = errors.New("idempotency store unavailable")
)

// RateLimitError carries the window that refused the call and when to retry.
type RateLimitError struct {
	Scope             models.LimitScope
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s), retry after %ds", e.Scope, e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// ReasonError converts a claim rejection reason into its sentinel error.
func ReasonError(reason models.RejectReason) error {
	switch reason {
	case models.ReasonSlotFull:
		return ErrSlotFull
	case models.ReasonVersionConflict:
		return ErrVersionConflict
	case models.ReasonLockTimeout:
		return ErrLockTimeout
	default:
		return nil
	}
}

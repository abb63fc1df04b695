package domain

import (
	"context"
	"time"

	"slotguard/internal/models"
)

// SlotStore is the relational source of truth for slot occupancy. Only the
// arbiter mutates it.
type SlotStore interface {
	BeginSlotTx(ctx context.Context) (SlotTx, error)
	GetSlot(ctx context.Context, key models.SlotKey) (*models.TimeSlot, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListSlotBookings(ctx context.Context, key models.SlotKey) ([]*models.Booking, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Booking, error)
	Ping(ctx context.Context) error
	Close() error
}

// SlotTx is one decide-and-write unit. Rollback after Commit is a no-op.
type SlotTx interface {
	// LockSlot creates the slot row if needed and takes an exclusive lock on it.
	LockSlot(ctx context.Context, key models.SlotKey, capacity int) (*models.TimeSlot, error)
	ActiveSeats(ctx context.Context, key models.SlotKey) ([]int, error)
	// UpdateSlot writes occupancy conditioned on fromVersion and returns the new version.
	UpdateSlot(ctx context.Context, key models.SlotKey, fromVersion int64, occupancy int) (int64, error)
	InsertBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, fromVersion int64, status string) (int64, error)
	Commit() error
	Rollback() error
}

// CounterStore performs one indivisible check-and-increment of both windows.
type CounterStore interface {
	Consume(ctx context.Context, identity string, limits models.Limits, cost int) (*models.LimitResult, error)
}

// IdempotencyStore keeps request outcomes keyed by client-supplied tokens.
type IdempotencyStore interface {
	// Get returns nil, nil when nothing is stored under key.
	Get(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	// Reserve inserts a pending record only if the key is absent.
	Reserve(ctx context.Context, record *models.IdempotencyRecord, lease time.Duration) (bool, error)
	// Complete stores the terminal record, replacing the pending one.
	Complete(ctx context.Context, record *models.IdempotencyRecord, ttl time.Duration) error
	// Release drops a pending record if it still carries token.
	Release(ctx context.Context, key, token string) error
}

type SlotArbiter interface {
	TryClaim(ctx context.Context, key models.SlotKey, intent models.BookingIntent) (*models.ClaimResult, error)
	Release(ctx context.Context, bookingID string) (*models.ReleaseResult, error)
	Confirm(ctx context.Context, bookingID string) (*models.ReleaseResult, error)
	Complete(ctx context.Context, bookingID string) (*models.ReleaseResult, error)
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	GetSlot(ctx context.Context, key models.SlotKey) (*models.TimeSlot, error)
}

type RateLimiter interface {
	CheckAndConsume(ctx context.Context, identity models.Identity, cost int) (*models.LimitResult, error)
}

// Outcome is what a computation hands to the idempotency layer.
type Outcome struct {
	StatusCode int
	Body       []byte
	Cacheable  bool
}

type Idempotency interface {
	GetOrCompute(
		ctx context.Context,
		key, fingerprint string,
		ttl time.Duration,
		compute func(ctx context.Context) (*Outcome, error),
	) (*models.IdempotencyRecord, bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

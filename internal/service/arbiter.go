package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"slotguard/internal/config"
	"slotguard/internal/database"
	"slotguard/internal/domain"
	"slotguard/internal/metrics"
	"slotguard/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Arbiter decides slot claims. Every decision runs as one store transaction:
// lock the slot row, check capacity, bump the version conditionally, insert
// the booking. The partial unique seat index backs all of it up.
type Arbiter struct {
	store           domain.SlotStore
	resources       map[string]int
	defaultCapacity int
	logger          *zerolog.Logger
}

func NewArbiter(store domain.SlotStore, cfg config.BookingConfig, logger *zerolog.Logger) *Arbiter {
	resources := make(map[string]int, len(cfg.Resources))
	for _, r := range cfg.Resources {
		resources[strings.TrimSpace(r.Name)] = r.Capacity
	}
	defaultCapacity := cfg.DefaultCapacity
	if defaultCapacity <= 0 {
		defaultCapacity = 1
	}
	return &Arbiter{
		store:           store,
		resources:       resources,
		defaultCapacity: defaultCapacity,
		logger:          logger,
	}
}

// capacity resolves a resource against the catalog. An empty catalog accepts
// any resource with the default capacity.
func (a *Arbiter) capacity(resource string) (int, error) {
	if len(a.resources) == 0 {
		return a.defaultCapacity, nil
	}
	c, ok := a.resources[resource]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownResource, resource)
	}
	return c, nil
}

func (a *Arbiter) TryClaim(ctx context.Context, key models.SlotKey, intent models.BookingIntent) (*models.ClaimResult, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	capacity, err := a.capacity(key.Resource)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	tx, err := a.store.BeginSlotTx(ctx)
	if err != nil {
		return a.rejectOnLock(key, err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil {
			a.logger.Warn().Err(rbErr).Str("slot", key.String()).Msg("rollback failed")
		}
	}()

	slot, err := tx.LockSlot(ctx, key, capacity)
	if err != nil {
		return a.rejectOnLock(key, err)
	}
	metrics.ObserveLockWait(time.Since(start))

	if slot.Occupancy >= slot.Capacity {
		return a.reject(key, models.ReasonSlotFull), nil
	}

	seats, err := tx.ActiveSeats(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list active seats: %w", err)
	}
	seat := firstFreeSeat(seats, slot.Capacity)
	if seat < 0 {
		a.logger.Warn().Str("slot", key.String()).Int("occupancy", slot.Occupancy).Int("active", len(seats)).
			Msg("occupancy below capacity but no free seat")
		return a.reject(key, models.ReasonSlotFull), nil
	}

	newVersion, err := tx.UpdateSlot(ctx, key, slot.Version, slot.Occupancy+1)
	if errors.Is(err, database.ErrConcurrentModification) {
		return a.reject(key, models.ReasonVersionConflict), nil
	}
	if err != nil {
		return a.rejectOnLock(key, err)
	}

	booking := &models.Booking{
		ID:             uuid.NewString(),
		SlotKey:        key,
		Seat:           seat,
		CustomerRef:    intent.CustomerRef,
		CustomerName:   intent.CustomerName,
		Phone:          intent.Phone,
		Guests:         intent.Guests,
		Comment:        intent.Comment,
		Status:         models.StatusPending,
		IdempotencyKey: intent.IdempotencyKey,
	}
	if err := tx.InsertBooking(ctx, booking); err != nil {
		if errors.Is(err, database.ErrSeatTaken) {
			return a.reject(key, models.ReasonSlotFull), nil
		}
		return a.rejectOnLock(key, err)
	}

	if err := tx.Commit(); err != nil {
		return a.rejectOnLock(key, err)
	}

	metrics.IncClaim("claimed")
	a.logger.Debug().Str("slot", key.String()).Str("booking_id", booking.ID).Int("seat", seat).
		Int64("slot_version", newVersion).Msg("slot claimed")

	return &models.ClaimResult{
		Claimed:   true,
		BookingID: booking.ID,
		Version:   newVersion,
		Booking:   booking,
	}, nil
}

func (a *Arbiter) reject(key models.SlotKey, reason models.RejectReason) *models.ClaimResult {
	metrics.IncClaim(string(reason))
	a.logger.Debug().Str("slot", key.String()).Str("reason", string(reason)).Msg("claim rejected")
	return &models.ClaimResult{Claimed: false, Reason: reason}
}

// rejectOnLock turns a lock timeout into a rejection and passes other errors through.
func (a *Arbiter) rejectOnLock(key models.SlotKey, err error) (*models.ClaimResult, error) {
	if errors.Is(err, database.ErrLockTimeout) {
		return a.reject(key, models.ReasonLockTimeout), nil
	}
	metrics.IncClaim("error")
	return nil, fmt.Errorf("claim %s: %w", key, err)
}

func firstFreeSeat(taken []int, capacity int) int {
	used := make(map[int]bool, len(taken))
	for _, s := range taken {
		used[s] = true
	}
	for seat := 0; seat < capacity; seat++ {
		if !used[seat] {
			return seat
		}
	}
	return -1
}

// transition describes one booking status change.
type transition struct {
	target string
	from   []string
	// frees releases the seat and decrements occupancy
	frees bool
}

var (
	cancelTransition   = transition{target: models.StatusCancelled, from: []string{models.StatusPending, models.StatusConfirmed}, frees: true}
	confirmTransition  = transition{target: models.StatusConfirmed, from: []string{models.StatusPending}}
	completeTransition = transition{target: models.StatusCompleted, from: []string{models.StatusConfirmed}, frees: true}
)

// Release cancels a booking and frees its seat. Cancelling a cancelled
// booking is a no-op.
func (a *Arbiter) Release(ctx context.Context, bookingID string) (*models.ReleaseResult, error) {
	return a.apply(ctx, bookingID, cancelTransition)
}

func (a *Arbiter) Confirm(ctx context.Context, bookingID string) (*models.ReleaseResult, error) {
	return a.apply(ctx, bookingID, confirmTransition)
}

// Complete marks a confirmed booking as served and frees its seat.
func (a *Arbiter) Complete(ctx context.Context, bookingID string) (*models.ReleaseResult, error) {
	return a.apply(ctx, bookingID, completeTransition)
}

func (a *Arbiter) apply(ctx context.Context, bookingID string, t transition) (*models.ReleaseResult, error) {
	existing, err := a.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	key := existing.SlotKey

	tx, err := a.store.BeginSlotTx(ctx)
	if err != nil {
		return nil, translateStoreError(err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil {
			a.logger.Warn().Err(rbErr).Str("booking_id", bookingID).Msg("rollback failed")
		}
	}()

	slot, err := tx.LockSlot(ctx, key, a.capacityOr(key.Resource, 1))
	if err != nil {
		return nil, translateStoreError(err)
	}

	// re-read under the slot lock
	booking, err := tx.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if booking.Status == t.target {
		return &models.ReleaseResult{Booking: booking, NoOp: true, SlotVersion: slot.Version}, nil
	}
	if !slices.Contains(t.from, booking.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, booking.Status, t.target)
	}

	newVersion, err := tx.UpdateBookingStatus(ctx, bookingID, booking.Version, t.target)
	if err != nil {
		return nil, translateStoreError(err)
	}

	slotVersion := slot.Version
	if t.frees {
		occupancy := slot.Occupancy - 1
		if occupancy < 0 {
			a.logger.Warn().Str("slot", key.String()).Msg("occupancy already zero while releasing a seat")
			occupancy = 0
		}
		slotVersion, err = tx.UpdateSlot(ctx, key, slot.Version, occupancy)
		if err != nil {
			return nil, translateStoreError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, translateStoreError(err)
	}

	booking.Status = t.target
	booking.Version = newVersion
	booking.UpdatedAt = time.Now().UTC()
	a.logger.Debug().Str("booking_id", bookingID).Str("status", t.target).Int64("slot_version", slotVersion).
		Msg("booking status changed")

	return &models.ReleaseResult{Booking: booking, SlotVersion: slotVersion}, nil
}

func (a *Arbiter) capacityOr(resource string, fallback int) int {
	c, err := a.capacity(resource)
	if err != nil {
		return fallback
	}
	return c
}

func (a *Arbiter) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := a.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return b, nil
}

// GetSlot returns the slot state. A slot nobody has claimed yet is reported
// empty with version 0.
func (a *Arbiter) GetSlot(ctx context.Context, key models.SlotKey) (*models.TimeSlot, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	capacity, err := a.capacity(key.Resource)
	if err != nil {
		return nil, err
	}

	slot, err := a.store.GetSlot(ctx, key)
	if errors.Is(err, database.ErrSlotNotFound) {
		return &models.TimeSlot{Key: key, Capacity: capacity}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get slot %s: %w", key, err)
	}
	return slot, nil
}

func translateStoreError(err error) error {
	switch {
	case errors.Is(err, database.ErrBookingNotFound):
		return domain.ErrBookingNotFound
	case errors.Is(err, database.ErrLockTimeout):
		return domain.ErrLockTimeout
	case errors.Is(err, database.ErrConcurrentModification):
		return domain.ErrVersionConflict
	}
	return err
}

package database

import (
	"context"
	"testing"
	"time"

	"slotguard/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSlot = models.SlotKey{Date: "2025-06-15", Time: "18:00", Resource: "StationA"}

func newBooking(key models.SlotKey, seat int, customer string) *models.Booking {
	return &models.Booking{
		ID:          uuid.NewString(),
		SlotKey:     key,
		Seat:        seat,
		CustomerRef: customer,
		Status:      models.StatusPending,
	}
}

func TestLockSlotCreatesRow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetSlot(ctx, testSlot)
	assert.ErrorIs(t, err, ErrSlotNotFound)

	tx, err := db.BeginSlotTx(ctx)
	require.NoError(t, err)
	slot, err := tx.LockSlot(ctx, testSlot, 3)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback(), "rollback after commit is a no-op")

	assert.Equal(t, testSlot, slot.Key)
	assert.Equal(t, 3, slot.Capacity)
	assert.Equal(t, 0, slot.Occupancy)
	assert.Equal(t, int64(1), slot.Version)

	stored, err := db.GetSlot(ctx, testSlot)
	require.NoError(t, err)
	assert.Equal(t, slot.Version, stored.Version)
}

func TestLockSlotKeepsExistingCapacity(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, capacity := range []int{2, 5} {
		tx, err := db.BeginSlotTx(ctx)
		require.NoError(t, err)
		_, err = tx.LockSlot(ctx, testSlot, capacity)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
	}

	slot, err := db.GetSlot(ctx, testSlot)
	require.NoError(t, err)
	assert.Equal(t, 2, slot.Capacity)
}

func TestUpdateSlotVersionCheck(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginSlotTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	slot, err := tx.LockSlot(ctx, testSlot, 1)
	require.NoError(t, err)

	newVersion, err := tx.UpdateSlot(ctx, testSlot, slot.Version, 1)
	require.NoError(t, err)
	assert.Equal(t, slot.Version+1, newVersion)

	_, err = tx.UpdateSlot(ctx, testSlot, slot.Version, 0)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestOccupancyCheckConstraint(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginSlotTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	slot, err := tx.LockSlot(ctx, testSlot, 1)
	require.NoError(t, err)

	_, err = tx.UpdateSlot(ctx, testSlot, slot.Version, 2)
	assert.Error(t, err, "occupancy above capacity must be refused by the engine")
}

func TestActiveSeatUniqueness(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginSlotTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.LockSlot(ctx, testSlot, 1)
	require.NoError(t, err)

	first := newBooking(testSlot, 0, "cust-1")
	require.NoError(t, tx.InsertBooking(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	second := newBooking(testSlot, 0, "cust-2")
	err = tx.InsertBooking(ctx, second)
	assert.ErrorIs(t, err, ErrSeatTaken)

	// a cancelled booking no longer holds the seat
	_, err = tx.UpdateBookingStatus(ctx, first.ID, first.Version, models.StatusCancelled)
	require.NoError(t, err)
	require.NoError(t, tx.InsertBooking(ctx, second))

	seats, err := tx.ActiveSeats(ctx, testSlot)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, seats)
	require.NoError(t, tx.Commit())

	active, err := db.CountActiveBookings(ctx, testSlot)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	all, err := db.ListSlotBookings(ctx, testSlot)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBookingStatusVersioning(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginSlotTx(ctx)
	require.NoError(t, err)
	_, err = tx.LockSlot(ctx, testSlot, 1)
	require.NoError(t, err)
	b := newBooking(testSlot, 0, "cust-1")
	b.CustomerName = "Ada"
	b.Guests = 40
	require.NoError(t, tx.InsertBooking(ctx, b))

	v, err := tx.UpdateBookingStatus(ctx, b.ID, b.Version, models.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = tx.UpdateBookingStatus(ctx, b.ID, b.Version, models.StatusCancelled)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	require.NoError(t, tx.Commit())

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, testSlot, got.SlotKey)
	assert.Equal(t, "Ada", got.CustomerName)
	assert.Equal(t, 40, got.Guests)
	assert.Equal(t, int64(2), got.Version)

	_, err = db.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestListStalePending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginSlotTx(ctx)
	require.NoError(t, err)
	_, err = tx.LockSlot(ctx, testSlot, 2)
	require.NoError(t, err)
	pending := newBooking(testSlot, 0, "cust-1")
	require.NoError(t, tx.InsertBooking(ctx, pending))
	confirmed := newBooking(testSlot, 1, "cust-2")
	confirmed.Status = models.StatusConfirmed
	require.NoError(t, tx.InsertBooking(ctx, confirmed))
	require.NoError(t, tx.Commit())

	stale, err := db.ListStalePending(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, pending.ID, stale[0].ID)

	fresh, err := db.ListStalePending(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

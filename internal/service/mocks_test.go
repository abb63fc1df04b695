package service

import (
	"context"
	"time"

	"slotguard/internal/domain"
	"slotguard/internal/models"

	"github.com/stretchr/testify/mock"
)

type mockSlotStore struct {
	mock.Mock
}

func (m *mockSlotStore) BeginSlotTx(ctx context.Context) (domain.SlotTx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.SlotTx), args.Error(1)
}
func (m *mockSlotStore) GetSlot(ctx context.Context, key models.SlotKey) (*models.TimeSlot, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TimeSlot), args.Error(1)
}
func (m *mockSlotStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockSlotStore) ListSlotBookings(ctx context.Context, key models.SlotKey) ([]*models.Booking, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockSlotStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.Booking, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockSlotStore) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockSlotStore) Close() error                   { return m.Called().Error(0) }

type mockSlotTx struct {
	mock.Mock
}

func (m *mockSlotTx) LockSlot(ctx context.Context, key models.SlotKey, capacity int) (*models.TimeSlot, error) {
	args := m.Called(ctx, key, capacity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TimeSlot), args.Error(1)
}
func (m *mockSlotTx) ActiveSeats(ctx context.Context, key models.SlotKey) ([]int, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int), args.Error(1)
}
func (m *mockSlotTx) UpdateSlot(ctx context.Context, key models.SlotKey, fromVersion int64, occupancy int) (int64, error) {
	args := m.Called(ctx, key, fromVersion, occupancy)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockSlotTx) InsertBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockSlotTx) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockSlotTx) UpdateBookingStatus(ctx context.Context, id string, fromVersion int64, status string) (int64, error) {
	args := m.Called(ctx, id, fromVersion, status)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockSlotTx) Commit() error   { return m.Called().Error(0) }
func (m *mockSlotTx) Rollback() error { return m.Called().Error(0) }

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) CheckAndConsume(ctx context.Context, identity models.Identity, cost int) (*models.LimitResult, error) {
	args := m.Called(ctx, identity, cost)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LimitResult), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

type mockArbiter struct {
	mock.Mock
}

func (m *mockArbiter) TryClaim(ctx context.Context, key models.SlotKey, intent models.BookingIntent) (*models.ClaimResult, error) {
	args := m.Called(ctx, key, intent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ClaimResult), args.Error(1)
}
func (m *mockArbiter) Release(ctx context.Context, id string) (*models.ReleaseResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ReleaseResult), args.Error(1)
}
func (m *mockArbiter) Confirm(ctx context.Context, id string) (*models.ReleaseResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ReleaseResult), args.Error(1)
}
func (m *mockArbiter) Complete(ctx context.Context, id string) (*models.ReleaseResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ReleaseResult), args.Error(1)
}
func (m *mockArbiter) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockArbiter) GetSlot(ctx context.Context, key models.SlotKey) (*models.TimeSlot, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TimeSlot), args.Error(1)
}

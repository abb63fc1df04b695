package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"slotguard/internal/domain"
	"slotguard/internal/models"
)

const bookingColumns = `id, slot_key, seat, customer_ref, customer_name, phone, guests,
	comment, status, idempotency_key, version, created_at, updated_at`

const slotColumns = `slot_date, slot_time, resource, capacity, occupancy, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// BeginSlotTx opens an IMMEDIATE transaction, which takes the database write
// lock up front. Both waits are bounded by the lock timeout: the wait for a
// pooled connection (an in-memory store has exactly one) and the busy wait
// on the write lock. Either one running out yields ErrLockTimeout.
func (db *DB) BeginSlotTx(ctx context.Context) (domain.SlotTx, error) {
	waitCtx, cancel := context.WithTimeout(ctx, db.lockTimeout)
	conn, err := db.Conn(waitCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to begin transaction: %w", translate(err))
	}
	return &slotTx{tx: tx, conn: conn}, nil
}

func (db *DB) GetSlot(ctx context.Context, key models.SlotKey) (*models.TimeSlot, error) {
	return getSlot(ctx, db.DB, key)
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return getBooking(ctx, db.DB, id)
}

func (db *DB) ListSlotBookings(ctx context.Context, key models.SlotKey) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE slot_key = ? ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query, key.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list slot bookings: %w", err)
	}
	return scanBookings(rows)
}

func (db *DB) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE status = ? AND created_at < ? ORDER BY created_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.StatusPending, createdBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending bookings: %w", err)
	}
	return scanBookings(rows)
}

// CountActiveBookings returns the number of seat-holding bookings for a slot.
func (db *DB) CountActiveBookings(ctx context.Context, key models.SlotKey) (int, error) {
	query := `SELECT COUNT(*) FROM bookings WHERE slot_key = ? AND status IN (?, ?)`
	var count int
	err := db.QueryRowContext(ctx, query, key.String(), models.StatusPending, models.StatusConfirmed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active bookings: %w", err)
	}
	return count, nil
}

// slotTx owns its connection and hands it back to the pool when the
// transaction ends.
type slotTx struct {
	tx   *sql.Tx
	conn *sql.Conn
	once sync.Once
}

func (t *slotTx) release() {
	t.once.Do(func() { _ = t.conn.Close() })
}

func (t *slotTx) LockSlot(ctx context.Context, key models.SlotKey, capacity int) (*models.TimeSlot, error) {
	now := time.Now().UTC()
	insert := `INSERT INTO time_slots (slot_key, slot_date, slot_time, resource, capacity, occupancy, version, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, 0, 1, ?, ?)
               ON CONFLICT(slot_key) DO NOTHING`
	if _, err := t.tx.ExecContext(ctx, insert, key.String(), key.Date, key.Time, key.Resource, capacity, now, now); err != nil {
		return nil, fmt.Errorf("failed to ensure slot row: %w", translate(err))
	}

	// the IMMEDIATE transaction already holds the write lock
	slot, err := getSlot(ctx, t.tx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read locked slot: %w", translate(err))
	}
	return slot, nil
}

func (t *slotTx) ActiveSeats(ctx context.Context, key models.SlotKey) ([]int, error) {
	query := `SELECT seat FROM bookings WHERE slot_key = ? AND status IN (?, ?) ORDER BY seat`
	rows, err := t.tx.QueryContext(ctx, query, key.String(), models.StatusPending, models.StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to list active seats: %w", translate(err))
	}
	defer rows.Close()

	var seats []int
	for rows.Next() {
		var seat int
		if err := rows.Scan(&seat); err != nil {
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		seats = append(seats, seat)
	}
	return seats, rows.Err()
}

func (t *slotTx) UpdateSlot(ctx context.Context, key models.SlotKey, fromVersion int64, occupancy int) (int64, error) {
	query := `UPDATE time_slots SET occupancy = ?, version = version + 1, updated_at = ?
              WHERE slot_key = ? AND version = ?`
	result, err := t.tx.ExecContext(ctx, query, occupancy, time.Now().UTC(), key.String(), fromVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to update slot: %w", translate(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return 0, ErrConcurrentModification
	}
	return fromVersion + 1, nil
}

func (t *slotTx) InsertBooking(ctx context.Context, booking *models.Booking) error {
	query := `INSERT INTO bookings (` + bookingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	_, err := t.tx.ExecContext(ctx, query,
		booking.ID,
		booking.SlotKey.String(),
		booking.Seat,
		booking.CustomerRef,
		booking.CustomerName,
		booking.Phone,
		booking.Guests,
		booking.Comment,
		booking.Status,
		booking.IdempotencyKey,
		1,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", translate(err))
	}
	booking.Version = 1
	booking.CreatedAt = now
	booking.UpdatedAt = now
	return nil
}

func (t *slotTx) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return getBooking(ctx, t.tx, id)
}

func (t *slotTx) UpdateBookingStatus(ctx context.Context, id string, fromVersion int64, status string) (int64, error) {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := t.tx.ExecContext(ctx, query, status, time.Now().UTC(), id, fromVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to update booking status: %w", translate(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return 0, ErrConcurrentModification
	}
	return fromVersion + 1, nil
}

func (t *slotTx) Commit() error {
	defer t.release()
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", translate(err))
	}
	return nil
}

func (t *slotTx) Rollback() error {
	defer t.release()
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func getSlot(ctx context.Context, q queryer, key models.SlotKey) (*models.TimeSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM time_slots WHERE slot_key = ?`
	slot := &models.TimeSlot{}
	err := q.QueryRowContext(ctx, query, key.String()).Scan(
		&slot.Key.Date, &slot.Key.Time, &slot.Key.Resource,
		&slot.Capacity, &slot.Occupancy, &slot.Version,
		&slot.CreatedAt, &slot.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

func getBooking(ctx context.Context, q queryer, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var slotKey string
	err := row.Scan(
		&b.ID, &slotKey, &b.Seat, &b.CustomerRef, &b.CustomerName, &b.Phone, &b.Guests,
		&b.Comment, &b.Status, &b.IdempotencyKey, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.SlotKey, err = models.ParseSlotKey(slotKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse slot key %s: %w", slotKey, err)
	}
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]*models.Booking, error) {
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

// Package postgres is the row-locking slot store. Unlike SQLite it locks one
// slot row at a time, so claims on different slots proceed in parallel.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotguard/internal/database"
	"slotguard/internal/domain"
	"slotguard/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	// SQLSTATE codes
	codeLockNotAvailable = "55P03"
	codeDeadlock         = "40P01"
	codeUniqueViolation  = "23505"
)

const bookingColumns = `id, slot_key, seat, customer_ref, customer_name, phone, guests,
	comment, status, idempotency_key, version, created_at, updated_at`

const slotColumns = `slot_date, slot_time, resource, capacity, occupancy, version, created_at, updated_at`

type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	noWait      bool
	logger      *zerolog.Logger
}

type Options struct {
	MaxConnections int
	LockTimeout    time.Duration
	// NoWait fails a contended lock immediately instead of waiting up to LockTimeout.
	NoWait bool
}

func Open(ctx context.Context, dsn string, opts Options, logger *zerolog.Logger) (*Store, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.MaxConnections > 0 {
		cfg.MaxConns = int32(opts.MaxConnections)
	}
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = models.DefaultLockTimeout
	}
	s := &Store{pool: pool, lockTimeout: lockTimeout, noWait: opts.NoWait, logger: logger}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}

	logger.Info().Dur("lock_timeout", lockTimeout).Bool("nowait", opts.NoWait).Msg("postgres slot store initialized")
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) BeginSlotTx(ctx context.Context) (domain.SlotTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", translate(err))
	}
	// bounds every lock the transaction waits on, including unique-index waits
	setTimeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, setTimeout); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("failed to set lock timeout: %w", translate(err))
	}
	return &slotTx{tx: tx, ctx: ctx, noWait: s.noWait}, nil
}

func (s *Store) GetSlot(ctx context.Context, key models.SlotKey) (*models.TimeSlot, error) {
	return getSlot(ctx, s.pool, key, "")
}

func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return getBooking(ctx, s.pool, id)
}

func (s *Store) ListSlotBookings(ctx context.Context, key models.SlotKey) ([]*models.Booking, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE slot_key = $1 ORDER BY created_at ASC`, key.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list slot bookings: %w", err)
	}
	return scanBookings(rows)
}

func (s *Store) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Booking, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3`,
		models.StatusPending, createdBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending bookings: %w", err)
	}
	return scanBookings(rows)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type slotTx struct {
	tx     pgx.Tx
	ctx    context.Context
	noWait bool
}

func (t *slotTx) LockSlot(ctx context.Context, key models.SlotKey, capacity int) (*models.TimeSlot, error) {
	now := time.Now().UTC()
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO time_slots (slot_key, slot_date, slot_time, resource, capacity, occupancy, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 1, $6, $6)
		ON CONFLICT (slot_key) DO NOTHING
	`, key.String(), key.Date, key.Time, key.Resource, capacity, now); err != nil {
		return nil, fmt.Errorf("failed to ensure slot row: %w", translate(err))
	}

	lock := "FOR UPDATE"
	if t.noWait {
		lock = "FOR UPDATE NOWAIT"
	}
	slot, err := getSlot(ctx, t.tx, key, lock)
	if err != nil {
		return nil, fmt.Errorf("failed to lock slot: %w", translate(err))
	}
	return slot, nil
}

func (t *slotTx) ActiveSeats(ctx context.Context, key models.SlotKey) ([]int, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT seat FROM bookings WHERE slot_key = $1 AND status = ANY($2) ORDER BY seat`,
		key.String(), models.ActiveStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list active seats: %w", translate(err))
	}
	seats, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("failed to scan seats: %w", translate(err))
	}
	return seats, nil
}

func (t *slotTx) UpdateSlot(ctx context.Context, key models.SlotKey, fromVersion int64, occupancy int) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE time_slots SET occupancy = $1, version = version + 1, updated_at = $2
		WHERE slot_key = $3 AND version = $4
	`, occupancy, time.Now().UTC(), key.String(), fromVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to update slot: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return 0, database.ErrConcurrentModification
	}
	return fromVersion + 1, nil
}

func (t *slotTx) InsertBooking(ctx context.Context, b *models.Booking) error {
	now := time.Now().UTC()
	_, err := t.tx.Exec(ctx, `INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $11)`,
		b.ID, b.SlotKey.String(), b.Seat, b.CustomerRef, b.CustomerName, b.Phone, b.Guests,
		b.Comment, b.Status, b.IdempotencyKey, now)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", translate(err))
	}
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

func (t *slotTx) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return getBooking(ctx, t.tx, id)
}

func (t *slotTx) UpdateBookingStatus(ctx context.Context, id string, fromVersion int64, status string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings SET status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4
	`, status, time.Now().UTC(), id, fromVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to update booking status: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return 0, database.ErrConcurrentModification
	}
	return fromVersion + 1, nil
}

func (t *slotTx) Commit() error {
	if err := t.tx.Commit(t.ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", translate(err))
	}
	return nil
}

func (t *slotTx) Rollback() error {
	// the caller's context may already be cancelled; rollback must still reach the server
	if err := t.tx.Rollback(context.WithoutCancel(t.ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func getSlot(ctx context.Context, q querier, key models.SlotKey, lock string) (*models.TimeSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM time_slots WHERE slot_key = $1 ` + lock
	slot := &models.TimeSlot{}
	err := q.QueryRow(ctx, query, key.String()).Scan(
		&slot.Key.Date, &slot.Key.Time, &slot.Key.Resource,
		&slot.Capacity, &slot.Occupancy, &slot.Version,
		&slot.CreatedAt, &slot.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, database.ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", translate(err))
	}
	return slot, nil
}

func getBooking(ctx context.Context, q querier, id string) (*models.Booking, error) {
	booking, err := scanBooking(q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, database.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
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

func scanBookings(rows pgx.Rows) ([]*models.Booking, error) {
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

// translate maps PostgreSQL errors onto the slot store sentinels.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeDeadlock:
		return database.ErrLockTimeout
	case codeUniqueViolation:
		return database.ErrSeatTaken
	}
	return err
}

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS time_slots (
	slot_key TEXT PRIMARY KEY,
	slot_date TEXT NOT NULL,
	slot_time TEXT NOT NULL,
	resource TEXT NOT NULL,
	capacity INTEGER NOT NULL CHECK (capacity > 0),
	occupancy INTEGER NOT NULL DEFAULT 0 CHECK (occupancy >= 0 AND occupancy <= capacity),
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bookings (
	id TEXT PRIMARY KEY,
	slot_key TEXT NOT NULL REFERENCES time_slots(slot_key),
	seat INTEGER NOT NULL CHECK (seat >= 0),
	customer_ref TEXT NOT NULL,
	customer_name TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	guests INTEGER NOT NULL DEFAULT 0,
	comment TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'confirmed', 'cancelled', 'completed')),
	idempotency_key TEXT NOT NULL DEFAULT '',
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_active_seat
	ON bookings(slot_key, seat) WHERE status IN ('pending', 'confirmed');

CREATE INDEX IF NOT EXISTS idx_time_slots_date ON time_slots(slot_date);
CREATE INDEX IF NOT EXISTS idx_bookings_slot_key ON bookings(slot_key);
CREATE INDEX IF NOT EXISTS idx_bookings_status_created ON bookings(status, created_at);
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}

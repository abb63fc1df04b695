package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"slotguard/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the SQLite slot store. SQLite serialises writers per database file,
// so every slot transaction starts with BEGIN IMMEDIATE and waits at most
// lockTimeout for the write lock.
type DB struct {
	*sql.DB
	path        string
	lockTimeout time.Duration
	logger      *zerolog.Logger
}

type Option func(*DB)

// WithLockTimeout bounds how long a slot transaction waits for the write lock.
func WithLockTimeout(d time.Duration) Option {
	return func(db *DB) {
		if d > 0 {
			db.lockTimeout = d
		}
	}
}

func NewDB(path string, logger *zerolog.Logger, opts ...Option) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	db := &DB{
		path:        path,
		lockTimeout: models.DefaultLockTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(db)
	}

	inMemory := path == ":memory:"
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", db.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.DB = sqlDB

	if err := db.migrate(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Dur("lock_timeout", db.lockTimeout).Msg("database initialized")
	return db, nil
}

func (db *DB) dsn() string {
	params := []string{
		"_txlock=immediate",
		fmt.Sprintf("_busy_timeout=%d", db.lockTimeout.Milliseconds()),
		"_foreign_keys=on",
	}
	if db.path == ":memory:" {
		return "file::memory:?" + strings.Join(params, "&")
	}
	params = append(params, "_journal_mode=WAL", "_synchronous=NORMAL")
	return fmt.Sprintf("file:%s?%s", db.path, strings.Join(params, "&"))
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS time_slots (
            slot_key TEXT PRIMARY KEY,
            slot_date TEXT NOT NULL,
            slot_time TEXT NOT NULL,
            resource TEXT NOT NULL,
            capacity INTEGER NOT NULL CHECK (capacity > 0),
            occupancy INTEGER NOT NULL DEFAULT 0 CHECK (occupancy >= 0 AND occupancy <= capacity),
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
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
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,

		// one active booking per seat; seats range over 0..capacity-1
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_active_seat
            ON bookings(slot_key, seat) WHERE status IN ('pending', 'confirmed')`,

		`CREATE INDEX IF NOT EXISTS idx_time_slots_date ON time_slots(slot_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_slot_key ON bookings(slot_key)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status_created ON bookings(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_customer_ref ON bookings(customer_ref)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

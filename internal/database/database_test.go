package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"slotguard/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "slots.db"), &logger, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewDB_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "slots.db")

	db, err := NewDB(path, nil)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, path)
	assert.Equal(t, path, db.Path())
	assert.Equal(t, models.DefaultLockTimeout, db.lockTimeout)
}

func TestNewDB_InMemoryServesSlotQueries(t *testing.T) {
	ctx := context.Background()
	db, err := NewDB(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping(ctx))
	_, err = db.GetSlot(ctx, testSlot)
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestMigrationsRerunCleanly(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.migrate(context.Background()))
	require.NoError(t, db.migrate(context.Background()))

	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'ux_bookings_active_seat'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWithLockTimeoutIgnoresNonPositive(t *testing.T) {
	db := &DB{lockTimeout: time.Second}
	WithLockTimeout(0)(db)
	WithLockTimeout(-time.Second)(db)
	assert.Equal(t, time.Second, db.lockTimeout)

	WithLockTimeout(75 * time.Millisecond)(db)
	assert.Equal(t, 75*time.Millisecond, db.lockTimeout)
}

func TestDSN(t *testing.T) {
	file := (&DB{path: "/var/lib/slots.db", lockTimeout: 450 * time.Millisecond}).dsn()
	assert.True(t, strings.HasPrefix(file, "file:/var/lib/slots.db?"))
	for _, p := range []string{"_busy_timeout=450", "_txlock=immediate", "_foreign_keys=on", "_journal_mode=WAL"} {
		assert.Contains(t, file, p)
	}

	mem := (&DB{path: ":memory:", lockTimeout: time.Second}).dsn()
	assert.True(t, strings.HasPrefix(mem, "file::memory:?"))
	assert.Contains(t, mem, "_busy_timeout=1000")
	assert.NotContains(t, mem, "_journal_mode")
}

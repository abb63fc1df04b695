package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "closed.db"), &logger)
	assert.NoError(t, err)
	db.Close()

	ctx := context.Background()

	t.Run("BeginSlotTx", func(t *testing.T) {
		_, err := db.BeginSlotTx(ctx)
		assert.Error(t, err)
	})

	t.Run("GetSlot", func(t *testing.T) {
		_, err := db.GetSlot(ctx, testSlot)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrSlotNotFound)
	})

	t.Run("ListSlotBookings", func(t *testing.T) {
		_, err := db.ListSlotBookings(ctx, testSlot)
		assert.Error(t, err)
	})

	t.Run("ListStalePending", func(t *testing.T) {
		_, err := db.ListStalePending(ctx, time.Now(), 10)
		assert.Error(t, err)
	})

	t.Run("CountActiveBookings", func(t *testing.T) {
		_, err := db.CountActiveBookings(ctx, testSlot)
		assert.Error(t, err)
	})
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"Busy", sqlite3.Error{Code: sqlite3.ErrBusy}, ErrLockTimeout},
		{"Locked", sqlite3.Error{Code: sqlite3.ErrLocked}, ErrLockTimeout},
		{"Unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, ErrSeatTaken},
		{"WrappedBusy", fmt.Errorf("begin: %w", sqlite3.Error{Code: sqlite3.ErrBusy}), ErrLockTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, translate(tt.in), tt.want)
		})
	}

	other := errors.New("disk on fire")
	assert.Equal(t, other, translate(other))
	assert.NoError(t, translate(nil))

	check := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}
	assert.Equal(t, error(check), translate(check))
}

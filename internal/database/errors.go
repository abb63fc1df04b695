package database

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrLockTimeout            = errors.New("slot lock not acquired in time")
	ErrConcurrentModification = errors.New("row was modified concurrently")
	ErrSeatTaken              = errors.New("seat already has an active booking")
	ErrBookingNotFound        = errors.New("booking not found")
	ErrSlotNotFound           = errors.New("slot not found")
)

// translate maps driver errors onto the store sentinels. Unknown errors pass
// through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
			return ErrLockTimeout
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			return ErrSeatTaken
		}
	}
	return err
}

package models

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

const (
	// DefaultLockTimeout bounds how long a claim may wait for a slot row lock
	DefaultLockTimeout = 300 * time.Millisecond

	// DefaultIdempotencyTTL is how long a terminal booking outcome is replayed
	DefaultIdempotencyTTL = 24 * time.Hour

	// SlotDateLayout and SlotTimeLayout describe the slot key components
	SlotDateLayout = "2006-01-02"
	SlotTimeLayout = "15:04"
)

// ActiveStatuses are the booking states that occupy slot capacity.
var ActiveStatuses = []string{StatusPending, StatusConfirmed}

// IsActiveStatus reports whether a booking in this status holds a seat.
func IsActiveStatus(status string) bool {
	return status == StatusPending || status == StatusConfirmed
}

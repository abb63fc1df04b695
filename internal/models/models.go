package models

// RejectReason is the machine-readable code returned with every refusal.
type RejectReason string

const (
	ReasonSlotFull            RejectReason = "SLOT_FULL"
	ReasonVersionConflict     RejectReason = "VERSION_CONFLICT"
	ReasonLockTimeout         RejectReason = "LOCK_TIMEOUT"
	ReasonRateLimited         RejectReason = "RATE_LIMITED"
	ReasonInProgress          RejectReason = "IN_PROGRESS"
	ReasonIdempotencyMismatch RejectReason = "IDEMPOTENCY_KEY_REUSED"
	ReasonInvalidRequest      RejectReason = "INVALID_REQUEST"
	ReasonNotFound            RejectReason = "NOT_FOUND"
	ReasonInvalidTransition   RejectReason = "INVALID_TRANSITION"
	ReasonUnavailable         RejectReason = "UNAVAILABLE"
	ReasonInternal            RejectReason = "INTERNAL"
)

// ClaimResult is the arbiter's decision for one claim attempt.
type ClaimResult struct {
	Claimed   bool         `json:"claimed"`
	BookingID string       `json:"booking_id,omitempty"`
	Version   int64        `json:"version,omitempty"`
	Reason    RejectReason `json:"reason,omitempty"`
	Booking   *Booking     `json:"booking,omitempty"`
}

// ReleaseResult describes a status transition that frees or keeps a seat.
type ReleaseResult struct {
	Booking *Booking `json:"booking"`
	// NoOp is set when the booking was already in the requested state.
	NoOp        bool  `json:"no_op"`
	SlotVersion int64 `json:"slot_version,omitempty"`
}

// BookingOutcome is what the orchestrator hands back to transports. It is
// also the payload cached for idempotent replays.
type BookingOutcome struct {
	StatusCode        int          `json:"status_code"`
	Reason            RejectReason `json:"reason,omitempty"`
	Message           string       `json:"message,omitempty"`
	Booking           *Booking     `json:"booking,omitempty"`
	RetryAfterSeconds int          `json:"retry_after,omitempty"`
	Replayed          bool         `json:"-"`
	Degraded          bool         `json:"-"`
	Limit             *LimitResult `json:"-"`
}

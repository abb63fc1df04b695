package models

import "time"

// Tier is an identity class with its own quota.
type Tier string

const (
	TierPublic   Tier = "public"
	TierCustomer Tier = "customer"
	TierAdmin    Tier = "admin"
)

func (t Tier) Valid() bool {
	switch t {
	case TierPublic, TierCustomer, TierAdmin:
		return true
	}
	return false
}

// LimitScope names the window that refused a request.
type LimitScope string

const (
	ScopeMinute LimitScope = "MINUTE"
	ScopeHour   LimitScope = "HOUR"
)

// Window returns the length of the counting window.
func (s LimitScope) Window() time.Duration {
	if s == ScopeHour {
		return time.Hour
	}
	return time.Minute
}

// Label is the lowercase form used in counter keys and metrics.
func (s LimitScope) Label() string {
	if s == ScopeHour {
		return "hour"
	}
	return "minute"
}

// Identity is the caller a quota is charged to, e.g. "ip:203.0.113.5".
type Identity struct {
	Key  string
	Tier Tier
	Name string
}

// Limits is a resolved quota pair; zero disables a window.
type Limits struct {
	PerMinute int
	PerHour   int
}

// LimitResult is the outcome of one check-and-consume call. Remaining values
// are -1 for windows without a limit.
type LimitResult struct {
	Allowed           bool       `json:"allowed"`
	RemainingMinute   int        `json:"remaining_minute"`
	RemainingHour     int        `json:"remaining_hour"`
	RetryAfterSeconds int        `json:"retry_after,omitempty"`
	Scope             LimitScope `json:"scope,omitempty"`
	Degraded          bool       `json:"degraded"`
}

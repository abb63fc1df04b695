package models

import "time"

const (
	IdempotencyPending = "pending"
	IdempotencyDone    = "done"
)

// IdempotencyRecord caches the terminal response of one logical request.
type IdempotencyRecord struct {
	Key         string    `json:"key"`
	State       string    `json:"state"`
	Token       string    `json:"token,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	StatusCode  int       `json:"status_code,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Done reports whether the record holds a terminal outcome.
func (r *IdempotencyRecord) Done() bool {
	return r != nil && r.State == IdempotencyDone
}

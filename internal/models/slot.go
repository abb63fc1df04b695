package models

import (
	"fmt"
	"strings"
	"time"
)

// SlotKey identifies one bookable (date, time, resource) tuple.
type SlotKey struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Resource string `json:"resource"`
}

// String renders the key as "2025-06-15T18:00/StationA".
func (k SlotKey) String() string {
	return k.Date + "T" + k.Time + "/" + k.Resource
}

// Validate checks that the key is in canonical form. Every physical slot has
// exactly one accepted spelling, so "9:00" and " StationA" are rejected
// rather than stored as distinct rows.
func (k SlotKey) Validate() error {
	if !canonical(SlotDateLayout, k.Date) {
		return fmt.Errorf("invalid slot date %q; expected YYYY-MM-DD", k.Date)
	}
	if !canonical(SlotTimeLayout, k.Time) {
		return fmt.Errorf("invalid slot time %q; expected HH:MM", k.Time)
	}
	if strings.TrimSpace(k.Resource) == "" {
		return fmt.Errorf("slot resource is required")
	}
	if strings.TrimSpace(k.Resource) != k.Resource {
		return fmt.Errorf("slot resource %q has surrounding whitespace", k.Resource)
	}
	if strings.Contains(k.Resource, "/") {
		return fmt.Errorf("slot resource %q must not contain '/'", k.Resource)
	}
	return nil
}

// canonical reports whether raw parses with layout and formats back unchanged.
func canonical(layout, raw string) bool {
	t, err := time.Parse(layout, raw)
	return err == nil && t.Format(layout) == raw
}

// ParseSlotKey is the inverse of SlotKey.String.
func ParseSlotKey(raw string) (SlotKey, error) {
	stamp, resource, ok := strings.Cut(raw, "/")
	if !ok {
		return SlotKey{}, fmt.Errorf("invalid slot key %q", raw)
	}
	date, clock, ok := strings.Cut(stamp, "T")
	if !ok {
		return SlotKey{}, fmt.Errorf("invalid slot key %q", raw)
	}
	key := SlotKey{Date: date, Time: clock, Resource: resource}
	if err := key.Validate(); err != nil {
		return SlotKey{}, err
	}
	return key, nil
}

// TimeSlot is the contended row. Occupancy never exceeds Capacity and Version
// increases on every mutation.
type TimeSlot struct {
	Key       SlotKey   `json:"key"`
	Capacity  int       `json:"capacity"`
	Occupancy int       `json:"occupancy"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available returns the number of free seats.
func (s *TimeSlot) Available() int {
	if s.Occupancy >= s.Capacity {
		return 0
	}
	return s.Capacity - s.Occupancy
}

// Resource is a bookable station or location with its seat capacity.
type Resource struct {
	Name     string `yaml:"name" json:"name"`
	Capacity int    `yaml:"capacity" json:"capacity"`
}

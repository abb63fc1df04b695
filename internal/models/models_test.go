package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotKeyRoundTrip(t *testing.T) {
	key := SlotKey{Date: "2025-06-15", Time: "18:00", Resource: "StationA"}
	assert.Equal(t, "2025-06-15T18:00/StationA", key.String())

	parsed, err := ParseSlotKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
}

func TestParseSlotKeyRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"2025-06-15T18:00",
		"2025-06-15/StationA",
		"2025-06-31T18:00/StationA",
		"2025-06-15T25:00/StationA",
		"2025-06-15T18:00/",
	} {
		_, err := ParseSlotKey(raw)
		assert.Error(t, err, raw)
	}
}

func TestSlotKeyValidate(t *testing.T) {
	assert.NoError(t, SlotKey{Date: "2025-06-15", Time: "09:30", Resource: "Hall"}.Validate())
	assert.Error(t, SlotKey{Date: "15.06.2025", Time: "09:30", Resource: "Hall"}.Validate())
	assert.Error(t, SlotKey{Date: "2025-06-15", Time: "9.30", Resource: "Hall"}.Validate())
	assert.Error(t, SlotKey{Date: "2025-06-15", Time: "09:30", Resource: "  "}.Validate())
	assert.Error(t, SlotKey{Date: "2025-06-15", Time: "09:30", Resource: "A/B"}.Validate())
}

func TestSlotKeyValidateRequiresCanonicalForm(t *testing.T) {
	for _, k := range []SlotKey{
		{Date: "2025-06-15", Time: "9:00", Resource: "StationA"},
		{Date: "2025-06-15", Time: "09:0", Resource: "StationA"},
		{Date: "2025-6-15", Time: "09:00", Resource: "StationA"},
		{Date: "2025-06-15", Time: "09:00", Resource: " StationA"},
		{Date: "2025-06-15", Time: "09:00", Resource: "StationA "},
	} {
		assert.Error(t, k.Validate(), k.String())
	}

	_, err := ParseSlotKey("2025-06-15T9:00/StationA")
	assert.Error(t, err)

	key, err := ParseSlotKey("2025-06-15T09:00/StationA")
	require.NoError(t, err)
	assert.Equal(t, "09:00", key.Time)
}

func TestTimeSlotAvailable(t *testing.T) {
	assert.Equal(t, 2, (&TimeSlot{Capacity: 3, Occupancy: 1}).Available())
	assert.Equal(t, 0, (&TimeSlot{Capacity: 3, Occupancy: 3}).Available())
	assert.Equal(t, 0, (&TimeSlot{Capacity: 1, Occupancy: 2}).Available())
}

func TestStatuses(t *testing.T) {
	assert.True(t, IsActiveStatus(StatusPending))
	assert.True(t, IsActiveStatus(StatusConfirmed))
	assert.False(t, IsActiveStatus(StatusCancelled))
	assert.False(t, IsActiveStatus(StatusCompleted))
	for _, s := range ActiveStatuses {
		assert.True(t, IsActiveStatus(s))
	}
}

func TestTiersAndScopes(t *testing.T) {
	for _, tier := range []Tier{TierPublic, TierCustomer, TierAdmin} {
		assert.True(t, tier.Valid())
	}
	assert.False(t, Tier("gold").Valid())

	assert.Equal(t, time.Minute, ScopeMinute.Window())
	assert.Equal(t, time.Hour, ScopeHour.Window())
	assert.Equal(t, "minute", ScopeMinute.Label())
	assert.Equal(t, "hour", ScopeHour.Label())
}

func TestCreateBookingRequestIntent(t *testing.T) {
	req := CreateBookingRequest{
		Date: "2025-06-15", Time: "18:00", Resource: "StationA",
		CustomerRef: "cust-9", CustomerName: "Ada", Phone: "+100", Guests: 12, Comment: "vegan",
	}
	assert.Equal(t, SlotKey{Date: "2025-06-15", Time: "18:00", Resource: "StationA"}, req.SlotKey())

	intent := req.Intent("order-1")
	assert.Equal(t, BookingIntent{
		CustomerRef: "cust-9", CustomerName: "Ada", Phone: "+100", Guests: 12, Comment: "vegan", IdempotencyKey: "order-1",
	}, intent)
}

func TestIdempotencyRecordDone(t *testing.T) {
	var nilRecord *IdempotencyRecord
	assert.False(t, nilRecord.Done())
	assert.False(t, (&IdempotencyRecord{State: IdempotencyPending}).Done())
	assert.True(t, (&IdempotencyRecord{State: IdempotencyDone}).Done())
}

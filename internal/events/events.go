package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCancelled = "booking_cancelled"
	EventBookingCompleted = "booking_completed"
)

// AllBookingEvents lists every event type the booking flow publishes.
var AllBookingEvents = []string{
	EventBookingCreated,
	EventBookingConfirmed,
	EventBookingCancelled,
	EventBookingCompleted,
}

// BookingEventPayload is the booking snapshot carried by every booking event.
type BookingEventPayload struct {
	BookingID   string `json:"booking_id"`
	Slot        string `json:"slot"`
	Seat        int    `json:"seat"`
	CustomerRef string `json:"customer_ref"`
	Status      string `json:"status"`
	Version     int64  `json:"version"`
	SlotVersion int64  `json:"slot_version,omitempty"`
	ChangedBy   string `json:"changed_by,omitempty"`
}

type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

type EventHandler func(event *Event) error

// EventBus fans events out to handlers in-process. Handlers run synchronously
// on the publishing goroutine: type-specific handlers first, then the ones
// registered with SubscribeAll.
type EventBus struct {
	mu       sync.RWMutex
	byType   map[string][]EventHandler
	wildcard []EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{byType: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	b.byType[eventType] = append(b.byType[eventType], handler)
	b.mu.Unlock()
}

// SubscribeAll registers a handler for every event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	b.wildcard = append(b.wildcard, handler)
	b.mu.Unlock()
}

func (b *EventBus) handlers(eventType string) []EventHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]EventHandler, 0, len(b.byType[eventType])+len(b.wildcard))
	out = append(out, b.byType[eventType]...)
	return append(out, b.wildcard...)
}

// Publish stamps the event with an ID and time when missing and delivers it
// to every handler. Handler failures do not stop delivery; they are joined
// into the returned error.
func (b *EventBus) Publish(event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var errs []error
	for _, handle := range b.handlers(event.Type) {
		if err := handle(event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}

// PublishJSON is a no-op on a nil bus.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}
	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{ID: uuid.NewString(), Type: eventType, Payload: raw, CreatedAt: time.Now().UTC()}, nil
}

// DecodeBooking parses the payload of a booking event.
func DecodeBooking(event *Event) (*BookingEventPayload, error) {
	if event == nil || len(event.Payload) == 0 {
		return nil, errors.New("empty event payload")
	}
	var p BookingEventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	if p.BookingID == "" {
		return nil, fmt.Errorf("%s payload has no booking id", event.Type)
	}
	return &p, nil
}

// LogHandler writes booking events as structured log lines. Payloads that
// are not booking snapshots are logged raw.
func LogHandler(logger *zerolog.Logger) EventHandler {
	return func(event *Event) error {
		entry := logger.Info().
			Str("event_id", event.ID).
			Str("event_type", event.Type)

		p, err := DecodeBooking(event)
		if err != nil {
			if len(event.Payload) > 0 && json.Valid(event.Payload) {
				entry = entry.RawJSON("payload", event.Payload)
			}
			entry.Msg("event")
			return nil
		}

		entry.
			Str("booking_id", p.BookingID).
			Str("slot", p.Slot).
			Int("seat", p.Seat).
			Str("status", p.Status).
			Int64("version", p.Version).
			Str("changed_by", p.ChangedBy).
			Msg("booking event")
		return nil
	}
}

package models

import "time"

type Booking struct {
	ID             string    `json:"id"`
	SlotKey        SlotKey   `json:"slot"`
	Seat           int       `json:"seat"`
	CustomerRef    string    `json:"customer_ref"`
	CustomerName   string    `json:"customer_name"`
	Phone          string    `json:"phone"`
	Guests         int       `json:"guests"`
	Comment        string    `json:"comment"`
	Status         string    `json:"status"` // pending, confirmed, cancelled, completed
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Version        int64     `json:"version"`
}

// BookingIntent is the payload a caller wants to attach to a claimed seat.
type BookingIntent struct {
	CustomerRef    string
	CustomerName   string
	Phone          string
	Guests         int
	Comment        string
	IdempotencyKey string
}

// CreateBookingRequest is the transport-neutral booking payload.
type CreateBookingRequest struct {
	Date         string `json:"date"`
	Time         string `json:"time"`
	Resource     string `json:"resource"`
	CustomerRef  string `json:"customer_ref"`
	CustomerName string `json:"customer_name"`
	Phone        string `json:"phone"`
	Guests       int    `json:"guests"`
	Comment      string `json:"comment"`
}

// SlotKey returns the slot the request targets.
func (r CreateBookingRequest) SlotKey() SlotKey {
	return SlotKey{Date: r.Date, Time: r.Time, Resource: r.Resource}
}

// Intent converts the request into the payload stored with a claimed seat.
func (r CreateBookingRequest) Intent(idempotencyKey string) BookingIntent {
	return BookingIntent{
		CustomerRef:    r.CustomerRef,
		CustomerName:   r.CustomerName,
		Phone:          r.Phone,
		Guests:         r.Guests,
		Comment:        r.Comment,
		IdempotencyKey: idempotencyKey,
	}
}

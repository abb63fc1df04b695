package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"slotguard/internal/models"

	"github.com/google/uuid"
)

const defaultMaxAttempts = 4

// Client calls the slotguard HTTP API.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Reason, e.Message)
}

// Temporary reports whether the same request may succeed later.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	case http.StatusConflict:
		switch models.RejectReason(e.Reason) {
		case models.ReasonLockTimeout, models.ReasonVersionConflict, models.ReasonInProgress:
			return true
		}
	}
	return false
}

// BookingResult is a created booking plus whether the server replayed it.
type BookingResult struct {
	Booking  *models.Booking
	Replayed bool
}

// SlotState is the slot view returned by the API.
type SlotState struct {
	models.TimeSlot
	Available int `json:"available"`
}

// New constructs a client for baseURL. apiKey may be empty.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: defaultMaxAttempts,
		sleep:       sleepContext,
	}
}

// WithMaxAttempts bounds how many times Book sends a request.
func (c *Client) WithMaxAttempts(n int) *Client {
	if n > 0 {
		c.maxAttempts = n
	}
	return c
}

// Book creates a booking under a fresh idempotency key and retries temporary
// refusals with that same key, so at most one seat is claimed.
func (c *Client) Book(ctx context.Context, req models.CreateBookingRequest) (*BookingResult, error) {
	key := uuid.NewString()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		res, err := c.CreateBooking(ctx, key, req)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Temporary() || attempt == c.maxAttempts {
			break
		}
		wait := apiErr.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// CreateBooking sends one booking request with the given idempotency key.
func (c *Client) CreateBooking(ctx context.Context, idempotencyKey string, req models.CreateBookingRequest) (*BookingResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/bookings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	var booking models.Booking
	resp, err := c.do(httpReq, &booking)
	if err != nil {
		return nil, err
	}
	return &BookingResult{Booking: &booking, Replayed: resp.Header.Get("Idempotent-Replayed") == "true"}, nil
}

func (c *Client) Cancel(ctx context.Context, bookingID string) (*models.Booking, error) {
	return c.transition(ctx, bookingID, "cancel")
}

func (c *Client) Confirm(ctx context.Context, bookingID string) (*models.Booking, error) {
	return c.transition(ctx, bookingID, "confirm")
}

func (c *Client) Complete(ctx context.Context, bookingID string) (*models.Booking, error) {
	return c.transition(ctx, bookingID, "complete")
}

func (c *Client) transition(ctx context.Context, bookingID, action string) (*models.Booking, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bookings/%s/%s", c.baseURL, url.PathEscape(bookingID), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var booking models.Booking
	if _, err := c.do(req, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

func (c *Client) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bookings/%s", c.baseURL, url.PathEscape(bookingID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var booking models.Booking
	if _, err := c.do(req, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

func (c *Client) GetSlot(ctx context.Context, key models.SlotKey) (*SlotState, error) {
	endpoint := fmt.Sprintf("%s/api/v1/slots/%s/%s/%s", c.baseURL,
		url.PathEscape(key.Date), url.PathEscape(key.Time), url.PathEscape(key.Resource))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var slot SlotState
	if _, err := c.do(req, &slot); err != nil {
		return nil, err
	}
	return &slot, nil
}

func (c *Client) do(req *http.Request, out any) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}
	if out == nil {
		return resp, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	var envelope struct {
		Error      string `json:"error"`
		Reason     string `json:"reason"`
		RetryAfter int    `json:"retry_after"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&envelope)

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Reason:     envelope.Reason,
		Message:    envelope.Error,
		RetryAfter: time.Duration(envelope.RetryAfter) * time.Second,
	}
	if header := resp.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.Atoi(header); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

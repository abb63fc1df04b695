package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"slotguard/internal/domain"
	"slotguard/internal/models"
)

// maxBodyBytes caps booking request bodies.
const maxBodyBytes = 64 << 10

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req models.CreateBookingRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(models.ReasonInvalidRequest), "invalid JSON body", 0)
		return
	}

	out, err := s.bookings.Book(r.Context(), identity, r.Header.Get(headerIdempotencyKey), req)
	if err != nil {
		s.internalError(w, err, "book")
		return
	}
	writeOutcome(w, out)
}

func (s *HTTPServer) handleTransition(
	apply func(context.Context, models.Identity, string) (*models.BookingOutcome, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := s.identity(w, r)
		if !ok {
			return
		}

		id := strings.TrimSpace(r.PathValue("id"))
		out, err := apply(r.Context(), identity, id)
		if err != nil {
			s.internalError(w, err, "transition")
			return
		}
		writeOutcome(w, out)
	}
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := s.bookings.GetBooking(r.Context(), strings.TrimSpace(r.PathValue("id")))
	switch {
	case errors.Is(err, domain.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, string(models.ReasonNotFound), err.Error(), 0)
		return
	case err != nil:
		s.internalError(w, err, "get booking")
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type slotResponse struct {
	*models.TimeSlot
	Available int `json:"available"`
}

func (s *HTTPServer) handleGetSlot(w http.ResponseWriter, r *http.Request) {
	key := models.SlotKey{
		Date:     r.PathValue("date"),
		Time:     r.PathValue("time"),
		Resource: r.PathValue("resource"),
	}

	slot, err := s.bookings.GetSlot(r.Context(), key)
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrUnknownResource):
		writeError(w, http.StatusBadRequest, string(models.ReasonInvalidRequest), err.Error(), 0)
		return
	case err != nil:
		s.internalError(w, err, "get slot")
		return
	}
	writeJSON(w, http.StatusOK, slotResponse{TimeSlot: slot, Available: slot.Available()})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) internalError(w http.ResponseWriter, err error, op string) {
	s.logger.Error().Err(err).Str("op", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, string(models.ReasonInternal), "internal error", 0)
}

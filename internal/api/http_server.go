package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"slotguard/internal/config"
	"slotguard/internal/domain"
	"slotguard/internal/metrics"
	"slotguard/internal/models"

	"github.com/rs/zerolog"
)

const (
	headerIdempotencyKey  = "Idempotency-Key"
	headerReplayed        = "Idempotent-Replayed"
	headerRetryAfter      = "Retry-After"
	headerRemainingMinute = "X-RateLimit-Remaining-Minute"
	headerRemainingHour   = "X-RateLimit-Remaining-Hour"
	headerDegraded        = "X-RateLimit-Degraded"

	reasonUnauthorized = "UNAUTHORIZED"
)

// BookingAPI is the orchestrator surface the HTTP handlers drive.
type BookingAPI interface {
	Book(ctx context.Context, identity models.Identity, idempotencyKey string, req models.CreateBookingRequest) (*models.BookingOutcome, error)
	Cancel(ctx context.Context, identity models.Identity, bookingID string) (*models.BookingOutcome, error)
	Confirm(ctx context.Context, identity models.Identity, bookingID string) (*models.BookingOutcome, error)
	Complete(ctx context.Context, identity models.Identity, bookingID string) (*models.BookingOutcome, error)
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	GetSlot(ctx context.Context, key models.SlotKey) (*models.TimeSlot, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPServer exposes the booking API over HTTP/JSON.
type HTTPServer struct {
	cfg      config.APIConfig
	bookings BookingAPI
	limiter  domain.RateLimiter
	resolver *IdentityResolver
	health   Pinger
	server   *http.Server
	logger   zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, bookings BookingAPI, limiter domain.RateLimiter, health Pinger, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		bookings: bookings,
		limiter:  limiter,
		resolver: NewIdentityResolver(cfg),
		health:   health,
		logger:   zerolog.Nop(),
	}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/bookings", srv.handleCreateBooking)
	mux.Handle("GET /api/v1/bookings/{id}", srv.limitReads(http.HandlerFunc(srv.handleGetBooking)))
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", srv.handleTransition(bookings.Cancel))
	mux.HandleFunc("POST /api/v1/bookings/{id}/confirm", srv.handleTransition(bookings.Confirm))
	mux.HandleFunc("POST /api/v1/bookings/{id}/complete", srv.handleTransition(bookings.Complete))
	mux.Handle("GET /api/v1/slots/{date}/{time}/{resource}", srv.limitReads(http.HandlerFunc(srv.handleGetSlot)))
	mux.HandleFunc("GET /healthz", srv.handleHealth)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// limitReads charges read routes to the caller's quota. Mutating routes are
// charged inside the booking service.
func (s *HTTPServer) limitReads(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		identity, ok := s.identity(w, r)
		if !ok {
			return
		}

		res, err := s.limiter.CheckAndConsume(r.Context(), identity, 1)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, string(models.ReasonUnavailable), domain.ErrLimiterUnavailable.Error(), 0)
			return
		}
		setLimitHeaders(w, res)
		if !res.Allowed {
			rlErr := &domain.RateLimitError{Scope: res.Scope, RetryAfterSeconds: res.RetryAfterSeconds}
			writeError(w, http.StatusTooManyRequests, string(models.ReasonRateLimited), rlErr.Error(), res.RetryAfterSeconds)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) identity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	identity, err := s.resolver.FromHTTP(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, reasonUnauthorized, err.Error(), 0)
		return models.Identity{}, false
	}
	return identity, true
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		dur := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.IncHTTP(route, strconv.Itoa(recorder.status))

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", dur).
			Msg("http request")
	})
}

func setLimitHeaders(w http.ResponseWriter, res *models.LimitResult) {
	if res == nil {
		return
	}
	if res.RemainingMinute >= 0 {
		w.Header().Set(headerRemainingMinute, strconv.Itoa(res.RemainingMinute))
	}
	if res.RemainingHour >= 0 {
		w.Header().Set(headerRemainingHour, strconv.Itoa(res.RemainingHour))
	}
	if res.Degraded {
		w.Header().Set(headerDegraded, "true")
	}
}

// writeOutcome renders an orchestrator outcome: the booking on success, the
// error envelope otherwise.
func writeOutcome(w http.ResponseWriter, out *models.BookingOutcome) {
	setLimitHeaders(w, out.Limit)
	if out.Degraded {
		w.Header().Set(headerDegraded, "true")
	}
	if out.Replayed {
		w.Header().Set(headerReplayed, "true")
	}

	if out.StatusCode < http.StatusBadRequest {
		writeJSON(w, out.StatusCode, out.Booking)
		return
	}
	writeError(w, out.StatusCode, string(out.Reason), out.Message, out.RetryAfterSeconds)
}

type errorResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, reason, message string, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set(headerRetryAfter, strconv.Itoa(retryAfter))
	}
	writeJSON(w, statusCode, errorResponse{Error: message, Reason: reason, RetryAfter: retryAfter})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slotguard"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "status"},
	)

	claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_claims_total",
			Help:      "Slot claim attempts by result.",
		},
		[]string{"result"},
	)

	lockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_lock_wait_seconds",
			Help:      "Time spent acquiring the slot lock.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter decisions by result and backing store.",
		},
		[]string{"result", "mode"},
	)

	limiterDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ratelimit_degraded",
			Help:      "1 while the rate limiter runs on in-process counters.",
		},
	)

	idempotencyLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_lookups_total",
			Help:      "Idempotency lookups by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			claims,
			lockWait,
			rateLimitDecisions,
			limiterDegraded,
			idempotencyLookups,
		)
	})
}

// IncHTTP counts one served request.
func IncHTTP(route string, status string) {
	httpRequests.WithLabelValues(route, status).Inc()
}

// IncClaim counts a claim by result, e.g. "claimed" or "SLOT_FULL".
func IncClaim(result string) {
	claims.WithLabelValues(result).Inc()
}

func ObserveLockWait(d time.Duration) {
	lockWait.Observe(d.Seconds())
}

// IncRateLimit counts a decision; mode is "primary" or "fallback".
func IncRateLimit(allowed bool, mode string) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	rateLimitDecisions.WithLabelValues(result, mode).Inc()
}

func SetLimiterDegraded(degraded bool) {
	if degraded {
		limiterDegraded.Set(1)
		return
	}
	limiterDegraded.Set(0)
}

// IncIdempotency counts a lookup: "miss", "replay", "in_flight" or "mismatch".
func IncIdempotency(outcome string) {
	idempotencyLookups.WithLabelValues(outcome).Inc()
}

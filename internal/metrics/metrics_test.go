package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["slotguard_ratelimit_degraded"])
}

func TestCounters(t *testing.T) {
	cases := []struct {
		name   string
		inc    func()
		metric prometheus.Collector
	}{
		{"http", func() { IncHTTP("POST /api/v1/bookings", "201") }, httpRequests.WithLabelValues("POST /api/v1/bookings", "201")},
		{"claim", func() { IncClaim("SLOT_FULL") }, claims.WithLabelValues("SLOT_FULL")},
		{"ratelimit denied", func() { IncRateLimit(false, "fallback") }, rateLimitDecisions.WithLabelValues("denied", "fallback")},
		{"ratelimit allowed", func() { IncRateLimit(true, "primary") }, rateLimitDecisions.WithLabelValues("allowed", "primary")},
		{"idempotency", func() { IncIdempotency("replay") }, idempotencyLookups.WithLabelValues("replay")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := testutil.ToFloat64(tc.metric)
			tc.inc()
			tc.inc()
			assert.Equal(t, before+2, testutil.ToFloat64(tc.metric))
		})
	}
}

func TestObserveLockWait(t *testing.T) {
	before := testutil.CollectAndCount(lockWait)
	ObserveLockWait(3 * time.Millisecond)
	assert.Equal(t, before, testutil.CollectAndCount(lockWait))
}

func TestLimiterDegradedGauge(t *testing.T) {
	SetLimiterDegraded(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(limiterDegraded))

	SetLimiterDegraded(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(limiterDegraded))
}

// File: internal/infra/metrics/metrics.go
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	deductionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talktime_deductions_total",
			Help: "Deduction calls by outcome (ok/insufficient/error).",
		},
		[]string{"outcome"},
	)

	secondsDeductedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talktime_seconds_deducted_total",
			Help: "Sum of talk-time seconds deducted per tier.",
		},
		[]string{"tier"},
	)

	deductionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "talktime_deduction_latency_ms",
			Help:    "Deduction call latency distribution in milliseconds.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 200, 400, 800, 1600},
		},
	)

	resetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "talktime_resets_total",
			Help: "Entitlement rows reset to their tier ceiling by the nightly job.",
		},
	)

	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter, per route.",
		},
		[]string{"route"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			deductionsTotal, secondsDeductedTotal, deductionLatencyMs,
			resetsTotal, rateLimitedTotal,
		)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// -------- Metering helpers --------

func ObserveDeduction(outcome string, elapsed time.Duration) {
	deductionsTotal.WithLabelValues(norm(outcome)).Inc()
	deductionLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func AddSecondsDeducted(tier string, seconds int) {
	secondsDeductedTotal.WithLabelValues(norm(tier)).Add(float64(seconds))
}

func AddResets(n int) {
	resetsTotal.Add(float64(n))
}

func IncRateLimited(route string) {
	rateLimitedTotal.WithLabelValues(norm(route)).Inc()
}

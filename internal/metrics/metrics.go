package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mining_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mining_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mining_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mining_layer",
			Subsystem: "sessions",
			Name:      "transitions_total",
			Help:      "Total number of session starts and stops.",
		},
		[]string{"event"},
	)

	claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mining_layer",
			Subsystem: "claims",
			Name:      "total",
			Help:      "Total number of claim attempts.",
		},
		[]string{"outcome"},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mining_layer",
			Subsystem: "settlements",
			Name:      "total",
			Help:      "Total number of settlement submissions by outcome.",
		},
		[]string{"outcome"},
	)

	reconcilerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mining_layer",
			Subsystem: "settlements",
			Name:      "reconciler_resolutions_total",
			Help:      "Pending settlements resolved by the reconciler.",
		},
		[]string{"result"},
	)

	levelUps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mining_layer",
			Subsystem: "progression",
			Name:      "levels_gained_total",
			Help:      "Total levels gained across all users.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		sessions,
		claims,
		settlements,
		reconcilerRuns,
		levelUps,
	)
}

// Handler serves the metrics endpoint for the application registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight marks one more HTTP request in flight.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight marks one HTTP request done.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SessionStarted counts a successful session start.
func SessionStarted() { sessions.WithLabelValues("start").Inc() }

// SessionStopped counts a session stop.
func SessionStopped() { sessions.WithLabelValues("stop").Inc() }

// ClaimAccepted counts a claim that reserved at least one checkpoint.
func ClaimAccepted() { claims.WithLabelValues("accepted").Inc() }

// ClaimRejected counts a claim with nothing to pay.
func ClaimRejected() { claims.WithLabelValues("rejected").Inc() }

// SettlementSubmitted counts a submission; confirmed reports whether the
// external reference was recovered immediately.
func SettlementSubmitted(confirmed bool) {
	if confirmed {
		settlements.WithLabelValues("completed").Inc()
		return
	}
	settlements.WithLabelValues("ambiguous").Inc()
}

// SettlementFailed counts a submission that never reached the ledger.
func SettlementFailed() { settlements.WithLabelValues("failed").Inc() }

// ReconcilerResolved counts a pending record the reconciler resolved.
func ReconcilerResolved(result string) { reconcilerRuns.WithLabelValues(result).Inc() }

// LevelUp counts gained levels.
func LevelUp(gained int) { levelUps.Add(float64(gained)) }

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ploutos_airdrop_build_info",
			Help: "Build information of the Ploutos airdrop service",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ploutos_airdrop_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ploutos_airdrop_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ploutos_airdrop_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Program operation metrics
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ploutos_airdrop_operations_total",
			Help: "Total number of program operations by outcome",
		},
		[]string{"operation", "status"}, // status: "ok" or the program error code
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ploutos_airdrop_operation_duration_seconds",
			Help:    "Duration of program operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	TokensTransferredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ploutos_airdrop_tokens_transferred_total",
			Help: "Total token units moved out of campaign reserves",
		},
		[]string{"operation"}, // "claim" or "unlock"
	)

	EventsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ploutos_airdrop_events_emitted_total",
			Help: "Total number of program events committed to the event log",
		},
		[]string{"type"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordOperation records the outcome of a program operation. status is "ok"
// on success, otherwise the stable program error code.
func RecordOperation(operation, status string, duration time.Duration) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTransfer records token units leaving a campaign reserve.
func RecordTransfer(operation string, amount uint64) {
	TokensTransferredTotal.WithLabelValues(operation).Add(float64(amount))
}

// RecordEvent records a committed program event.
func RecordEvent(eventType string) {
	EventsEmittedTotal.WithLabelValues(eventType).Inc()
}

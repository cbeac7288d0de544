// Package metrics provides Prometheus instrumentation for the allocation
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AllocationRuns counts finished allocation runs by outcome:
	// composed, unconsumed, lock_held, retried, permanent, exhausted.
	AllocationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ggo_allocation_runs_total",
		Help: "Total allocation runs by outcome",
	}, []string{"outcome"})

	// AllocatedWh tracks allocated energy by claim kind.
	AllocatedWh = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ggo_allocated_wh_total",
		Help: "Allocated energy in Wh",
	}, []string{"kind"}) // "transfer" or "retirement"

	// AllocationDuration tracks the duration of one allocation run.
	AllocationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ggo_allocation_duration_seconds",
		Help:    "Allocation run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TaskRetries counts transient failures that were rescheduled.
	TaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ggo_task_retries_total",
		Help: "Allocation tasks rescheduled after transient failures",
	})

	// LockContention counts runs rescheduled because the bucket lock was held.
	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ggo_lock_contention_total",
		Help: "Allocation runs rescheduled due to lock contention",
	})

	// QueueDepth tracks pending tasks in the worker queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ggo_task_queue_depth",
		Help: "Tasks currently queued",
	})

	// WebSocketClients tracks connected notification clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ggo_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ggo_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ggo_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the trigger surface is small.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

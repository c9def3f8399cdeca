package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// apiRequestsTotal counts completed /api/query and /api/search requests,
	// partitioned by endpoint and outcome ("ok" or an error kind).
	apiRequestsTotal *prometheus.CounterVec

	// apiDurationSeconds records the backend time spent on each
	// /api/query or /api/search request.
	apiDurationSeconds *prometheus.HistogramVec

	// ingestActive is the number of /api/ingest requests currently running
	// or waiting for the ingest lock.
	ingestActive prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// rateLimitedTotal counts requests rejected by the rate limiter.
	rateLimitedTotal prometheus.Counter

	// probeFailuresTotal counts failed readiness probes per dependency.
	probeFailuresTotal *prometheus.CounterVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		apiRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of query and search API requests, partitioned by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),

		apiDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docrag",
			Subsystem: "api",
			Name:      "duration_seconds",
			Help:      "Backend duration of query and search API requests.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 180},
		}, []string{"endpoint"}),

		ingestActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "docrag",
			Subsystem: "api",
			Name:      "ingest_active",
			Help:      "Number of ingest requests currently running or queued.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docrag",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected with 429 by the per-client rate limiter.",
		}),

		probeFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ready",
			Name:      "probe_failures_total",
			Help:      "Total number of failed readiness probes, partitioned by dependency.",
		}, []string{"dependency"}),
	}
}

// instrument records request count and latency for next under handler.
func (s *Server) instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}

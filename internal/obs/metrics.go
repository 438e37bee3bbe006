// Package obs holds the Prometheus metrics of the agent.
package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// FragmentsTotal counts inbound fragments by result: buffered, duplicate, rejected.
	FragmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_fragments_total",
			Help: "Inbound message fragments by result.",
		},
		[]string{"result"},
	)

	// FlushesTotal counts merged messages handed to the pipeline.
	FlushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agent_flushes_total",
		Help: "Merged messages flushed by the aggregator.",
	})

	FragmentsPerFlush = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "agent_fragments_per_flush",
		Help:    "Number of fragments merged into one message.",
		Buckets: []float64{1, 2, 3, 5, 8, 13},
	})

	// ResolverOutcomes counts resolver results: action, clarification, timeout, failure.
	ResolverOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_resolver_outcomes_total",
			Help: "Intent resolver outcomes.",
		},
		[]string{"outcome"},
	)

	ResolverLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "agent_resolver_latency_seconds",
		Help:    "Intent resolver round-trip latency.",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16},
	})

	// ActionsTotal counts dispatched actions by name and outcome (ok, duplicate or an error kind).
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_actions_total",
			Help: "Dispatched actions by name and outcome.",
		},
		[]string{"action", "outcome"},
	)

	LockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "agent_lock_wait_seconds",
		Help:    "Time spent acquiring entity locks.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	RepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_replies_total",
			Help: "Replies sent to senders by result.",
		},
		[]string{"result"},
	)
)

// Init registers every metric in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			FragmentsTotal, FlushesTotal, FragmentsPerFlush,
			ResolverOutcomes, ResolverLatency,
			ActionsTotal, LockWaitSeconds, RepliesTotal,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight, count and latency per route. The route label
// is the chi pattern so ids in paths do not explode cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

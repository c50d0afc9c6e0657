package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus series exported by the server and the worker.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	recalculations  *prometheus.CounterVec
	grandTotal      *prometheus.HistogramVec
	exports         *prometheus.CounterVec
}

// NewMetrics initialises the registry with the HTTP and costing series.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests partitioned by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	recalculations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_estimate_recalculations_total",
		Help: "Document recalculations partitioned by document kind and trigger.",
	}, []string{"kind", "source"})
	grandTotal := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_estimate_grand_total",
		Help:    "Grand totals produced by recalculation.",
		Buckets: prometheus.ExponentialBuckets(1000, 10, 8),
	}, []string{"kind"})
	exports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_estimate_exports_total",
		Help: "Document exports partitioned by format.",
	}, []string{"format"})
	registry.MustRegister(requests, duration, recalculations, grandTotal, exports)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		recalculations:  recalculations,
		grandTotal:      grandTotal,
		exports:         exports,
	}
}

// ObserveRecalculation counts a recalculated document and records its grand total.
func (m *Metrics) ObserveRecalculation(kind, source string, grandTotal float64) {
	if m == nil {
		return
	}
	m.recalculations.WithLabelValues(kind, source).Inc()
	m.grandTotal.WithLabelValues(kind).Observe(grandTotal)
}

// ObserveExport counts a document export.
func (m *Metrics) ObserveExport(format string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(format).Inc()
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for collectors owned by other packages.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

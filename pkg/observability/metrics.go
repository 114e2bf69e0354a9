package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Audited operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	HistoryRowsTotal  *prometheus.CounterVec

	// Maintenance metrics
	PrunedRowsTotal   *prometheus.CounterVec
	ArchivedRowsTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_operations_total",
				Help: "Total number of collection operations",
			},
			[]string{"collection", "operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronicle_operation_duration_seconds",
				Help:    "Collection operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"collection", "operation"},
		),
		HistoryRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_history_rows_total",
				Help: "Total number of history rows written",
			},
			[]string{"collection"},
		),

		PrunedRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_pruned_rows_total",
				Help: "Total number of history rows removed by retention",
			},
			[]string{"collection"},
		),
		ArchivedRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_archived_rows_total",
				Help: "Total number of history rows exported to object storage",
			},
			[]string{"collection"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronicle_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.HistoryRowsTotal,
		m.PrunedRowsTotal,
		m.ArchivedRowsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// ObserveOperation records one collection operation. A nil receiver is a
// no-op so callers can run without metrics.
func (m *Metrics) ObserveOperation(collection, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(collection, operation, status).Inc()
	m.OperationDuration.WithLabelValues(collection, operation).Observe(time.Since(start).Seconds())
}

// AddHistoryRows counts history rows written for collection.
func (m *Metrics) AddHistoryRows(collection string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.HistoryRowsTotal.WithLabelValues(collection).Add(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. route names the matched
// route template so label cardinality stays bounded.
func HTTPMetricsMiddleware(metrics *Metrics, route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route != nil {
				path = route(r)
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector handles Prometheus metrics collection. A nil
// *MetricsCollector is valid and records nothing.
type MetricsCollector struct {
	serviceName string
	registry    *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	dbQueryDuration     *prometheus.HistogramVec
	ledgerCallsTotal    *prometheus.CounterVec
	ledgerCallDuration  *prometheus.HistogramVec
	verificationsTotal  *prometheus.CounterVec
	shareGrantOpsTotal  *prometheus.CounterVec
	dispensationsTotal  *prometheus.CounterVec
	systemErrors        *prometheus.CounterVec
}

// NewMetricsCollector creates a new metrics collector on its own registry
func NewMetricsCollector(serviceName string) *MetricsCollector {
	m := &MetricsCollector{
		serviceName: serviceName,
		registry:    prometheus.NewRegistry(),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code", "service"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "service"},
		),
		dbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"query_type", "status", "service"},
		),
		ledgerCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_calls_total",
				Help: "Total number of oracle and notary calls",
			},
			[]string{"operation", "outcome", "service"},
		),
		ledgerCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_call_duration_seconds",
				Help:    "Duration of oracle and notary calls in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			},
			[]string{"operation", "service"},
		),
		verificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prescription_verifications_total",
				Help: "Total number of prescription verification attempts by final state",
			},
			[]string{"status", "reason", "service"},
		),
		shareGrantOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "share_grant_operations_total",
				Help: "Total number of share grant operations",
			},
			[]string{"operation", "status", "service"},
		),
		dispensationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispensations_total",
				Help: "Total number of dispensation requests",
			},
			[]string{"status", "service"},
		),
		systemErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "system_errors_total",
				Help: "Total number of system errors",
			},
			[]string{"error_type", "service", "component"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dbQueryDuration,
		m.ledgerCallsTotal,
		m.ledgerCallDuration,
		m.verificationsTotal,
		m.shareGrantOpsTotal,
		m.dispensationsTotal,
		m.systemErrors,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode, m.serviceName).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint, m.serviceName).Observe(duration.Seconds())
}

// RecordDBQuery records database query metrics
func (m *MetricsCollector) RecordDBQuery(queryType string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(queryType, statusLabel(success), m.serviceName).Observe(duration.Seconds())
}

// RecordLedgerCall records an oracle or notary invocation
func (m *MetricsCollector) RecordLedgerCall(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ledgerCallsTotal.WithLabelValues(operation, outcome, m.serviceName).Inc()
	m.ledgerCallDuration.WithLabelValues(operation, m.serviceName).Observe(duration.Seconds())
}

// RecordVerification records the final state of a verification attempt
func (m *MetricsCollector) RecordVerification(status, reason string) {
	if m == nil {
		return
	}
	m.verificationsTotal.WithLabelValues(status, reason, m.serviceName).Inc()
}

// RecordShareGrantOperation records a share grant operation
func (m *MetricsCollector) RecordShareGrantOperation(operation string, success bool) {
	if m == nil {
		return
	}
	m.shareGrantOpsTotal.WithLabelValues(operation, statusLabel(success), m.serviceName).Inc()
}

// RecordDispensation records a dispensation request
func (m *MetricsCollector) RecordDispensation(success bool) {
	if m == nil {
		return
	}
	m.dispensationsTotal.WithLabelValues(statusLabel(success), m.serviceName).Inc()
}

// RecordSystemError records system error metrics
func (m *MetricsCollector) RecordSystemError(errorType, component string) {
	if m == nil {
		return
	}
	m.systemErrors.WithLabelValues(errorType, m.serviceName, component).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware creates middleware for HTTP request metrics. The endpoint
// label is the route template when one is known, to keep cardinality bounded.
func (m *MetricsCollector) HTTPMiddleware(routeOf func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			endpoint := r.URL.Path
			if routeOf != nil {
				if route := routeOf(r); route != "" {
					endpoint = route
				}
			}

			m.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(wrapper.statusCode), time.Since(start))
		})
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
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

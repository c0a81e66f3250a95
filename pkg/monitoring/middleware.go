package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medrex/rx-ledger/pkg/logger"
)

// Ledger call outcomes used as metric labels
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// RequestIDHeader carries the request correlation ID
const RequestIDHeader = "X-Request-ID"

// MonitoringMiddleware combines metrics, tracing, and logging
type MonitoringMiddleware struct {
	metrics *MetricsCollector
	tracing *TracingManager
	logger  *logger.Logger
}

// NewMonitoringMiddleware creates a new monitoring middleware. A nil tracing
// manager is replaced by a no-op one.
func NewMonitoringMiddleware(metrics *MetricsCollector, tracing *TracingManager, log *logger.Logger) *MonitoringMiddleware {
	if tracing == nil {
		tracing = NewNoopTracingManager("rx-ledger")
	}
	return &MonitoringMiddleware{
		metrics: metrics,
		tracing: tracing,
		logger:  log,
	}
}

// Tracing returns the tracing manager in use
func (mm *MonitoringMiddleware) Tracing() *TracingManager {
	return mm.tracing
}

// RequestID ensures every request carries a request ID, in its context and
// in the response headers.
func (mm *MonitoringMiddleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), logger.RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HTTPMiddleware logs each request and records its metrics under the route
// template returned by routeOf.
func (mm *MonitoringMiddleware) HTTPMiddleware(routeOf func(r *http.Request) string) func(http.Handler) http.Handler {
	record := mm.metrics.HTTPMiddleware(routeOf)

	return func(next http.Handler) http.Handler {
		return record(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			mm.logger.HTTPRequest(
				r.Context(),
				r.Method,
				r.URL.Path,
				r.UserAgent(),
				r.RemoteAddr,
				wrapper.statusCode,
				time.Since(start).Milliseconds(),
			)
		}))
	}
}

// LedgerCall wraps one oracle or notary invocation with a span, metrics and
// a ledger log line. Callers classify the outcome from the returned error.
func (mm *MonitoringMiddleware) LedgerCall(ctx context.Context, operation string, prescriptionID int64, call func(ctx context.Context) error) error {
	start := time.Now()

	ctx, span := mm.tracing.StartLedgerSpan(ctx, operation, prescriptionID)
	defer span.End()

	err := call(ctx)
	duration := time.Since(start)

	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case ctx.Err() == context.DeadlineExceeded:
		outcome = OutcomeTimeout
	default:
		outcome = OutcomeError
	}

	span.SetAttributes(attribute.String("ledger.outcome", outcome))
	mm.metrics.RecordLedgerCall(operation, outcome, duration)

	details := map[string]interface{}{"outcome": outcome}
	if err != nil {
		mm.tracing.RecordError(span, err)
		mm.metrics.RecordSystemError("ledger_error", operation)
		details["error"] = err.Error()
	}
	mm.logger.LedgerCall(ctx, operation, prescriptionID, err == nil, duration.Milliseconds(), details)

	return err
}

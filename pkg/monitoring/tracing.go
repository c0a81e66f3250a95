package monitoring

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig holds tracing configuration
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	JaegerEndpoint string
	Environment    string
	SamplingRate   float64
}

// TracingManager handles distributed tracing
type TracingManager struct {
	tracer     trace.Tracer
	config     *TracingConfig
	provider   *sdktrace.TracerProvider
	propagator propagation.TextMapPropagator
}

// NewTracingManager creates a tracing manager exporting to Jaeger and
// installs it as the global tracer provider.
func NewTracingManager(config *TracingConfig) (*TracingManager, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SamplingRate))),
	)

	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagator)

	tm := NewProviderTracingManager(config.ServiceName, tp)
	tm.config = config
	tm.propagator = propagator
	return tm, nil
}

// NewProviderTracingManager wraps an already configured provider. The
// provider is shut down with the manager.
func NewProviderTracingManager(serviceName string, tp *sdktrace.TracerProvider) *TracingManager {
	return &TracingManager{
		tracer:     tp.Tracer(serviceName),
		config:     &TracingConfig{ServiceName: serviceName},
		provider:   tp,
		propagator: propagation.TraceContext{},
	}
}

// NewNoopTracingManager returns a manager whose spans are never recorded
func NewNoopTracingManager(serviceName string) *TracingManager {
	return &TracingManager{
		tracer:     trace.NewNoopTracerProvider().Tracer(serviceName),
		config:     &TracingConfig{ServiceName: serviceName},
		propagator: propagation.TraceContext{},
	}
}

// StartSpan starts a new span. A nil manager yields non-recording spans.
func (tm *TracingManager) StartSpan(ctx context.Context, operationName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tm == nil {
		return noopTracer.Start(ctx, operationName, opts...)
	}
	return tm.tracer.Start(ctx, operationName, opts...)
}

var noopTracer = trace.NewNoopTracerProvider().Tracer("")

// StartHTTPSpan starts a span for HTTP requests
func (tm *TracingManager) StartHTTPSpan(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return tm.StartSpan(ctx, fmt.Sprintf("%s %s", method, route),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// StartDatabaseSpan starts a span for database operations
func (tm *TracingManager) StartDatabaseSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return tm.StartSpan(ctx, fmt.Sprintf("db.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBOperationKey.String(operation),
			semconv.DBSQLTableKey.String(table),
		),
	)
}

// StartLedgerSpan starts a span for an oracle or notary call about one prescription
func (tm *TracingManager) StartLedgerSpan(ctx context.Context, operation string, prescriptionID int64) (context.Context, trace.Span) {
	return tm.StartSpan(ctx, fmt.Sprintf("ledger.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ledger.operation", operation),
			attribute.Int64("prescription.id", prescriptionID),
		),
	)
}

// RecordError records an error in the span
func (tm *TracingManager) RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// HTTPMiddleware creates middleware for HTTP request tracing
func (tm *TracingManager) HTTPMiddleware(routeOf func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := tm.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			route := r.URL.Path
			if routeOf != nil {
				if tmpl := routeOf(r); tmpl != "" {
					route = tmpl
				}
			}

			ctx, span := tm.StartHTTPSpan(ctx, r.Method, route)
			defer span.End()

			span.SetAttributes(
				attribute.String("http.user_agent", r.UserAgent()),
				attribute.String("http.client_ip", r.RemoteAddr),
			)

			tm.propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r.WithContext(ctx))

			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(wrapper.statusCode))
			if wrapper.statusCode >= 500 {
				span.SetStatus(codes.Error, http.StatusText(wrapper.statusCode))
			}
		})
	}
}

// Shutdown flushes and stops the tracing provider, if any
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	if tm.provider == nil {
		return nil
	}
	return tm.provider.Shutdown(ctx)
}

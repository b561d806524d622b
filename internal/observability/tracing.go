package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/fieldops/internal/config"
)

const (
	tracerName = "github.com/pitabwire/fieldops"

	defaultSamplingRate = 0.1
)

// Span attributes set by the workflow engine, the AI client and the
// request context middleware.
var (
	AttrWorkOrderID = attribute.Key("fieldops.work_order_id")
	AttrWorkType    = attribute.Key("fieldops.work_type")
	AttrSessionID   = attribute.Key("fieldops.session_id")
	AttrStepID      = attribute.Key("fieldops.step_id")
	AttrPhase       = attribute.Key("fieldops.phase")
	AttrApprovalID  = attribute.Key("fieldops.approval_id")
	AttrDecision    = attribute.Key("fieldops.decision")
	AttrTenantID    = attribute.Key("fieldops.tenant_id")
	AttrSubjectID   = attribute.Key("fieldops.subject_id")

	AttrAIModel        = attribute.Key("fieldops.ai.model")
	AttrAIFinishReason = attribute.Key("fieldops.ai.finish_reason")
	AttrAIAttempts     = attribute.Key("fieldops.ai.attempts")
)

// NewTracerProvider builds a provider that batches spans to the configured
// exporter. The resource names the service and its version.
func NewTracerProvider(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (*sdktrace.TracerProvider, error) {
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg)),
	), nil
}

// InitTracing installs the global tracer provider and W3C propagators. The
// returned function flushes pending spans. With tracing disabled only the
// propagators are installed so inbound traceparent headers still flow to
// the AI upstream.
func InitTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	tp, err := NewTracerProvider(ctx, cfg, serviceName, serviceVersion)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp", "":
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported exporter %q (supported: otlp, stdout)", cfg.Exporter)
	}
}

// newSampler honours the parent's decision and samples root spans by
// trace-ID ratio.
func newSampler(cfg config.TracingConfig) sdktrace.Sampler {
	rate := cfg.SamplingRate
	switch {
	case rate <= 0:
		rate = defaultSamplingRate
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts an internal span carrying attrs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpanWithError records err on the span, if any, and ends it.
func EndSpanWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceIDFromContext returns the active trace ID or "".
func TraceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// TracingMiddleware starts a server span per request, continuing any inbound
// traceparent. Once routing is done the span is renamed to the route pattern
// so "/work-orders/{id}" groups every work order.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := Tracer().Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if pattern := routePattern(r); pattern != r.URL.Path {
			span.SetName(r.Method + " " + pattern)
			span.SetAttributes(semconv.HTTPRoute(pattern))
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}

// InjectTraceHeaders writes the current trace context into outbound headers.
func InjectTraceHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

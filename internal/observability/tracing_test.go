package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/fieldops/internal/config"
)

// recordSpans installs an always-sampling provider backed by an in-memory
// exporter for the duration of the test.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return exporter
}

func onlySpan(t *testing.T, exporter *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	return spans[0]
}

func attrs(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string, len(s.Attributes))
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}

func TestInitTracing_disabledStillPropagates(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	shutdown, err := InitTracing(context.Background(), config.TracingConfig{}, "fieldops", "test")
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}

	fields := otel.GetTextMapPropagator().Fields()
	if !strings.Contains(strings.Join(fields, ","), "traceparent") {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}
}

func TestNewTracerProvider_stdout(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), config.TracingConfig{
		Enabled:      true,
		Exporter:     "STDOUT",
		SamplingRate: 1,
	}, "fieldops", "test")
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewTracerProvider_unsupportedExporter(t *testing.T) {
	_, err := NewTracerProvider(context.Background(), config.TracingConfig{Exporter: "zipkin"}, "fieldops", "test")
	if err == nil || !strings.Contains(err.Error(), "zipkin") {
		t.Fatalf("error = %v, want unsupported exporter", err)
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "TraceIDRatioBased{0.1}"},
		{0.5, "TraceIDRatioBased{0.5}"},
		{1, "AlwaysOnSampler"},
		{3, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		desc := newSampler(config.TracingConfig{SamplingRate: tt.rate}).Description()
		if !strings.HasPrefix(desc, "ParentBased{root:"+tt.want) {
			t.Errorf("rate %v: description = %q, want root %s", tt.rate, desc, tt.want)
		}
	}
}

func TestStartSpan_carriesWorkflowAttributes(t *testing.T) {
	exporter := recordSpans(t)

	ctx, span := StartSpan(context.Background(), "workflow.CompleteStep",
		AttrSessionID.String("ws-1"),
		AttrStepID.String("measure-runout"),
	)
	if trace.SpanFromContext(ctx) != span {
		t.Error("context should carry the new span")
	}
	span.End()

	got := attrs(onlySpan(t, exporter))
	if got["fieldops.session_id"] != "ws-1" || got["fieldops.step_id"] != "measure-runout" {
		t.Errorf("attributes = %v", got)
	}
}

func TestStartSpan_nestsUnderParent(t *testing.T) {
	exporter := recordSpans(t)

	ctx, report := StartSpan(context.Background(), "workflow.SubmitReport")
	_, approval := StartSpan(ctx, "workflow.RequestApproval", AttrPhase.String("repair_scope"))
	approval.End()
	report.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.SpanContext.TraceID() != parent.SpanContext.TraceID() {
		t.Error("approval span should share the report trace")
	}
	if child.Parent.SpanID() != parent.SpanContext.SpanID() {
		t.Error("approval span should be a child of the report span")
	}
}

func TestEndSpanWithError(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		exporter := recordSpans(t)
		_, span := StartSpan(context.Background(), "workflow.Decide")
		EndSpanWithError(span, errors.New("approval not pending"))

		s := onlySpan(t, exporter)
		if s.Status.Code != codes.Error || s.Status.Description != "approval not pending" {
			t.Errorf("status = %+v", s.Status)
		}
		if len(s.Events) == 0 {
			t.Error("error should be recorded as an event")
		}
	})

	t.Run("nil", func(t *testing.T) {
		exporter := recordSpans(t)
		_, span := StartSpan(context.Background(), "workflow.Decide")
		EndSpanWithError(span, nil)

		if s := onlySpan(t, exporter); s.Status.Code == codes.Error {
			t.Error("status should not be Error without an error")
		}
	})
}

func TestTraceIDFromContext(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("TraceIDFromContext(empty) = %q, want empty", got)
	}

	recordSpans(t)
	ctx, span := StartSpan(context.Background(), "lookup")
	defer span.End()
	if got := TraceIDFromContext(ctx); got != span.SpanContext().TraceID().String() {
		t.Errorf("TraceIDFromContext = %q, want %q", got, span.SpanContext().TraceID())
	}
}

func tracedRouter(status int) http.Handler {
	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	r.Get("/work-orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
	r.Post("/sessions/{id}/report", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
	return r
}

func TestTracingMiddleware_namesSpanByRoute(t *testing.T) {
	exporter := recordSpans(t)

	rec := httptest.NewRecorder()
	tracedRouter(http.StatusOK).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/work-orders/wo-42", nil))

	s := onlySpan(t, exporter)
	if s.Name != "GET /work-orders/{id}" {
		t.Errorf("span name = %q, want GET /work-orders/{id}", s.Name)
	}
	if s.SpanKind != trace.SpanKindServer {
		t.Errorf("span kind = %v, want server", s.SpanKind)
	}
	got := attrs(s)
	if got["http.route"] != "/work-orders/{id}" {
		t.Errorf("http.route = %q", got["http.route"])
	}
	if got["url.path"] != "/work-orders/wo-42" {
		t.Errorf("url.path = %q", got["url.path"])
	}
	if got["http.response.status_code"] != "200" {
		t.Errorf("status code = %q, want 200", got["http.response.status_code"])
	}
	if rec.Header().Get("Traceparent") == "" {
		t.Error("response should carry a traceparent header")
	}
}

func TestTracingMiddleware_serverErrorMarksSpan(t *testing.T) {
	exporter := recordSpans(t)

	tracedRouter(http.StatusBadGateway).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/sessions/ws-1/report", nil))

	if s := onlySpan(t, exporter); s.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error for 502", s.Status.Code)
	}
}

func TestTracingMiddleware_unroutedKeepsPath(t *testing.T) {
	exporter := recordSpans(t)

	tracedRouter(http.StatusOK).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if s := onlySpan(t, exporter); s.Name != "GET /nowhere" {
		t.Errorf("span name = %q, want GET /nowhere", s.Name)
	}
}

func TestTracingMiddleware_continuesInboundTrace(t *testing.T) {
	exporter := recordSpans(t)
	const (
		traceID = "0af7651916cd43dd8448eb211c80319c"
		spanID  = "b7ad6b7169203331"
	)

	req := httptest.NewRequest(http.MethodGet, "/work-orders/wo-1", nil)
	req.Header.Set("Traceparent", "00-"+traceID+"-"+spanID+"-01")
	tracedRouter(http.StatusOK).ServeHTTP(httptest.NewRecorder(), req)

	s := onlySpan(t, exporter)
	if s.SpanContext.TraceID().String() != traceID {
		t.Errorf("trace ID = %s, want %s", s.SpanContext.TraceID(), traceID)
	}
	if s.Parent.SpanID().String() != spanID {
		t.Errorf("parent span = %s, want %s", s.Parent.SpanID(), spanID)
	}
}

func TestInjectTraceHeaders(t *testing.T) {
	recordSpans(t)
	ctx, span := StartSpan(context.Background(), "invoker.chat_completion")
	defer span.End()

	headers := http.Header{}
	InjectTraceHeaders(ctx, headers)

	if !strings.Contains(headers.Get("Traceparent"), span.SpanContext().TraceID().String()) {
		t.Errorf("traceparent = %q, want trace %s", headers.Get("Traceparent"), span.SpanContext().TraceID())
	}
}

package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/fieldops/internal/config"
	"github.com/pitabwire/fieldops/model"
)

// Log level conventions:
//   - error: store or object-store failures, panics, 5xx responses
//   - warn:  4xx responses, AI upstream degraded, failed AI interaction writes
//   - info:  request summary, phase advances, approval decisions, procedure sync
//   - debug: capability cache, idempotent replays, redacted AI request bodies

type loggerKey struct{}

// Log output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

const redacted = "[REDACTED]"

// NewLogger builds the service logger. Entries carry the service name and
// build version. Above debug level repeated messages are sampled.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoding := FormatJSON
	if strings.EqualFold(cfg.LogFormat, FormatConsole) {
		encoding = FormatConsole
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields: map[string]any{
			"service": "fieldops",
			"version": Version,
		},
	}
	if level > zapcore.DebugLevel {
		zcfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}
	return zcfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, then fallback, then a
// no-op logger.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}

// RequestLogger returns the context logger tagged with the caller's tenant,
// subject and correlation ID. The trace ID comes from the request context or,
// failing that, the active span.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("tenant_id", rctx.TenantID),
		zap.String("subject_id", rctx.SubjectID),
		zap.String("correlation_id", rctx.CorrelationID),
	}
	traceID := rctx.TraceID
	if traceID == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
	}
	if traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	return logger.With(fields...)
}

// WorkOrderLogger is RequestLogger scoped to one work order and phase.
func WorkOrderLogger(ctx context.Context, fallback *zap.Logger, workOrderID string, phase model.Phase) *zap.Logger {
	return RequestLogger(ctx, fallback).With(
		zap.String("work_order_id", workOrderID),
		zap.String("phase", string(phase)),
	)
}

// sensitiveKeys are redacted from logged bodies. Keys compare lowercased
// with '-' and '_' removed.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"accesstoken":   true,
	"refreshtoken":  true,
	"apikey":        true,
	"authorization": true,
	"accesskey":     true,
	"secretkey":     true,
	"dsn":           true,
}

func normalizeKey(k string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(k))
}

// RedactBody returns a copy of body with sensitive values replaced by
// "[REDACTED]". extra names further keys to hide, such as inline image data.
// Nested objects and arrays are walked. Use it for debug logging only.
func RedactBody(body map[string]any, extra []string) map[string]any {
	if body == nil {
		return nil
	}
	hide := make(map[string]bool, len(extra))
	for _, k := range extra {
		hide[normalizeKey(k)] = true
	}
	return redactMap(body, hide)
}

func redactMap(m map[string]any, hide map[string]bool) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		nk := normalizeKey(k)
		if sensitiveKeys[nk] || hide[nk] {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v, hide)
	}
	return out
}

func redactValue(v any, hide map[string]bool) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, hide)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item, hide)
		}
		return out
	default:
		return v
	}
}

// Package assistant builds prompts for the troubleshooting, image analysis
// and predictive maintenance endpoints and interprets the upstream answers.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/fieldops/internal/invoker"
	"github.com/pitabwire/fieldops/internal/observability"
	"github.com/pitabwire/fieldops/model"
)

// ErrNotConfigured means no upstream API key is available.
var ErrNotConfigured = errors.New("AI service not configured")

// InputError is a request the service refuses before calling the upstream.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

// UpstreamError wraps a failed chat-completion call.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "AI upstream failed: " + e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// Completer is the chat-completion upstream.
type Completer interface {
	Configured() bool
	ChatCompletion(ctx context.Context, req invoker.ChatRequest) (invoker.Completion, error)
}

// Records gives the service access to maintenance history and the
// interaction log.
type Records interface {
	EquipmentHistory(ctx context.Context, rctx *model.RequestContext, unitID, modelID string) (model.EquipmentHistory, error)
	RecordAIInteraction(ctx context.Context, rctx *model.RequestContext, i model.AIInteraction) (model.AIInteraction, error)
}

// Recorder receives AI request metrics.
type Recorder interface {
	RecordAIRequest(function, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAIRequest(string, string) {}

// Service answers AI requests.
type Service struct {
	llm     Completer
	records Records
	metrics Recorder
	logger  *zap.Logger

	visionModel string
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics sets the metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithVisionModel sets the model used for photo analysis. Empty keeps the
// client default.
func WithVisionModel(name string) Option {
	return func(s *Service) { s.visionModel = name }
}

// NewService creates a Service.
func NewService(llm Completer, records Records, opts ...Option) *Service {
	s := &Service{
		llm:     llm,
		records: records,
		metrics: nopRecorder{},
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// complete runs one upstream call and maps its failure modes.
func (s *Service) complete(ctx context.Context, function string, req invoker.ChatRequest) (invoker.Completion, error) {
	if !s.llm.Configured() {
		s.metrics.RecordAIRequest(function, "not_configured")
		return invoker.Completion{}, ErrNotConfigured
	}
	out, err := s.llm.ChatCompletion(ctx, req)
	if err != nil {
		if errors.Is(err, invoker.ErrNotConfigured) {
			s.metrics.RecordAIRequest(function, "not_configured")
			return invoker.Completion{}, ErrNotConfigured
		}
		s.metrics.RecordAIRequest(function, "upstream_error")
		observability.RequestLogger(ctx, s.logger).Error("AI upstream call failed",
			zap.String("function", function), zap.Error(err))
		return invoker.Completion{}, &UpstreamError{Err: err}
	}
	s.metrics.RecordAIRequest(function, "success")
	return out, nil
}

// record logs the interaction when it is tied to a session. Logging failures
// never fail the request.
func (s *Service) record(ctx context.Context, rctx *model.RequestContext, i model.AIInteraction) string {
	if i.SessionID == "" || s.records == nil || rctx == nil {
		return ""
	}
	saved, err := s.records.RecordAIInteraction(ctx, rctx, i)
	if err != nil {
		observability.RequestLogger(ctx, s.logger).Warn("recording AI interaction failed",
			zap.String("function", i.Function),
			zap.String("session_id", i.SessionID),
			zap.Error(err))
		return ""
	}
	return saved.ID
}

// contextString reads a string value from a free-form context object.
func contextString(c map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := c[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func describeContext(c map[string]any) string {
	if len(c) == 0 {
		return ""
	}
	var b strings.Builder
	for _, k := range sortedKeys(c) {
		switch v := c[k].(type) {
		case nil:
		case string:
			if v != "" {
				fmt.Fprintf(&b, "- %s: %s\n", k, v)
			}
		default:
			fmt.Fprintf(&b, "- %s: %v\n", k, v)
		}
	}
	return b.String()
}

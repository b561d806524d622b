// Package invoker calls the OpenAI-compatible chat-completion upstream behind
// a circuit breaker, bounded retry and per-call timeout.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/fieldops/internal/observability"
)

// ErrNotConfigured is returned when no API key is available.
var ErrNotConfigured = errors.New("invoker: AI service not configured")

// UpstreamError is a non-2xx answer from the chat-completion API.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("invoker: upstream returned %d: %s", e.StatusCode, e.Body)
}

// Observer receives upstream call metrics.
type Observer interface {
	RecordUpstreamCall(outcome string, duration time.Duration)
	RecordUpstreamRetry()
	SetCircuitBreakerState(state string)
}

type nopObserver struct{}

func (nopObserver) RecordUpstreamCall(string, time.Duration) {}
func (nopObserver) RecordUpstreamRetry()                     {}
func (nopObserver) SetCircuitBreakerState(string)            {}

// Config configures a Client.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Breaker   BreakerConfig
	Retry     RetryPolicy
}

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image for vision models.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Message is a chat message. When Parts is set it replaces Content on the
// wire.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

// MarshalJSON encodes content either as a string or as a parts array.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{m.Role, m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Content})
}

// ChatRequest is one chat-completion call. Zero MaxTokens and an empty Model
// use the client defaults.
type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// Completion is the first choice of a chat-completion answer.
type Completion struct {
	Content          string
	FinishReason     string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client calls the chat-completion upstream.
type Client struct {
	cfg      Config
	http     *http.Client
	breaker  *CircuitBreaker
	observer Observer
	logger   *zap.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) ClientOption {
	return func(cl *Client) { cl.observer = o }
}

// WithClientLogger sets the fallback logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// NewClient builds a Client. A missing API key is allowed; calls then fail
// with ErrNotConfigured.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	c := &Client{
		cfg:      cfg,
		observer: nopObserver{},
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	c.breaker = NewCircuitBreaker(cfg.Breaker, OnStateChange(func(s BreakerState) {
		c.observer.SetCircuitBreakerState(s.String())
	}))
	return c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// BreakerState exposes the breaker state for readiness reporting.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

// ChatCompletion sends req and returns the first choice.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (Completion, error) {
	if !c.Configured() {
		return Completion{}, ErrNotConfigured
	}

	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	ctx, span := observability.StartSpan(ctx, "invoker.chat_completion",
		observability.AttrAIModel.String(req.Model))
	var out Completion
	attempts := 1
	err := Retry(ctx, c.cfg.Retry, isRetryable, func(attempt int, err error) {
		attempts++
		c.observer.RecordUpstreamRetry()
		observability.RequestLogger(ctx, c.logger).Warn("retrying AI upstream call",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}, func(ctx context.Context) error {
		var err error
		out, err = c.callOnce(ctx, req)
		return err
	})
	span.SetAttributes(observability.AttrAIAttempts.Int(attempts))
	if err == nil {
		span.SetAttributes(observability.AttrAIFinishReason.String(out.FinishReason))
	}
	observability.EndSpanWithError(span, err)
	return out, err
}

func (c *Client) callOnce(ctx context.Context, req ChatRequest) (Completion, error) {
	if err := c.breaker.Allow(); err != nil {
		c.observer.RecordUpstreamCall("rejected", 0)
		return Completion{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	payload := map[string]any{
		"model":      req.Model,
		"messages":   req.Messages,
		"max_tokens": maxTokens,
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, fmt.Errorf("invoker: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("invoker: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+sanitizeHeader(c.cfg.APIKey))
	observability.InjectTraceHeaders(ctx, httpReq.Header)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.breaker.RecordFailure()
		c.observer.RecordUpstreamCall("error", time.Since(start))
		return Completion{}, fmt.Errorf("invoker: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.breaker.RecordFailure()
		c.observer.RecordUpstreamCall("error", time.Since(start))
		return Completion{}, fmt.Errorf("invoker: read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		c.breaker.RecordFailure()
	case resp.StatusCode < 400:
		c.breaker.RecordSuccess()
	}

	if resp.StatusCode >= 300 {
		c.observer.RecordUpstreamCall(fmt.Sprintf("%dxx", resp.StatusCode/100), time.Since(start))
		return Completion{}, &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	c.observer.RecordUpstreamCall("success", time.Since(start))

	return parseCompletion(raw)
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func parseCompletion(raw []byte) (Completion, error) {
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Completion{}, fmt.Errorf("invoker: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Completion{}, errors.New("invoker: upstream returned no choices")
	}
	return Completion{
		Content:          strings.TrimSpace(out.Choices[0].Message.Content),
		FinishReason:     out.Choices[0].FinishReason,
		Model:            out.Model,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}

// isRetryable reports whether a failed call may be repeated. Client errors
// other than 429 and an open breaker are final.
func isRetryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrNotConfigured) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		switch up.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

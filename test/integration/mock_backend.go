package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockUpstream is a configurable chat-completion server. Responses are
// served from a queue; once the queue is drained the last response repeats.
// Every received request is recorded for later assertion.
type MockUpstream struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	responses []*mockResponse
	current   int
	received  []*RecordedRequest
}

// RecordedRequest captures the details of a request received by the mock.
type RecordedRequest struct {
	Path       string
	Headers    http.Header
	Body       map[string]any
	ReceivedAt time.Time
}

type mockResponse struct {
	status       int
	content      string
	finishReason string
	rawBody      string
	delay        time.Duration
}

func newMockUpstream(t *testing.T) *MockUpstream {
	t.Helper()

	m := &MockUpstream{
		t:         t,
		responses: []*mockResponse{{status: http.StatusOK, content: "Check the mechanical seal.", finishReason: "stop"}},
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the base URL of the mock server.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Reply replaces the response queue with a single successful answer.
func (m *MockUpstream) Reply(content, finishReason string) {
	m.setResponses(&mockResponse{status: http.StatusOK, content: content, finishReason: finishReason})
}

// Fail replaces the response queue with an error response.
func (m *MockUpstream) Fail(status int, body string) {
	m.setResponses(&mockResponse{status: status, rawBody: body})
}

// Delay makes every response wait d before being written.
func (m *MockUpstream) Delay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.responses {
		r.delay = d
	}
}

// Requests returns every request received so far.
func (m *MockUpstream) Requests() []*RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RecordedRequest, len(m.received))
	copy(out, m.received)
	return out
}

// RequestCount returns the number of requests received so far.
func (m *MockUpstream) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func (m *MockUpstream) setResponses(rs ...*mockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = rs
	m.current = 0
}

func (m *MockUpstream) next() *mockResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.responses[m.current]
	if m.current < len(m.responses)-1 {
		m.current++
	}
	return r
}

func (m *MockUpstream) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := &RecordedRequest{
		Path:       r.URL.Path,
		Headers:    r.Header.Clone(),
		ReceivedAt: time.Now(),
	}
	_ = json.Unmarshal(raw, &rec.Body)

	m.mu.Lock()
	m.received = append(m.received, rec)
	m.mu.Unlock()

	if r.URL.Path != "/chat/completions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	resp := m.next()
	if resp.delay > 0 {
		select {
		case <-time.After(resp.delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	if resp.status >= 300 {
		_, _ = w.Write([]byte(resp.rawBody))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model": "gpt-test",
		"choices": []map[string]any{{
			"message":       map[string]any{"role": "assistant", "content": resp.content},
			"finish_reason": resp.finishReason,
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 20},
	})
}

// Package integration provides a reusable test harness for end-to-end
// testing of the fieldops API. It starts a full HTTP server over the bundled
// procedure catalog and role policy, in-memory stores, a test JWT issuer and
// a stub chat-completion upstream.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pitabwire/fieldops/internal/assistant"
	"github.com/pitabwire/fieldops/internal/capability"
	"github.com/pitabwire/fieldops/internal/config"
	"github.com/pitabwire/fieldops/internal/idempotency"
	"github.com/pitabwire/fieldops/internal/invoker"
	"github.com/pitabwire/fieldops/internal/observability"
	"github.com/pitabwire/fieldops/internal/openapi"
	"github.com/pitabwire/fieldops/internal/procedure"
	"github.com/pitabwire/fieldops/internal/storage"
	"github.com/pitabwire/fieldops/internal/transport"
	"github.com/pitabwire/fieldops/internal/workflow"
	"github.com/pitabwire/fieldops/model"
)

// Seeded fixtures. Each tenant owns one pump.
const (
	TenantA = "tenant-a"
	TenantB = "tenant-b"
	UnitA   = "unit-a"
	UnitB   = "unit-b"
)

// TestHarness is a running fieldops server with real JWT verification and
// in-memory backends.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	client *http.Client
	issuer *fakeIdP

	// Backends, for assertions the API does not expose.
	Store     *workflow.MemoryStore
	Engine    *workflow.Engine
	Blobs     *storage.MemoryStore
	Upstream  *MockUpstream
	Registry  *prometheus.Registry
	Templates []model.ProcedureTemplate

	cfg *config.Config
}

// HarnessOption adjusts NewTestHarness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout   time.Duration
	aiKey            string
	breakerThreshold int
}

// WithHandlerTimeout overrides the 10s request deadline.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithoutAIKey starts the server with no upstream API key configured.
func WithoutAIKey() HarnessOption {
	return func(c *harnessConfig) {
		c.aiKey = ""
	}
}

// WithBreakerThreshold sets the consecutive upstream failures that open the
// AI circuit breaker.
func WithBreakerThreshold(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.breakerThreshold = n
	}
}

// NewTestHarness starts a server for the duration of t.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()
	ctx := context.Background()

	hc := &harnessConfig{
		handlerTimeout:   10 * time.Second,
		aiKey:            "sk-integration",
		breakerThreshold: 5,
	}
	for _, opt := range opts {
		opt(hc)
	}

	root := repoRoot()
	h := &TestHarness{t: t}

	// Two tenants with one pump each, plus the shipped procedure catalog.
	h.Store = workflow.NewMemoryStore()
	for _, unit := range []model.EquipmentUnit{
		{ID: UnitA, TenantID: TenantA, SerialNumber: "PMP-A-001", ModelID: "pump-model-1", ModelName: "HX-200", Type: "pump"},
		{ID: UnitB, TenantID: TenantB, SerialNumber: "PMP-B-001", ModelID: "pump-model-1", ModelName: "HX-200", Type: "pump"},
	} {
		if err := h.Store.CreateEquipment(ctx, unit); err != nil {
			t.Fatalf("seed equipment: %v", err)
		}
	}

	templates, err := procedure.NewLoader().LoadAll([]string{filepath.Join(root, "procedures")})
	if err != nil {
		t.Fatalf("load procedure catalog: %v", err)
	}
	if _, err := procedure.Sync(ctx, h.Store, templates); err != nil {
		t.Fatalf("sync procedure catalog: %v", err)
	}
	h.Templates = templates

	evaluator, err := capability.NewStaticPolicyEvaluator(filepath.Join(root, "config", "policies.yaml"))
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	resolver := capability.NewResolver(evaluator, 0)

	h.Registry = prometheus.NewRegistry()
	metrics := observability.InitMetrics(h.Registry)
	h.Blobs = storage.NewMemoryStore()
	h.Engine = workflow.NewEngine(h.Store, resolver,
		workflow.WithMetrics(metrics),
		workflow.WithBlobStore(h.Blobs),
	)

	h.Upstream = newMockUpstream(t)
	llm := invoker.NewClient(invoker.Config{
		BaseURL: h.Upstream.URL(),
		APIKey:  hc.aiKey,
		Model:   "gpt-test",
		Timeout: 2 * time.Second,
		Breaker: invoker.BreakerConfig{
			FailureThreshold: hc.breakerThreshold,
			SuccessThreshold: 1,
			OpenTimeout:      time.Minute,
		},
		Retry: invoker.RetryPolicy{MaxAttempts: 1},
	}, invoker.WithObserver(metrics))
	ai := assistant.NewService(llm, h.Engine, assistant.WithMetrics(metrics))

	h.issuer = newFakeIdP(t)
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:5173"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Identity.Algorithms = []string{"RS256"}

	api, err := openapi.Load()
	if err != nil {
		t.Fatalf("load API document: %v", err)
	}

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), time.Hour, nil)
	router := transport.NewRouter(transport.Dependencies{
		Config:             h.cfg,
		Authenticate:       transport.JWTAuthenticator(h.cfg.Identity, jwks, nil),
		CapabilityResolver: resolver,
		Engine:             h.Engine,
		Assistant:          ai,
		Metrics:            metrics,
		MetricsHandler:     observability.HandlerFor(h.Registry),
		Idempotency:        idempotency.NewMemoryStore(),
		API:                api,
		Readiness: observability.ReadinessChecks{
			ProceduresLoaded: func() bool { return len(templates) > 0 },
			Store:            h.Store,
			ObjectStore:      h.Blobs,
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	h.client = h.server.Client()
	h.client.Timeout = 10 * time.Second
	h.client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	return h
}

// GenerateToken mints a token the server accepts.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken mints a token whose exp is an hour past.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// GenerateForeignToken mints a token under the published kid but signed
// with a key the JWKS does not hold.
func (h *TestHarness) GenerateForeignToken(claims TestClaims) string {
	return h.issuer.GenerateForeignToken(claims)
}

// Tech, Manager and Admin mint tokens for tenant A's default users.
func (h *TestHarness) Tech() string    { return h.GenerateToken(TechnicianClaims()) }
func (h *TestHarness) Manager() string { return h.GenerateToken(ManagerClaims()) }
func (h *TestHarness) Admin() string   { return h.GenerateToken(AdminClaims()) }

func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.call(http.MethodGet, path, token, nil, nil)
}

func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.call(http.MethodGet, path, token, nil, headers)
}

// POST sends body as JSON. A string body is sent verbatim.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.call(http.MethodPost, path, token, body, nil)
}

func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.call(http.MethodPost, path, token, body, headers)
}

func (h *TestHarness) PATCH(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.call(http.MethodPatch, path, token, body, nil)
}

// UploadPhoto sends data as the multipart "file" part for stepID.
func (h *TestHarness) UploadPhoto(sessionID, stepID, contentType string, data []byte, token string) *http.Response {
	h.t.Helper()

	var form bytes.Buffer
	w := multipart.NewWriter(&form)
	if err := w.WriteField("step_id", stepID); err != nil {
		h.t.Fatalf("write step_id: %v", err)
	}
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="file"; filename="photo.jpg"`},
		"Content-Type":        {contentType},
	})
	if err == nil {
		_, err = part.Write(data)
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		h.t.Fatalf("build multipart form: %v", err)
	}

	return h.call(http.MethodPost, "/sessions/"+sessionID+"/photos", token, &form,
		map[string]string{"Content-Type": w.FormDataContentType()})
}

// call issues one request. body may be nil, a string, an io.Reader or any
// value to marshal as JSON; headers are applied last and win.
func (h *TestHarness) call(method, path, token string, body any, headers map[string]string) *http.Response {
	h.t.Helper()

	var payload io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		payload = strings.NewReader(b)
	case io.Reader:
		payload = b
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			h.t.Fatalf("encode %s %s body: %v", method, path, err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(h.t.Context(), method, h.server.URL+path, payload)
	if err != nil {
		h.t.Fatalf("build %s %s: %v", method, path, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// ReadBody drains and closes the response body.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read %s body: %v", resp.Request.URL.Path, err)
	}
	return raw
}

func (h *TestHarness) decode(resp *http.Response, target any) {
	h.t.Helper()
	raw := h.ReadBody(resp)
	if err := json.Unmarshal(raw, target); err != nil {
		h.t.Fatalf("decode %s body: %v\n%s", resp.Request.URL.Path, err, raw)
	}
}

func statusMismatch(resp *http.Response, want int) string {
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return fmt.Sprintf("%s %s = %d, want %d\n%s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, raw)
}

// AssertStatus records a failure, with the body, when the status differs.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Error(statusMismatch(resp, want))
	}
}

// AssertJSON stops the test on a status mismatch, then decodes the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, want int, target any) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatal(statusMismatch(resp, want))
	}
	h.decode(resp, target)
}

// ErrorCode returns the code from an error envelope body.
func (h *TestHarness) ErrorCode(resp *http.Response) string {
	h.t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.decode(resp, &body)
	return body.Error.Code
}

// TechnicianClaims returns TestClaims for a technician of tenant A.
func TechnicianClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-tech",
		TenantID:  TenantA,
		Email:     "tech@a.example.com",
		Roles:     []string{model.RoleTechnician},
	}
}

// ManagerClaims returns TestClaims for a manager of tenant A.
func ManagerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-manager",
		TenantID:  TenantA,
		Email:     "manager@a.example.com",
		Roles:     []string{model.RoleManager},
	}
}

// AdminClaims returns TestClaims for an admin of tenant A.
func AdminClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-admin",
		TenantID:  TenantA,
		Email:     "admin@a.example.com",
		Roles:     []string{model.RoleAdmin},
	}
}

// Template returns the catalog template for phase.
func (h *TestHarness) Template(phase model.Phase) model.ProcedureTemplate {
	h.t.Helper()
	for _, tmpl := range h.Templates {
		if tmpl.Phase == phase {
			return tmpl
		}
	}
	h.t.Fatalf("no catalog template for phase %s", phase)
	return model.ProcedureTemplate{}
}

// repoRoot returns the module root, two levels above this file.
func repoRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..")
}

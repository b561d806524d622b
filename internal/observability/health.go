package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
type ReadinessChecks struct {
	// Required.
	ProceduresLoaded func() bool
	Store            Pinger

	// Optional, skipped when nil.
	ObjectStore      Pinger
	IdempotencyStore Pinger
}

const checkTimeout = 2 * time.Second

const (
	statusOK    = "ok"
	statusError = "error"
)

type namedCheck struct {
	name string
	run  func(ctx context.Context) error
}

var (
	errNoProcedures = errors.New("no procedure templates loaded")
	errNoStore      = errors.New("store not configured")
)

// list returns the checks to run. Procedures and the store are always
// reported; the object and idempotency stores only when wired.
func (c ReadinessChecks) list() []namedCheck {
	checks := []namedCheck{
		{name: "procedures", run: func(context.Context) error {
			if c.ProceduresLoaded == nil || !c.ProceduresLoaded() {
				return errNoProcedures
			}
			return nil
		}},
		{name: "store", run: func(ctx context.Context) error {
			if c.Store == nil {
				return errNoStore
			}
			return c.Store.Ping(ctx)
		}},
	}
	if c.ObjectStore != nil {
		checks = append(checks, namedCheck{name: "object_store", run: c.ObjectStore.Ping})
	}
	if c.IdempotencyStore != nil {
		checks = append(checks, namedCheck{name: "idempotency_store", run: c.IdempotencyStore.Ping})
	}
	return checks
}

// HandleHealth serves the liveness probe. It never touches dependencies.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, HealthResponse{
			Status:  statusOK,
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady serves the readiness probe. Checks run concurrently, each
// bounded by checkTimeout; any failure turns the probe into a 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := checks.list()
		results := make([]CheckResult, len(list))

		var wg sync.WaitGroup
		for i, c := range list {
			wg.Go(func() {
				results[i] = runCheck(r.Context(), c.run)
			})
		}
		wg.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: make(map[string]CheckResult, len(list))}
		code := http.StatusOK
		for i, c := range list {
			resp.Checks[c.name] = results[i]
			if results[i].Status != statusOK {
				resp.Status = "not_ready"
				code = http.StatusServiceUnavailable
			}
		}
		writeProbe(w, code, resp)
	}
}

func runCheck(parent context.Context, check func(context.Context) error) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	res := CheckResult{Status: statusOK, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = statusError
		res.Error = err.Error()
	}
	return res
}

func writeProbe(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

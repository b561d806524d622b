package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	origVersion, origCommit := Version, Commit
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
	})

	rec := httptest.NewRecorder()
	HandleHealth().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", resp.Version)
	}
	if resp.Commit != "abc1234" {
		t.Errorf("commit = %q, want abc1234", resp.Commit)
	}
}

func TestHandleHealth_defaultValues(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealth().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Version == "" {
		t.Error("version should have a default value")
	}
}

func okPinger() Pinger { return PingerFunc(func(context.Context) error { return nil }) }

func failPinger(msg string) Pinger {
	return PingerFunc(func(context.Context) error { return errors.New(msg) })
}

func serveReady(t *testing.T, checks ReadinessChecks) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return rec.Code, resp
}

func TestHandleReady_allHealthy(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		ProceduresLoaded: func() bool { return true },
		Store:            okPinger(),
	})

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	if resp.Checks["procedures"].Status != "ok" {
		t.Errorf("procedures = %q, want ok", resp.Checks["procedures"].Status)
	}
	if resp.Checks["store"].Status != "ok" {
		t.Errorf("store = %q, want ok", resp.Checks["store"].Status)
	}
}

func TestHandleReady_proceduresNotLoaded(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		ProceduresLoaded: func() bool { return false },
		Store:            okPinger(),
	})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Status != "not_ready" {
		t.Errorf("status = %q, want not_ready", resp.Status)
	}
	if resp.Checks["procedures"].Error == "" {
		t.Error("procedures error should have a message")
	}
}

func TestHandleReady_withOptionalChecks_allHealthy(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		ProceduresLoaded: func() bool { return true },
		Store:            okPinger(),
		ObjectStore:      okPinger(),
		IdempotencyStore: okPinger(),
	})

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Checks) != 4 {
		t.Errorf("checks count = %d, want 4", len(resp.Checks))
	}
	for name, check := range resp.Checks {
		if check.Status != "ok" {
			t.Errorf("%s = %q, want ok", name, check.Status)
		}
	}
}

func TestHandleReady_dependencyDown(t *testing.T) {
	tests := []struct {
		name   string
		checks ReadinessChecks
		check  string
		errMsg string
	}{
		{
			name: "store",
			checks: ReadinessChecks{
				ProceduresLoaded: func() bool { return true },
				Store:            failPinger("connection refused"),
			},
			check:  "store",
			errMsg: "connection refused",
		},
		{
			name: "object store",
			checks: ReadinessChecks{
				ProceduresLoaded: func() bool { return true },
				Store:            okPinger(),
				ObjectStore:      failPinger("bucket missing"),
			},
			check:  "object_store",
			errMsg: "bucket missing",
		},
		{
			name: "idempotency store",
			checks: ReadinessChecks{
				ProceduresLoaded: func() bool { return true },
				Store:            okPinger(),
				IdempotencyStore: failPinger("redis timeout"),
			},
			check:  "idempotency_store",
			errMsg: "redis timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := serveReady(t, tt.checks)
			if code != http.StatusServiceUnavailable {
				t.Fatalf("status = %d, want 503", code)
			}
			if resp.Checks[tt.check].Status != "error" {
				t.Errorf("%s = %q, want error", tt.check, resp.Checks[tt.check].Status)
			}
			if resp.Checks[tt.check].Error != tt.errMsg {
				t.Errorf("%s error = %q, want %q", tt.check, resp.Checks[tt.check].Error, tt.errMsg)
			}
		})
	}
}

func TestHandleReady_emptyChecksFail(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Checks["procedures"].Status != "error" {
		t.Errorf("procedures = %q, want error", resp.Checks["procedures"].Status)
	}
	if resp.Checks["store"].Status != "error" {
		t.Errorf("store = %q, want error", resp.Checks["store"].Status)
	}
	if len(resp.Checks) != 2 {
		t.Errorf("checks count = %d, want 2 (only required checks)", len(resp.Checks))
	}
}

func TestHandleReady_checkTimeout(t *testing.T) {
	slow := PingerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil).WithContext(ctx)
	HandleReady(ReadinessChecks{
		ProceduresLoaded: func() bool { return true },
		Store:            slow,
	}).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestProbes_notCached(t *testing.T) {
	for name, h := range map[string]http.Handler{
		"health": HandleHealth(),
		"ready":  HandleReady(ReadinessChecks{ProceduresLoaded: func() bool { return true }, Store: okPinger()}),
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+name, nil))
		if got := rec.Header().Get("Cache-Control"); got != "no-store" {
			t.Errorf("%s Cache-Control = %q, want no-store", name, got)
		}
	}
}

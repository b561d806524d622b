package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"maps"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldops/internal/config"
	"github.com/pitabwire/fieldops/internal/idempotency"
	"github.com/pitabwire/fieldops/internal/observability"
	"github.com/pitabwire/fieldops/internal/openapi"
	"github.com/pitabwire/fieldops/model"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	maxCorrelationIDLen = 128
)

// standardClaimPaths locate the RequestContext fields in a token when the
// identity config leaves a path unset.
var standardClaimPaths = map[string]string{
	"subject_id": "sub",
	"tenant_id":  "tenant_id",
	"email":      "email",
	"roles":      "roles",
}

var securityHeaders = [][2]string{
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Cache-Control", "no-store"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
}

// Recovery turns a handler panic into a logged 500 envelope.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				observability.RequestLogger(r.Context(), logger).Error("panic in handler",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				WriteError(w, model.NewInternalError())
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORS answers preflight requests and decorates responses to allowed
// origins. An allowed origin of "*" admits any origin, which is echoed back
// rather than sent as a literal wildcard.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	allowAny := slices.Contains(cfg.AllowedOrigins, "*")
	allowed := func(origin string) bool {
		return origin != "" && (allowAny || slices.Contains(cfg.AllowedOrigins, origin))
	}
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")
			if allowed(origin) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Expose-Headers", headerCorrelationID+", "+idempotency.HeaderReplayed)
			}

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !preflight {
				next.ServeHTTP(w, r)
				return
			}
			if allowed(origin) {
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", headers)
				h.Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// RequestID propagates the caller's X-Correlation-Id, minting a UUID when the
// header is absent or unusable.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerCorrelationID)
		if !usableCorrelationID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(headerCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(withCorrelationID(r.Context(), id)))
	})
}

// usableCorrelationID reports whether id is short, printable ASCII and so
// safe to echo into headers and logs.
func usableCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLen {
		return false
	}
	for i := range len(id) {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}

// BuildRequestContextMiddleware turns verified claims into a
// model.RequestContext. claimPaths override the standard claim names per
// field; tokens without a subject or tenant are rejected with 401.
func BuildRequestContextMiddleware(claimPaths map[string]string) func(http.Handler) http.Handler {
	paths := maps.Clone(standardClaimPaths)
	for field, path := range claimPaths {
		if path != "" {
			paths[field] = path
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claims := ClaimsFrom(ctx)
			rctx := &model.RequestContext{
				SubjectID:     extractClaimString(claims, paths["subject_id"]),
				Email:         extractClaimString(claims, paths["email"]),
				TenantID:      extractClaimString(claims, paths["tenant_id"]),
				Roles:         extractClaimStringSlice(claims, paths["roles"]),
				Claims:        claims,
				Token:         bearerTokenFrom(ctx),
				CorrelationID: CorrelationIDFrom(ctx),
				TraceID:       observability.TraceIDFromContext(ctx),
			}
			if err := rctx.Validate(); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				WriteError(w, model.NewUnauthorizedError("Token is missing subject or tenant claims"))
				return
			}

			trace.SpanFromContext(ctx).SetAttributes(
				observability.AttrTenantID.String(rctx.TenantID),
				observability.AttrSubjectID.String(rctx.SubjectID),
			)
			next.ServeHTTP(w, r.WithContext(model.WithRequestContext(ctx, rctx)))
		})
	}
}

// ResolveCapabilities attaches the caller's capability set to the context.
// A resolver failure is logged and leaves the set empty, so every
// RequireCapability check downstream fails closed.
func ResolveCapabilities(resolver model.CapabilityResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if resolver == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rctx := model.RequestContextFrom(r.Context())
			if rctx == nil {
				next.ServeHTTP(w, r)
				return
			}
			caps, err := resolver.Resolve(rctx)
			if err != nil {
				observability.RequestLogger(r.Context(), logger).Warn("resolve capabilities", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCapabilities(r.Context(), caps)))
		})
	}
}

// RequireCapability admits callers holding at least one of caps.
func RequireCapability(caps ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !CapabilitiesFrom(r.Context()).HasAny(caps...) {
				WriteForbidden(w, "insufficient capabilities")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HandlerTimeout bounds the request context by d. Engine and AI calls that
// overrun surface as BACKEND_TIMEOUT.
func HandlerTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LimitBody caps request bodies at n bytes.
func LimitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if n <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogging installs the request logger in the context and writes one
// access line per request: error for 5xx, warn for 4xx, info otherwise.
func RequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r = r.WithContext(observability.WithLogger(r.Context(), logger))
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", routePattern(r)),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			}
			l := observability.RequestLogger(r.Context(), logger)
			switch {
			case status >= http.StatusInternalServerError:
				l.Error("request", fields...)
			case status >= http.StatusBadRequest:
				l.Warn("request", fields...)
			default:
				l.Info("request", fields...)
			}
		})
	}
}

// ValidateRequests checks JSON bodies of POST, PUT and PATCH requests against
// the matched operation's schema. It must be mounted after routing so the
// route pattern is known. Multipart uploads are left to their handlers.
func ValidateRequests(idx *openapi.Index) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if idx == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasBody(r.Method) || isMultipart(r) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := readBody(r)
			if err != nil {
				WriteError(w, err)
				return
			}
			if err := idx.ValidateRequest(r.Method, routePattern(r), body); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func isMultipart(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return strings.HasPrefix(mediaType, "multipart/")
}

// readBody drains r.Body and replaces it with a rewindable copy.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if _, ok := errors.AsType[*http.MaxBytesError](err); ok {
			return nil, model.NewBadRequestError("request body too large")
		}
		return nil, model.NewBadRequestError("unable to read request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/fieldops/internal/observability"
	"github.com/pitabwire/fieldops/model"
)

// HeaderKey is the request header carrying the caller's idempotency key.
const HeaderKey = "X-Idempotency-Key"

// HeaderReplayed marks a response served from the store.
const HeaderReplayed = "Idempotent-Replayed"

const maxKeyLength = 128

// ErrorWriter renders an error in the API's envelope format.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware replays stored responses for POST requests carrying
// X-Idempotency-Key. Only 2xx responses are stored. The request context must
// already hold the authenticated RequestContext.
func Middleware(store Store, ttl time.Duration, writeError ErrorWriter, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderKey))
			if r.Method != http.MethodPost || key == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				writeError(w, r, model.NewBadRequestError(HeaderKey+" is too long"))
				return
			}

			var body []byte
			if r.Body != nil && !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
				var err error
				body, err = io.ReadAll(r.Body)
				if err != nil {
					writeError(w, r, model.NewBadRequestError("unable to read request body"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			rctx := model.RequestContextFrom(r.Context())
			tenant, subject := "", ""
			if rctx != nil {
				tenant, subject = rctx.TenantID, rctx.SubjectID
			}
			storeKey := FormatKey(tenant, subject, r.URL.Path, key)
			hash := requestHash(r.Method, r.URL.Path, body)
			log := observability.RequestLogger(r.Context(), logger)

			cached, found, err := store.Check(r.Context(), storeKey, hash)
			if err != nil {
				if model.ErrorCode(err) == model.ErrConflict {
					writeError(w, r, err)
					return
				}
				log.Warn("idempotency lookup failed, executing request", zap.Error(err))
			}
			if found && cached != nil {
				if cached.ContentType != "" {
					w.Header().Set("Content-Type", cached.ContentType)
				}
				w.Header().Set(HeaderReplayed, "true")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				return
			}

			rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status >= 300 {
				return
			}
			resp := Response{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.buf.Bytes(),
			}
			if err := store.Save(r.Context(), storeKey, hash, resp, ttl); err != nil {
				log.Warn("idempotency save failed", zap.Error(err))
			}
		})
	}
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// captureWriter forwards the response while keeping a copy of it.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if !c.wroteHeader {
		c.status = code
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.wroteHeader = true
	}
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}

// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the field-service API.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/fieldops/internal/idempotency"
	"github.com/pitabwire/fieldops/model"
)

var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrForbidden:          http.StatusForbidden,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrInvalidTransition:  http.StatusUnprocessableEntity,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
	model.ErrNoProcedure:        http.StatusUnprocessableEntity,
	model.ErrAmbiguousProcedure: http.StatusUnprocessableEntity,
	model.ErrApprovalNotPending: http.StatusConflict,
	model.ErrWorkOrderClosed:    http.StatusConflict,
}

// WriteJSON encodes body with the given status. A nil body sends headers only.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func envelopeFor(err error) *model.ErrorEnvelope {
	if ee, ok := errors.AsType[*model.ErrorEnvelope](err); ok {
		return ee
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewBackendTimeoutError()
	}
	return model.NewInternalError()
}

// WriteError sends err as {"error": envelope}. Errors that carry no envelope
// surface as INTERNAL_ERROR, except context deadlines which are
// BACKEND_TIMEOUT.
func WriteError(w http.ResponseWriter, err error) {
	ee := envelopeFor(err)
	status, known := statusForCode[ee.Code]
	if !known {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, struct {
		Error *model.ErrorEnvelope `json:"error"`
	}{ee})
}

// WriteForbidden writes a 403.
func WriteForbidden(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewForbiddenError(msg))
}

func writeIdempotencyError(w http.ResponseWriter, _ *http.Request, err error) {
	WriteError(w, err)
}

var _ idempotency.ErrorWriter = writeIdempotencyError

package model

import (
	"errors"
	"fmt"
)

// Error codes shared by every endpoint except the AI proxies.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInvalidTransition  = "INVALID_TRANSITION"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Work-order workflow codes.
const (
	ErrNoProcedure        = "NO_PROCEDURE"
	ErrAmbiguousProcedure = "AMBIGUOUS_PROCEDURE"
	ErrApprovalNotPending = "APPROVAL_NOT_PENDING"
	ErrWorkOrderClosed    = "WORK_ORDER_CLOSED"
)

// ErrorEnvelope is the body of every non-2xx workflow response. Messages are
// safe to show to the caller; internal causes are logged, never returned.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *ErrorEnvelope) Error() string {
	return e.Code + ": " + e.Message
}

// FieldError points a validation failure at one request field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode returns the code of the envelope wrapped by err, or "".
func ErrorCode(err error) string {
	if ee, ok := errors.AsType[*ErrorEnvelope](err); ok {
		return ee.Code
	}
	return ""
}

func envelope(code, format string, args ...any) *ErrorEnvelope {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &ErrorEnvelope{Code: code, Message: msg}
}

func NewBadRequestError(msg string) *ErrorEnvelope   { return envelope(ErrBadRequest, "%s", msg) }
func NewUnauthorizedError(msg string) *ErrorEnvelope { return envelope(ErrUnauthorized, "%s", msg) }
func NewForbiddenError(msg string) *ErrorEnvelope    { return envelope(ErrForbidden, "%s", msg) }
func NewNotFoundError(msg string) *ErrorEnvelope     { return envelope(ErrNotFound, "%s", msg) }
func NewConflictError(msg string) *ErrorEnvelope     { return envelope(ErrConflict, "%s", msg) }

// NewInvalidTransitionError reports a phase or status change with no edge in
// the transition table.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return envelope(ErrInvalidTransition, "%s", msg)
}

// NewValidationError groups field-level failures under one 422.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	e := envelope(ErrValidationError, "One or more fields are invalid")
	e.Details = details
	return e
}

// NewFieldError is a validation error on a single field.
func NewFieldError(field, code, msg string) *ErrorEnvelope {
	return NewValidationError([]FieldError{{Field: field, Code: code, Message: msg}})
}

func NewNoProcedureError(phase Phase) *ErrorEnvelope {
	return envelope(ErrNoProcedure, "no procedure available for phase %q", phase)
}

// NewAmbiguousProcedureError lists every matching template so the client can
// retry with procedure_template_id set.
func NewAmbiguousProcedureError(phase Phase, candidates []string) *ErrorEnvelope {
	e := envelope(ErrAmbiguousProcedure, "%d procedures available for phase %q, select one", len(candidates), phase)
	for _, id := range candidates {
		e.Details = append(e.Details, FieldError{Field: "procedure_template_id", Code: "CANDIDATE", Message: id})
	}
	return e
}

func NewApprovalNotPendingError(id string, status ApprovalStatus) *ErrorEnvelope {
	return envelope(ErrApprovalNotPending, "approval %q is %s, not pending", id, status)
}

// NewWorkOrderClosedError rejects mutations on cancelled, completed or
// invoiced work orders.
func NewWorkOrderClosedError(id string, status WorkOrderStatus) *ErrorEnvelope {
	return envelope(ErrWorkOrderClosed, "work order %q is %s", id, status)
}

func NewInternalError() *ErrorEnvelope {
	return envelope(ErrInternalError, "An unexpected error occurred")
}

// NewBackendUnavailableError is returned when the store or object store
// cannot be reached.
func NewBackendUnavailableError() *ErrorEnvelope {
	return envelope(ErrBackendUnavailable, "A storage backend is temporarily unavailable")
}

// NewBackendTimeoutError is returned when a request runs out of time waiting
// on a backend.
func NewBackendTimeoutError() *ErrorEnvelope {
	return envelope(ErrBackendTimeout, "A storage backend did not respond in time")
}

package model

import (
	"context"
	"errors"
	"slices"
)

// Roles issued by the identity provider.
const (
	RoleTechnician = "technician"
	RoleManager    = "manager"
	RoleAdmin      = "admin"
)

var (
	errMissingSubject = errors.New("subject claim is required")
	errMissingTenant  = errors.New("tenant claim is required")
)

// RequestContext is the authenticated caller of one request. Every store
// lookup is scoped by TenantID and every audit field records SubjectID.
// It is not modified after the request context middleware builds it.
type RequestContext struct {
	SubjectID     string
	Email         string
	TenantID      string
	Roles         []string
	Claims        map[string]any
	Token         string
	CorrelationID string
	TraceID       string
}

// Validate reports every missing identity claim.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.SubjectID == "" {
		errs = append(errs, errMissingSubject)
	}
	if rc.TenantID == "" {
		errs = append(errs, errMissingTenant)
	}
	return errors.Join(errs...)
}

// HasRole reports whether the caller holds role.
func (rc *RequestContext) HasRole(role string) bool {
	return slices.Contains(rc.Roles, role)
}

// Is reports whether the caller is subjectID. Used for ownership checks on
// assignments, approval requests and AI interactions.
func (rc *RequestContext) Is(subjectID string) bool {
	return subjectID != "" && rc.SubjectID == subjectID
}

type contextKey struct{}

// WithRequestContext attaches rctx to ctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom returns the caller stored in ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

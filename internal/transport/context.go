package transport

import (
	"context"

	"github.com/pitabwire/fieldops/model"
)

type ctxKey int

const (
	ctxCorrelationID ctxKey = iota
	ctxClaims
	ctxCapabilities
	ctxBearerToken
)

// CorrelationIDFrom returns the request's correlation ID, or "".
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxCorrelationID).(string)
	return id
}

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxCorrelationID, id)
}

// WithClaims attaches verified token claims to ctx.
func WithClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, ctxClaims, claims)
}

// ClaimsFrom returns the verified token claims, or nil before authentication.
func ClaimsFrom(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(ctxClaims).(map[string]any)
	return claims
}

// WithCapabilities attaches a resolved capability set to ctx.
func WithCapabilities(ctx context.Context, caps model.CapabilitySet) context.Context {
	return context.WithValue(ctx, ctxCapabilities, caps)
}

// CapabilitiesFrom returns the caller's resolved capabilities. A nil set
// grants nothing.
func CapabilitiesFrom(ctx context.Context) model.CapabilitySet {
	caps, _ := ctx.Value(ctxCapabilities).(model.CapabilitySet)
	return caps
}

func withBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxBearerToken, token)
}

func bearerTokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(ctxBearerToken).(string)
	return tok
}

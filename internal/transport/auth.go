package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/fieldops/internal/config"
	"github.com/pitabwire/fieldops/model"
)

const clockSkew = 30 * time.Second

var errAlgNotConfigured = errors.New("signing method not configured")

// JWTAuthenticator returns middleware that verifies the bearer token and
// stores its claims and raw value in the request context. HS256 tokens are
// checked against hmacSecret and asymmetric tokens against jwks; either may
// be absent. Rejections carry a WWW-Authenticate challenge.
func JWTAuthenticator(cfg config.IdentityConfig, jwks *JWKSClient, hmacSecret []byte) func(http.Handler) http.Handler {
	algorithms := cfg.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{"RS256", "ES256"}
		if len(hmacSecret) > 0 {
			algorithms = append(algorithms, "HS256")
		}
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(algorithms),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				reject(w, "Missing or malformed bearer token")
				return
			}

			claims := jwt.MapClaims{}
			_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
				if _, hmac := token.Method.(*jwt.SigningMethodHMAC); hmac {
					if len(hmacSecret) == 0 {
						return nil, errAlgNotConfigured
					}
					return hmacSecret, nil
				}
				if jwks == nil {
					return nil, errAlgNotConfigured
				}
				kid, _ := token.Header["kid"].(string)
				if kid == "" {
					return nil, fmt.Errorf("%w: token has no kid", errUnknownKey)
				}
				return jwks.GetKey(r.Context(), kid)
			})
			if err != nil {
				reject(w, rejectionReason(err))
				return
			}

			ctx := WithClaims(r.Context(), map[string]any(claims))
			next.ServeHTTP(w, r.WithContext(withBearerToken(ctx, raw)))
		})
	}
}

func reject(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	WriteError(w, model.NewUnauthorizedError(msg))
}

// rejectionReason maps a verification failure to a client-safe message.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "Token not yet valid"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "Token is missing a required claim"
	case errors.Is(err, errAlgNotConfigured):
		return "Disallowed signing algorithm"
	case errors.Is(err, errUnknownKey):
		return "Unknown signing key"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if strings.Contains(err.Error(), "signing method") {
			return "Disallowed signing algorithm"
		}
		return "Invalid token signature"
	default:
		return "Invalid token"
	}
}

// extractClaim walks a dot-separated path through nested claim maps.
func extractClaim(claims map[string]any, path string) any {
	if claims == nil || path == "" {
		return nil
	}
	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func extractClaimString(claims map[string]any, path string) string {
	v, _ := extractClaim(claims, path).(string)
	return v
}

func extractClaimStringSlice(claims map[string]any, path string) []string {
	switch v := extractClaim(claims, path).(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return strings.Fields(v)
	default:
		return nil
	}
}

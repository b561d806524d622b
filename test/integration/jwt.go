package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"maps"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	idpKeyID    = "fieldops-idp-1"
	idpIssuer   = "https://auth.fieldops.test"
	idpAudience = "fieldops-api-test"
	tokenTTL    = time.Hour
)

// TestClaims are the identity claims minted into test tokens. Extra entries
// override the standard claims.
type TestClaims struct {
	SubjectID string
	TenantID  string
	Email     string
	Roles     []string
	Extra     map[string]any
}

// fakeIdP signs RS256 tokens and publishes its public key as a JWKS.
type fakeIdP struct {
	key  *rsa.PrivateKey
	jwks *httptest.Server
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key := newRSAKey()
	body, err := json.Marshal(map[string]any{"keys": []map[string]string{{
		"kid": idpKeyID,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}})
	if err != nil {
		t.Fatalf("marshal JWKS: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return &fakeIdP{key: key, jwks: srv}
}

func newRSAKey() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("generate RSA key: " + err.Error())
	}
	return key
}

// mint signs claims with key, issued at issuedAt and valid for tokenTTL.
func mint(key *rsa.PrivateKey, claims TestClaims, issuedAt time.Time) string {
	mc := jwt.MapClaims{
		"iss":       idpIssuer,
		"aud":       idpAudience,
		"iat":       jwt.NewNumericDate(issuedAt),
		"exp":       jwt.NewNumericDate(issuedAt.Add(tokenTTL)),
		"sub":       claims.SubjectID,
		"tenant_id": claims.TenantID,
	}
	if claims.Email != "" {
		mc["email"] = claims.Email
	}
	if len(claims.Roles) > 0 {
		roles := make([]any, 0, len(claims.Roles))
		for _, r := range claims.Roles {
			roles = append(roles, r)
		}
		mc["roles"] = roles
	}
	maps.Copy(mc, claims.Extra)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, mc)
	token.Header["kid"] = idpKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// GenerateToken returns a valid token for claims.
func (p *fakeIdP) GenerateToken(claims TestClaims) string {
	return mint(p.key, claims, time.Now())
}

// GenerateExpiredToken returns a token that expired an hour ago.
func (p *fakeIdP) GenerateExpiredToken(claims TestClaims) string {
	return mint(p.key, claims, time.Now().Add(-2*tokenTTL))
}

// GenerateForeignToken returns a token under the published key ID but signed
// by a key the JWKS does not contain.
func (p *fakeIdP) GenerateForeignToken(claims TestClaims) string {
	return mint(newRSAKey(), claims, time.Now())
}

func (p *fakeIdP) JWKSURL() string  { return p.jwks.URL }
func (p *fakeIdP) Issuer() string   { return idpIssuer }
func (p *fakeIdP) Audience() string { return idpAudience }

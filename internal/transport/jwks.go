package transport

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultJWKSTTL     = time.Hour
	jwksMinRefresh     = 5 * time.Minute
	jwksFetchTimeout   = 10 * time.Second
	maxJWKSBodyBytes   = 1 << 20
	jwksRefreshFlightK = "jwks"
)

var errUnknownKey = errors.New("jwks: unknown signing key")

// JWKSClient caches the identity provider's signing keys. A cache miss
// triggers one refresh shared by all concurrent callers; refreshes are
// throttled so a stream of tokens with a bogus kid cannot hammer the IdP.
type JWKSClient struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	flight     singleflight.Group

	mu        sync.RWMutex
	keys      map[string]crypto.PublicKey
	lastFetch time.Time
}

// NewJWKSClient returns a client for the key set at url. A non-positive ttl
// means one hour.
func NewJWKSClient(url string, ttl time.Duration, logger *zap.Logger) *JWKSClient {
	if ttl <= 0 {
		ttl = defaultJWKSTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWKSClient{
		url:        url,
		ttl:        ttl,
		minRefresh: jwksMinRefresh,
		httpClient: &http.Client{Timeout: jwksFetchTimeout},
		logger:     logger,
		keys:       map[string]crypto.PublicKey{},
	}
}

// GetKey returns the public key for kid, refreshing the set when the key is
// missing or the cache has expired. If the refresh fails a previously cached
// key is still served.
func (c *JWKSClient) GetKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	key, fresh := c.cached(kid)
	if key != nil && fresh {
		return key, nil
	}

	_, err, _ := c.flight.Do(jwksRefreshFlightK, func() (any, error) {
		return nil, c.refresh(ctx)
	})
	if err != nil {
		if key != nil {
			c.logger.Warn("jwks refresh failed, serving cached key", zap.String("kid", kid), zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("jwks: fetch: %w", err)
	}

	if key, _ = c.cached(kid); key == nil {
		return nil, fmt.Errorf("%w %q", errUnknownKey, kid)
	}
	return key, nil
}

func (c *JWKSClient) cached(kid string) (crypto.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys[kid], time.Since(c.lastFetch) <= c.ttl
}

func (c *JWKSClient) refresh(ctx context.Context) error {
	c.mu.RLock()
	throttled := len(c.keys) > 0 && time.Since(c.lastFetch) < c.minRefresh
	c.mu.RUnlock()
	if throttled {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBodyBytes)).Decode(&set); err != nil {
		return fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kid == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			c.logger.Warn("jwks: skipping key", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		if pub != nil {
			keys[k.Kid] = pub
		}
	}

	c.mu.Lock()
	c.keys = keys
	c.lastFetch = time.Now()
	c.mu.Unlock()
	c.logger.Debug("jwks refreshed", zap.Int("keys", len(keys)))
	return nil
}

// jsonWebKey holds the RFC 7517 members needed for RSA and EC signing keys.
type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// publicKey returns nil, nil for key types it does not handle.
func (k jsonWebKey) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		n, err := decodeBigInt("n", k.N)
		if err != nil {
			return nil, err
		}
		e, err := decodeBigInt("e", k.E)
		if err != nil {
			return nil, err
		}
		if !e.IsInt64() || e.Int64() < 3 {
			return nil, errors.New("invalid RSA exponent")
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "EC":
		curve, err := namedCurve(k.Crv)
		if err != nil {
			return nil, err
		}
		x, err := decodeBigInt("x", k.X)
		if err != nil {
			return nil, err
		}
		y, err := decodeBigInt("y", k.Y)
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	default:
		return nil, nil
	}
}

func decodeBigInt(member, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %q", member)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", member, err)
	}
	return new(big.Int).SetBytes(b), nil
}

func namedCurve(crv string) (elliptic.Curve, error) {
	switch crv {
	case "P-256":
		return elliptic.P256(), nil
	case "P-384":
		return elliptic.P384(), nil
	case "P-521":
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("unsupported curve %q", crv)
	}
}

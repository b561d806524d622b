// Package capability resolves and caches user capabilities from a static
// role policy.
package capability

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/fieldops/model"
)

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver with an in-memory cache.
type Resolver struct {
	evaluator model.PolicyEvaluator
	ttl       time.Duration
	now       func() time.Time
	mu        sync.RWMutex
	cache     map[string]cacheEntry
	metrics   CacheRecorder
}

// CacheRecorder receives cache hit and miss counts.
type CacheRecorder interface {
	RecordCapabilityCacheHit()
	RecordCapabilityCacheMiss()
}

type nopCacheRecorder struct{}

func (nopCacheRecorder) RecordCapabilityCacheHit()  {}
func (nopCacheRecorder) RecordCapabilityCacheMiss() {}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCacheMetrics sets the cache metrics recorder.
func WithCacheMetrics(m CacheRecorder) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a new Resolver with the given evaluator and cache TTL.
// A zero TTL disables caching.
func NewResolver(evaluator model.PolicyEvaluator, ttl time.Duration, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		evaluator: evaluator,
		ttl:       ttl,
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
		metrics:   nopCacheRecorder{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// cacheKey includes the roles so a token carrying new roles is never served
// a stale set.
func cacheKey(rctx *model.RequestContext) string {
	roles := append([]string(nil), rctx.Roles...)
	sort.Strings(roles)
	return rctx.SubjectID + ":" + rctx.TenantID + ":" + strings.Join(roles, ",")
}

// Resolve returns the full capability set for the given context. Results are
// cached for the configured TTL.
func (r *Resolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	if r.ttl <= 0 {
		return r.evaluator.ResolveCapabilities(rctx)
	}
	key := cacheKey(rctx)

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && r.now().Before(entry.expires) {
		r.mu.RUnlock()
		r.metrics.RecordCapabilityCacheHit()
		return entry.caps, nil
	}
	r.mu.RUnlock()
	r.metrics.RecordCapabilityCacheMiss()

	caps, err := r.evaluator.ResolveCapabilities(rctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{caps: caps, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()

	return caps, nil
}

// Reload reloads the evaluator's policy, when it supports reloading, and
// drops every cached set so the new grants apply to the next request.
func (r *Resolver) Reload() ([]string, error) {
	var roles []string
	if rl, ok := r.evaluator.(interface{ Reload() ([]string, error) }); ok {
		var err error
		if roles, err = rl.Reload(); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	clear(r.cache)
	r.mu.Unlock()
	return roles, nil
}

// Package idempotency replays the stored response of a POST that is retried
// with the same X-Idempotency-Key.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/fieldops/model"
)

// Response is a captured HTTP response.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// Store provides deduplication of mutating requests.
type Store interface {
	// Check looks up a previous response by key. A key reused with a
	// different request hash yields a CONFLICT error.
	Check(ctx context.Context, key, requestHash string) (resp *Response, found bool, err error)

	// Save stores a response under key for ttl.
	Save(ctx context.Context, key, requestHash string, resp Response, ttl time.Duration) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

type entry struct {
	RequestHash string   `json:"request_hash"`
	Response    Response `json:"response"`
}

func conflict(key string) error {
	return model.NewConflictError(fmt.Sprintf("idempotency key %q already used with a different request", key))
}

// --- MemoryStore ---

// MemoryStore is an in-memory Store with TTL support, for tests and
// single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	data      entry
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry), now: time.Now}
}

// Check looks up a cached response.
func (s *MemoryStore) Check(_ context.Context, key, requestHash string) (*Response, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}

	if e.data.RequestHash != requestHash {
		return nil, true, conflict(key)
	}
	resp := e.data.Response
	return &resp, true, nil
}

// Save stores a response with TTL.
func (s *MemoryStore) Save(_ context.Context, key, requestHash string, resp Response, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{
		data:      entry{RequestHash: requestHash, Response: resp},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisStore ---

// RedisStore is a Redis-backed Store.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Check looks up a cached response in Redis.
func (s *RedisStore) Check(ctx context.Context, key, requestHash string) (*Response, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}
	if e.RequestHash != requestHash {
		return nil, true, conflict(key)
	}
	return &e.Response, true, nil
}

// Save stores a response in Redis with TTL.
func (s *RedisStore) Save(ctx context.Context, key, requestHash string, resp Response, ttl time.Duration) error {
	data, err := json.Marshal(entry{RequestHash: requestHash, Response: resp})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// FormatKey builds the storage key for a caller's idempotency key. Keys are
// scoped to the tenant and subject so callers never see each other's
// responses.
func FormatKey(tenantID, subjectID, route, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s:%s", tenantID, subjectID, route, key)
}

// Package storage holds photo and report binaries in S3-compatible object
// storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config configures a MinioStore.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// MinioStore stores objects in a single bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the object store and creates the bucket if it
// does not exist yet.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("storage: endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("storage: bucket is required")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: creating client for %s: %w", endpoint, err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: checking bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("storage: creating bucket %s: %w", bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Put uploads size bytes from r under key. A negative size streams the body
// in multipart chunks.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

// Ping reports whether the bucket is reachable.
func (s *MinioStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if !exists {
		return fmt.Errorf("storage: bucket %s does not exist", s.bucket)
	}
	return nil
}

// MemoryStore keeps objects in memory for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// Object is a stored blob.
type Object struct {
	Data        []byte
	ContentType string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

// Put stores the body of r under key.
func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("storage: put %s: read %d bytes, want %d", key, n, size)
	}
	s.mu.Lock()
	s.objects[key] = Object{Data: buf.Bytes(), ContentType: contentType}
	s.mu.Unlock()
	return nil
}

// Get returns the object stored under key.
func (s *MemoryStore) Get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key]
	return o, ok
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

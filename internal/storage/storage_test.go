package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// --- MemoryStore ---

func TestMemoryStore_Put(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Put(context.Background(), "a/b.jpg", strings.NewReader("abc"), 3, "image/jpeg"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	o, ok := s.Get("a/b.jpg")
	if !ok {
		t.Fatal("object not stored")
	}
	if string(o.Data) != "abc" || o.ContentType != "image/jpeg" {
		t.Errorf("object = %q %q", o.Data, o.ContentType)
	}
}

func TestMemoryStore_Put_sizeMismatch(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Put(context.Background(), "k", strings.NewReader("abc"), 10, ""); err == nil {
		t.Fatal("expected error for short body")
	}
	if _, ok := s.Get("k"); ok {
		t.Error("short body should not be stored")
	}
}

// --- MinioStore ---

func TestNewMinioStore_config(t *testing.T) {
	if _, err := NewMinioStore(context.Background(), Config{Bucket: "b"}); err == nil {
		t.Error("expected error without endpoint")
	}
	if _, err := NewMinioStore(context.Background(), Config{Endpoint: "localhost:9000"}); err == nil {
		t.Error("expected error without bucket")
	}
}

// fakeS3 answers the handful of S3 calls the store makes.
type fakeS3 struct {
	mu       sync.Mutex
	bucket   bool
	puts     []string
	made     bool
	failHead bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodHead:
		if f.failHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if !f.bucket {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && strings.Count(strings.Trim(r.URL.Path, "/"), "/") == 0:
		f.bucket = true
		f.made = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		_, _ = io.Copy(io.Discard, r.Body)
		f.puts = append(f.puts, r.URL.Path)
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newFakeStore(t *testing.T, s3 *fakeS3) *MinioStore {
	t.Helper()
	srv := httptest.NewServer(s3)
	t.Cleanup(srv.Close)
	store, err := NewMinioStore(context.Background(), Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		Bucket:    "fieldops",
		AccessKey: "key",
		SecretKey: "secret",
		Region:    "us-east-1",
	})
	if err != nil {
		t.Fatalf("NewMinioStore() error = %v", err)
	}
	return store
}

func TestMinioStore_createsBucket(t *testing.T) {
	s3 := &fakeS3{}
	store := newFakeStore(t, s3)
	if !s3.made {
		t.Error("missing bucket should be created")
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestMinioStore_Put(t *testing.T) {
	s3 := &fakeS3{bucket: true}
	store := newFakeStore(t, s3)

	err := store.Put(context.Background(), "work-orders/wo-1/sessions/s-1/p.jpg", strings.NewReader("img"), 3, "image/jpeg")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if len(s3.puts) != 1 || s3.puts[0] != "/fieldops/work-orders/wo-1/sessions/s-1/p.jpg" {
		t.Errorf("puts = %v", s3.puts)
	}
}

func TestMinioStore_Ping_failure(t *testing.T) {
	s3 := &fakeS3{bucket: true}
	store := newFakeStore(t, s3)
	s3.mu.Lock()
	s3.failHead = true
	s3.mu.Unlock()
	if err := store.Ping(context.Background()); err == nil {
		t.Error("expected Ping error when the bucket check fails")
	}
}

package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeBucket serves the path-style S3 calls S3Storage makes, keyed by
// "/<bucket>/<key>".
type fakeBucket struct {
	mu           sync.Mutex
	objects      map[string]string
	contentTypes map[string]string
	deleted      []string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{
		objects:      make(map[string]string),
		contentTypes: make(map[string]string),
	}
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := r.URL.Path

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		b.objects[path] = string(body)
		b.contentTypes[path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := b.objects[path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", b.contentTypes[path])
		_, _ = io.WriteString(w, body)
	case http.MethodDelete:
		delete(b.objects, path)
		b.deleted = append(b.deleted, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Storage(t *testing.T) (*S3Storage, *fakeBucket) {
	t.Helper()

	bucket := newFakeBucket()
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	return NewS3Storage(srv.URL, "capsule", "us-east-1", "test-access", "test-secret"), bucket
}

func TestS3Storage_SaveOpenDelete(t *testing.T) {
	store, bucket := newTestS3Storage(t)
	ctx := context.Background()

	key, err := store.Save(ctx, "report.pdf", strings.NewReader("%PDF-1.7"), int64(len("%PDF-1.7")))
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if !strings.HasPrefix(key, "attachments/") || !strings.HasSuffix(key, "_report.pdf") {
		t.Fatalf("unexpected object key %q", key)
	}
	if DisplayName(key) != "report.pdf" {
		t.Errorf("expected display name report.pdf, got %q", DisplayName(key))
	}

	objectPath := "/capsule/" + key
	if !strings.Contains(bucket.objects[objectPath], "%PDF-1.7") {
		t.Fatalf("expected object body at %s, got %v", objectPath, bucket.objects)
	}
	if ct := bucket.contentTypes[objectPath]; ct != "application/pdf" {
		t.Errorf("expected content type application/pdf, got %q", ct)
	}

	rc, err := store.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !strings.Contains(string(data), "%PDF-1.7") {
		t.Errorf("unexpected object content %q", data)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if len(bucket.deleted) != 1 || bucket.deleted[0] != objectPath {
		t.Errorf("expected %s to be deleted, got %v", objectPath, bucket.deleted)
	}
}

func TestS3Storage_OpenMissingIsErrNotFound(t *testing.T) {
	store, _ := newTestS3Storage(t)

	_, err := store.Open(context.Background(), "attachments/missing.pdf")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a missing key, got %v", err)
	}
}

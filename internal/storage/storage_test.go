package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"montage/internal/retry"
	"montage/internal/services"
)

func newTestFS(t *testing.T, opts ...Option) *FS {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(retry.Policy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		Sleeper:      func(time.Duration) {},
	})}, opts...)
	store, err := NewFS(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	return store
}

func TestPutGetExists(t *testing.T) {
	store := newTestFS(t)
	ctx := context.Background()

	path, err := store.Put(ctx, "sb-1/scene-00/image.png", []byte("payload"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(store.Root(), "sb-1", "scene-00") {
		t.Fatalf("unexpected artifact path %q", path)
	}

	data, err := store.Get(ctx, "sb-1/scene-00/image.png")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected payload %q", data)
	}

	ok, err := store.Exists(ctx, "sb-1/scene-00/image.png")
	if err != nil || !ok {
		t.Fatalf("expected artifact to exist, got ok=%v err=%v", ok, err)
	}
	ok, err = store.Exists(ctx, "sb-1/scene-01/image.png")
	if err != nil || ok {
		t.Fatalf("expected artifact to be absent, got ok=%v err=%v", ok, err)
	}
}

func TestPutOverwritesAtomically(t *testing.T) {
	store := newTestFS(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "k/value", []byte("old")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := store.Put(ctx, "k/value", []byte("new")); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	data, err := store.Get(ctx, "k/value")
	if err != nil || string(data) != "new" {
		t.Fatalf("expected overwrite, got %q err=%v", data, err)
	}

	entries, err := os.ReadDir(filepath.Join(store.Root(), "k"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	store := newTestFS(t)
	_, err := store.Get(context.Background(), "absent")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestResolveRejectsEscapingKeys(t *testing.T) {
	store := newTestFS(t)
	for _, key := range []string{"", "   ", "..", "../evil", "a/../../b"} {
		if _, err := store.Put(context.Background(), key, []byte("x")); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("key %q: expected validation error, got %v", key, err)
		}
	}
}

func TestResolveSanitizesSegments(t *testing.T) {
	store := newTestFS(t)
	path, err := store.Put(context.Background(), `board/what?*.png`, []byte("x"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if filepath.Base(path) != "what-.png" {
		t.Fatalf("expected sanitized segment, got %q", filepath.Base(path))
	}
}

func TestFetchDownloadsArtifact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video-bytes"))
	}))
	defer server.Close()

	store := newTestFS(t)
	path, err := store.Fetch(context.Background(), server.URL+"/clip.mp4", "sb-1/scene-00/video.mp4")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "video-bytes" {
		t.Fatalf("expected downloaded bytes, got %q err=%v", data, err)
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			http.Error(w, "backend unavailable", http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	store := newTestFS(t)
	if _, err := store.Fetch(context.Background(), server.URL, "artifact"); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestFetchStopsOnAuthFailure(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	store := newTestFS(t)
	_, err := store.Fetch(context.Background(), server.URL, "artifact")
	if !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("auth failures must not be retried, got %d attempts", got)
	}
}

func TestFetchMissingArtifactIsNotFound(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	store := newTestFS(t)
	_, err := store.Fetch(context.Background(), server.URL, "artifact")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("missing artifacts must not be retried, got %d attempts", got)
	}
}

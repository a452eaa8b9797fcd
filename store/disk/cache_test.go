package disk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/precache/store"
)

func newTestStorage(t *testing.T, opts ...Option) (*Storage, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "storage")
	s, err := New(dir, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func testResponse(uri, body string) *store.Response {
	return &store.Response{
		Method:     http.MethodGet,
		URL:        uri,
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte(body),
	}
}

func get(uri string) *http.Request {
	return httptest.NewRequest(http.MethodGet, uri, nil)
}

func mustOpen(t *testing.T, s *Storage, name string) store.Cache {
	t.Helper()
	c, err := s.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("Open(%q) error = %v", name, err)
	}
	return c
}

func TestStorageOpenCreates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStorage(t)

	ok, err := s.Has(ctx, "v1")
	if err != nil {
		t.Fatalf("Has() error = %v", err)
	}
	if ok {
		t.Fatal("Has() = true before Open")
	}

	c := mustOpen(t, s, "v1")
	if c.Name() != "v1" {
		t.Fatalf("Name() = %q, want %q", c.Name(), "v1")
	}
	if again := mustOpen(t, s, "v1"); again != c {
		t.Fatal("Open() returned a different handle for the same name")
	}

	ok, err = s.Has(ctx, "v1")
	if err != nil {
		t.Fatalf("Has() error = %v", err)
	}
	if !ok {
		t.Fatal("Has() = false after Open")
	}

	if _, err := s.Open(ctx, ""); !errors.Is(err, store.ErrInvalidName) {
		t.Fatalf("Open(\"\") error = %v, want ErrInvalidName", err)
	}
}

func TestCachePutAllMatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, dir := newTestStorage(t)
	c := mustOpen(t, s, "v1")

	err := c.PutAll(ctx, []*store.Response{
		testResponse("/", "index"),
		testResponse("/styles.css", "body{}"),
	})
	if err != nil {
		t.Fatalf("PutAll() error = %v", err)
	}

	resp, ok, err := c.Match(ctx, get("/styles.css"))
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if !ok {
		t.Fatal("Match() ok = false, want true")
	}
	if string(resp.Body) != "body{}" {
		t.Fatalf("Match() body = %q, want %q", resp.Body, "body{}")
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Match() status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/plain" {
		t.Fatalf("Match() Content-Type = %q, want %q", got, "text/plain")
	}
	if resp.StoredAt.IsZero() {
		t.Fatal("Match() StoredAt is zero")
	}

	keys, err := c.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "GET /" || keys[1] != "GET /styles.css" {
		t.Fatalf("Keys() = %v", keys)
	}

	// Verify compressed blob layout
	d := digest.FromBytes([]byte("body{}"))
	blob := filepath.Join(dir, cacheDir("v1"), blobsDir, "sha256", d.Encoded()+".zst")
	if _, err := os.Stat(blob); err != nil {
		t.Fatalf("expected blob at %s: %v", blob, err)
	}
}

func TestCacheMatchMiss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStorage(t)
	c := mustOpen(t, s, "v1")
	if err := c.Put(ctx, testResponse("/a", "a")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, ok, err := c.Match(ctx, get("/b")); err != nil || ok {
		t.Fatalf("Match(/b) = ok %v, err %v; want miss", ok, err)
	}
	post := httptest.NewRequest(http.MethodPost, "/a", nil)
	if _, ok, err := c.Match(ctx, post); err != nil || ok {
		t.Fatalf("Match(POST /a) = ok %v, err %v; want miss", ok, err)
	}
	if _, ok, err := c.Match(ctx, get("/a?x=1")); err != nil || ok {
		t.Fatalf("Match(/a?x=1) = ok %v, err %v; want miss", ok, err)
	}
}

func TestCachePutAllInvalidBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStorage(t)
	c := mustOpen(t, s, "v1")

	bad := testResponse("/post", "x")
	bad.Method = http.MethodPost
	err := c.PutAll(ctx, []*store.Response{testResponse("/ok", "ok"), bad})
	if !errors.Is(err, store.ErrInvalidResponse) {
		t.Fatalf("PutAll() error = %v, want ErrInvalidResponse", err)
	}
	if _, ok, _ := c.Match(ctx, get("/ok")); ok {
		t.Fatal("partial batch is visible after failed PutAll")
	}
}

func TestCachePutAllCancelled(t *testing.T) {
	t.Parallel()

	s, _ := newTestStorage(t)
	c := mustOpen(t, s, "v1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.PutAll(ctx, []*store.Response{testResponse("/a", "a")}); !errors.Is(err, context.Canceled) {
		t.Fatalf("PutAll() error = %v, want context.Canceled", err)
	}
	if _, ok, _ := c.Match(context.Background(), get("/a")); ok {
		t.Fatal("entry visible after cancelled PutAll")
	}
}

func TestStoragePersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "storage")
	s1, err := New(dir, WithCompression(false))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c := mustOpen(t, s1, "v1")
	if err := c.Put(ctx, testResponse("/index.html", "<html>")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	_ = s1.Close()

	s2, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s2.Close()

	resp, ok, err := s2.Match(ctx, get("/index.html"))
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if !ok {
		t.Fatal("Match() ok = false after reopening storage")
	}
	if string(resp.Body) != "<html>" {
		t.Fatalf("Match() body = %q, want %q", resp.Body, "<html>")
	}
}

func TestStorageNamesAndMatchOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStorage(t)

	older := mustOpen(t, s, "v2")
	time.Sleep(2 * time.Millisecond)
	newer := mustOpen(t, s, "v1")

	if err := older.Put(ctx, testResponse("/", "older")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := newer.Put(ctx, testResponse("/", "newer")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	names, err := s.Names(ctx)
	if err != nil {
		t.Fatalf("Names() error = %v", err)
	}
	if len(names) != 2 || names[0] != "v2" || names[1] != "v1" {
		t.Fatalf("Names() = %v, want [v2 v1]", names)
	}

	resp, ok, err := s.Match(ctx, get("/"))
	if err != nil || !ok {
		t.Fatalf("Match() = %v, %v", ok, err)
	}
	if string(resp.Body) != "older" {
		t.Fatalf("Match() body = %q, want first-created cache to win", resp.Body)
	}
}

func TestStorageDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, dir := newTestStorage(t)
	c := mustOpen(t, s, "v1")
	if err := c.Put(ctx, testResponse("/", "x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	removed, err := s.Delete(ctx, "v1")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !removed {
		t.Fatal("Delete() = false, want true")
	}
	if _, err := os.Stat(filepath.Join(dir, cacheDir("v1"))); !os.IsNotExist(err) {
		t.Fatalf("cache dir still present: %v", err)
	}

	if _, ok, _ := c.Match(ctx, get("/")); ok {
		t.Fatal("stale handle still matches after Delete")
	}
	if err := c.Put(ctx, testResponse("/", "x")); !errors.Is(err, store.ErrDeleted) {
		t.Fatalf("Put() on deleted cache error = %v, want ErrDeleted", err)
	}

	removed, err = s.Delete(ctx, "v1")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if removed {
		t.Fatal("second Delete() = true, want false")
	}
	names, err := s.Names(ctx)
	if err != nil {
		t.Fatalf("Names() error = %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("Names() = %v, want empty", names)
	}
}

func TestCacheDigestMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, dir := newTestStorage(t, WithCompression(false))
	c := mustOpen(t, s, "v1")
	if err := c.Put(ctx, testResponse("/a", "original")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	d := digest.FromBytes([]byte("original"))
	blob := filepath.Join(dir, cacheDir("v1"), blobsDir, "sha256", d.Encoded())
	if err := os.WriteFile(blob, []byte("tampered"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, _, err := c.Match(ctx, get("/a")); !errors.Is(err, store.ErrDigestMismatch) {
		t.Fatalf("Match() error = %v, want ErrDigestMismatch", err)
	}
}

func TestNewEmptyDir(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New() error = nil, want error")
	}
}

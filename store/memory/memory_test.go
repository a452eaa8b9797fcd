package memory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/precache/store"
)

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

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s := New(Config{})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCachePutAllMatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStorage(t)
	c, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	require.NoError(t, c.PutAll(ctx, []*store.Response{
		testResponse("/", "index"),
		testResponse("/empty", ""),
	}))

	resp, ok, err := c.Match(ctx, get("/"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("index"), resp.Body)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.False(t, resp.StoredAt.IsZero())

	resp, ok, err = c.Match(ctx, get("/empty"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, resp.Body)

	_, ok, err = c.Match(ctx, get("/missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /", "GET /empty"}, keys)
}

func TestCachePutAllInvalidBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStorage(t)
	c, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	bad := testResponse("/bad", "x")
	bad.StatusCode = 0
	err = c.PutAll(ctx, []*store.Response{testResponse("/ok", "ok"), bad})
	require.ErrorIs(t, err, store.ErrInvalidResponse)

	_, ok, err := c.Match(ctx, get("/ok"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachePutReplaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStorage(t)
	c, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, testResponse("/", "one")))
	require.NoError(t, c.Put(ctx, testResponse("/", "two")))

	resp, ok, err := c.Match(ctx, get("/"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("two"), resp.Body)
}

func TestStorageLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStorage(t)

	v1, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	v2, err := s.Open(ctx, "v2")
	require.NoError(t, err)
	again, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	assert.Same(t, v1, again)

	require.NoError(t, v1.Put(ctx, testResponse("/", "v1")))
	require.NoError(t, v2.Put(ctx, testResponse("/", "v2")))

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, names)

	resp, ok, err := s.Match(ctx, get("/"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), resp.Body, "first created cache wins")

	removed, err := s.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, removed)

	has, err := s.Has(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, has)

	resp, ok, err = s.Match(ctx, get("/"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), resp.Body)

	require.ErrorIs(t, v1.Put(ctx, testResponse("/", "x")), store.ErrDeleted)

	removed, err = s.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.Open(ctx, "")
	require.ErrorIs(t, err, store.ErrInvalidName)
}

func TestCacheConcurrentMatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStorage(t)
	c, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, testResponse("/styles.css", "body{}")))

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, ok, err := s.Match(ctx, get("/styles.css"))
			if err != nil {
				errs <- err
				return
			}
			if !ok || string(resp.Body) != "body{}" {
				errs <- assert.AnError
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Match() error = %v", err)
	}
}

package bundle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/precache/store"
	"github.com/meigma/precache/store/memory"
)

func testResponse(uri, body string) *store.Response {
	return &store.Response{
		Method:     http.MethodGet,
		URL:        uri,
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": {"text/css"}},
		Body:       []byte(body),
	}
}

func newStorage(t *testing.T) *memory.Storage {
	t.Helper()
	s := memory.New(memory.Config{})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s store.Storage, name string, resps ...*store.Response) {
	t.Helper()
	c, err := s.Open(context.Background(), name)
	require.NoError(t, err)
	require.NoError(t, c.PutAll(context.Background(), resps))
}

func readManifest(t *testing.T, dir string, desc ocispec.Descriptor) ocispec.Manifest {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "blobs", desc.Digest.Algorithm().String(), desc.Digest.Encoded()))
	require.NoError(t, err)
	var m ocispec.Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	src := newStorage(t)
	seed(t, src, "v1",
		testResponse("/", "<html>"),
		testResponse("/index.html", "<html>"),
		testResponse("/styles.css", "body{}"),
	)

	desc, err := Export(ctx, src, "v1", dir)
	require.NoError(t, err)
	assert.Equal(t, ocispec.MediaTypeImageManifest, desc.MediaType)

	m := readManifest(t, dir, desc)
	assert.Equal(t, ArtifactType, m.ArtifactType)
	assert.Equal(t, "v1", m.Annotations[AnnotationCacheName])
	require.Len(t, m.Layers, 3, "index plus two distinct bodies")
	assert.Equal(t, MediaTypeIndex, m.Layers[0].MediaType)

	dst := newStorage(t)
	name, err := Import(ctx, dst, dir, "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", name)

	for uri, want := range map[string]string{"/": "<html>", "/index.html": "<html>", "/styles.css": "body{}"} {
		resp, ok, err := dst.Match(ctx, httptest.NewRequest(http.MethodGet, uri, nil))
		require.NoError(t, err)
		require.True(t, ok, uri)
		assert.Equal(t, want, string(resp.Body), uri)
		assert.Equal(t, "text/css", resp.Header.Get("Content-Type"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestExportTagAndImportName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	src := newStorage(t)
	seed(t, src, "v1", testResponse("/styles.css", "body{}"))

	_, err := Export(ctx, src, "v1", dir, WithTag("latest"), WithAnnotations(map[string]string{"note": "x"}))
	require.NoError(t, err)

	// Exporting again into the same layout is fine.
	_, err = Export(ctx, src, "v1", dir, WithTag("latest"))
	require.NoError(t, err)

	dst := newStorage(t)
	name, err := Import(ctx, dst, dir, "latest", WithName("v2"))
	require.NoError(t, err)
	assert.Equal(t, "v2", name)

	names, err := dst.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, names)
}

func TestExportMissingCache(t *testing.T) {
	t.Parallel()

	_, err := Export(context.Background(), newStorage(t), "nope", t.TempDir())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestImportMissingTag(t *testing.T) {
	t.Parallel()

	_, err := Import(context.Background(), newStorage(t), t.TempDir(), "v1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestImportTamperedBody(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	src := newStorage(t)
	seed(t, src, "v1", testResponse("/styles.css", "body{}"))
	_, err := Export(ctx, src, "v1", dir)
	require.NoError(t, err)

	d := digest.FromString("body{}")
	path := filepath.Join(dir, "blobs", d.Algorithm().String(), d.Encoded())
	require.NoError(t, os.WriteFile(path, []byte("BODY{}"), 0o644))

	dst := newStorage(t)
	_, err = Import(ctx, dst, dir, "v1")
	require.Error(t, err)

	names, err := dst.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "nothing is stored from a bad bundle")
}

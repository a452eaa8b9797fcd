package record

import (
	"net/http"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/precache/store"
)

func testEntry(url string, body []byte) Entry {
	return Entry{
		Method:     http.MethodGet,
		URL:        url,
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header: http.Header{
			"Content-Type": {"text/css"},
			"Vary":         {"Accept-Encoding", "Origin"},
		},
		Digest:      digest.FromBytes(body),
		Size:        int64(len(body)),
		Compression: CompressionZstd,
		StoredAt:    time.Unix(1700000000, 42).UTC(),
	}
}

func TestEntryInlineBody(t *testing.T) {
	t.Parallel()

	e := testEntry("/styles.css", nil)
	e.Body = []byte("body { color: red; }")

	got, err := DecodeEntry(EncodeEntry(&e))
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEntryEmptyInlineBody(t *testing.T) {
	t.Parallel()

	e := testEntry("/empty", nil)
	e.Body = []byte{}

	got, err := DecodeEntry(EncodeEntry(&e))
	require.NoError(t, err)
	assert.NotNil(t, got.Body)
	assert.Empty(t, got.Body)
}

func TestIndexLookupAndMerge(t *testing.T) {
	t.Parallel()

	created := time.Unix(1700000000, 0).UTC()
	idx := (&Index{Name: "v1", Created: created}).Merge([]Entry{
		testEntry("/styles.css", []byte("a")),
		testEntry("/", []byte("b")),
		testEntry("/index.html", []byte("c")),
	})

	decoded, err := DecodeIndex(EncodeIndex(idx))
	require.NoError(t, err)
	assert.Equal(t, uint32(Version), decoded.Version)
	assert.Equal(t, "v1", decoded.Name)
	assert.Equal(t, created, decoded.Created)
	assert.Equal(t, []string{"GET /", "GET /index.html", "GET /styles.css"}, decoded.Keys())

	e, ok := decoded.Lookup(store.Key(http.MethodGet, "/index.html"))
	require.True(t, ok)
	assert.Equal(t, digest.FromBytes([]byte("c")), e.Digest)
	assert.Nil(t, e.Body)

	_, ok = decoded.Lookup(store.Key(http.MethodGet, "/missing"))
	assert.False(t, ok)

	replaced := decoded.Merge([]Entry{testEntry("/", []byte("new"))})
	require.Len(t, replaced.Entries, 3)
	e, ok = replaced.Lookup("GET /")
	require.True(t, ok)
	assert.Equal(t, digest.FromBytes([]byte("new")), e.Digest)
}

func TestIndexDropsInlineBodies(t *testing.T) {
	t.Parallel()

	e := testEntry("/", []byte("x"))
	e.Body = []byte("x")
	idx := (&Index{Name: "v1"}).Merge([]Entry{e})

	decoded, err := DecodeIndex(EncodeIndex(idx))
	require.NoError(t, err)
	require.Len(t, decoded.Entries, 1)
	assert.Nil(t, decoded.Entries[0].Body)
	assert.Equal(t, []byte("x"), e.Body, "source entry must not be modified")
}

func TestDecodeCorrupt(t *testing.T) {
	t.Parallel()

	_, err := DecodeIndex([]byte("short"))
	require.ErrorIs(t, err, store.ErrCorrupt)

	e := testEntry("/", nil)
	_, err = DecodeIndex(EncodeEntry(&e))
	require.ErrorIs(t, err, store.ErrCorrupt, "entry buffer must not decode as index")

	data := EncodeIndex(&Index{Version: Version, Name: "v1"})
	_, err = DecodeEntry(data)
	require.ErrorIs(t, err, store.ErrCorrupt)

	truncated := EncodeIndex((&Index{Name: "v1"}).Merge([]Entry{testEntry("/", nil)}))
	_, err = DecodeIndex(truncated[:12])
	require.ErrorIs(t, err, store.ErrCorrupt)
}

func TestIndexVersionMismatch(t *testing.T) {
	t.Parallel()

	data := EncodeIndex(&Index{Version: Version + 1, Name: "v1"})
	_, err := DecodeIndex(data)
	require.ErrorIs(t, err, store.ErrCorrupt)
}

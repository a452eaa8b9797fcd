// Package record encodes stored responses and cache indexes with FlatBuffers.
//
// The layout is described in record.fbs. Two root kinds exist: a standalone
// Entry (file identifier "PCEN"), used by stores that keep each response as
// one value, and an Index (file identifier "PCIX") listing every entry of a
// cache generation, used by stores that keep bodies separately.
package record

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/precache/store"
)

// Version is the current index format version.
const Version = 1

const (
	entryIdentifier = "PCEN"
	indexIdentifier = "PCIX"
)

// Compression identifies the compression applied to a stored body.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Entry is the stored form of a response.
type Entry struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Header     http.Header

	// Digest and Size describe the uncompressed body.
	Digest digest.Digest
	Size   int64

	// Compression applies to the body as held by the store.
	Compression Compression

	// Body is set when the body is held inline with the entry.
	Body []byte

	StoredAt time.Time
}

// Key returns the lookup key of the entry.
func (e *Entry) Key() string {
	return store.Key(e.Method, e.URL)
}

// FromResponse builds an entry describing resp. The body is not attached.
func FromResponse(resp *store.Response) Entry {
	return Entry{
		Method:     resp.Method,
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Digest:     digest.FromBytes(resp.Body),
		Size:       int64(len(resp.Body)),
		StoredAt:   resp.StoredAt,
	}
}

// Response rebuilds the stored response using body as its content.
func (e *Entry) Response(body []byte) *store.Response {
	header := e.Header
	if header == nil {
		header = make(http.Header)
	}
	return &store.Response{
		Method:     e.Method,
		URL:        e.URL,
		StatusCode: e.StatusCode,
		Status:     e.Status,
		Header:     header,
		Body:       body,
		StoredAt:   e.StoredAt,
	}
}

// Index lists every entry of one cache generation, sorted by key.
type Index struct {
	Version uint32
	Name    string
	Created time.Time
	Entries []Entry
}

// Lookup returns the entry for key.
func (idx *Index) Lookup(key string) (Entry, bool) {
	i, ok := slices.BinarySearchFunc(idx.Entries, key, func(e Entry, k string) int {
		return strings.Compare(e.Key(), k)
	})
	if !ok {
		return Entry{}, false
	}
	return idx.Entries[i], true
}

// Merge returns a new index holding the entries of idx replaced or extended
// by entries. Later entries win on duplicate keys.
func (idx *Index) Merge(entries []Entry) *Index {
	byKey := make(map[string]Entry, len(idx.Entries)+len(entries))
	for _, e := range idx.Entries {
		byKey[e.Key()] = e
	}
	for _, e := range entries {
		byKey[e.Key()] = e
	}
	merged := make([]Entry, 0, len(byKey))
	for _, e := range byKey {
		merged = append(merged, e)
	}
	slices.SortFunc(merged, func(a, b Entry) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return &Index{
		Version: Version,
		Name:    idx.Name,
		Created: idx.Created,
		Entries: merged,
	}
}

// Keys returns the sorted keys of the index.
func (idx *Index) Keys() []string {
	keys := make([]string, len(idx.Entries))
	for i := range idx.Entries {
		keys[i] = idx.Entries[i].Key()
	}
	return keys
}

// EncodeEntry serializes a standalone entry, including its inline body.
func EncodeEntry(e *Entry) []byte {
	b := flatbuffers.NewBuilder(256 + len(e.Body))
	off := buildEntry(b, e)
	b.FinishWithFileIdentifier(off, []byte(entryIdentifier))
	return b.FinishedBytes()
}

// DecodeEntry parses a standalone entry produced by EncodeEntry.
func DecodeEntry(data []byte) (e Entry, err error) {
	if err := checkIdentifier(data, entryIdentifier); err != nil {
		return Entry{}, err
	}
	defer recoverCorrupt(&err)
	t := rootTable(data)
	return readEntry(&t), nil
}

// EncodeIndex serializes an index. Inline bodies are not written.
func EncodeIndex(idx *Index) []byte {
	b := flatbuffers.NewBuilder(1024)

	entries := make([]flatbuffers.UOffsetT, len(idx.Entries))
	for i := len(idx.Entries) - 1; i >= 0; i-- {
		e := idx.Entries[i]
		e.Body = nil
		entries[i] = buildEntry(b, &e)
	}
	entriesOff := offsetVector(b, entries)
	nameOff := b.CreateString(idx.Name)

	b.StartObject(indexFields)
	b.PrependUint32Slot(indexVersion, idx.Version, 0)
	b.PrependUOffsetTSlot(indexName, nameOff, 0)
	b.PrependInt64Slot(indexCreated, unixNano(idx.Created), 0)
	b.PrependUOffsetTSlot(indexEntries, entriesOff, 0)
	root := b.EndObject()

	b.FinishWithFileIdentifier(root, []byte(indexIdentifier))
	return b.FinishedBytes()
}

// DecodeIndex parses an index produced by EncodeIndex.
func DecodeIndex(data []byte) (idx *Index, err error) {
	if err := checkIdentifier(data, indexIdentifier); err != nil {
		return nil, err
	}
	defer recoverCorrupt(&err)

	t := rootTable(data)
	idx = &Index{
		Version: t.u32(indexVersion),
		Name:    t.str(indexName),
		Created: fromUnixNano(t.i64(indexCreated)),
	}
	if idx.Version != Version {
		return nil, fmt.Errorf("%w: unsupported index version %d", store.ErrCorrupt, idx.Version)
	}
	n := t.vectorLen(indexEntries)
	idx.Entries = make([]Entry, n)
	for i := range n {
		et := t.tableAt(indexEntries, i)
		idx.Entries[i] = readEntry(&et)
	}
	return idx, nil
}

func buildEntry(b *flatbuffers.Builder, e *Entry) flatbuffers.UOffsetT {
	headers := buildHeaders(b, e.Header)
	method := b.CreateString(e.Method)
	url := b.CreateString(e.URL)
	status := b.CreateString(e.Status)
	dgst := b.CreateString(string(e.Digest))
	var body flatbuffers.UOffsetT
	if e.Body != nil {
		body = b.CreateByteVector(e.Body)
	}

	b.StartObject(entryFields)
	b.PrependUOffsetTSlot(entryMethod, method, 0)
	b.PrependUOffsetTSlot(entryURL, url, 0)
	b.PrependInt32Slot(entryStatusCode, int32(e.StatusCode), 0) //nolint:gosec // status codes are three digits
	b.PrependUOffsetTSlot(entryStatus, status, 0)
	b.PrependUOffsetTSlot(entryHeaders, headers, 0)
	b.PrependUOffsetTSlot(entryDigest, dgst, 0)
	b.PrependInt64Slot(entrySize, e.Size, 0)
	b.PrependByteSlot(entryCompression, byte(e.Compression), 0)
	b.PrependUOffsetTSlot(entryBody, body, 0)
	b.PrependInt64Slot(entryStoredAt, unixNano(e.StoredAt), 0)
	return b.EndObject()
}

func buildHeaders(b *flatbuffers.Builder, h http.Header) flatbuffers.UOffsetT {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	slices.Sort(names)

	offs := make([]flatbuffers.UOffsetT, len(names))
	for i, name := range names {
		values := make([]flatbuffers.UOffsetT, len(h[name]))
		for j, v := range h[name] {
			values[j] = b.CreateString(v)
		}
		valuesOff := offsetVector(b, values)
		nameOff := b.CreateString(name)

		b.StartObject(headerFields)
		b.PrependUOffsetTSlot(headerName, nameOff, 0)
		b.PrependUOffsetTSlot(headerValues, valuesOff, 0)
		offs[i] = b.EndObject()
	}
	return offsetVector(b, offs)
}

func readEntry(t *table) Entry {
	e := Entry{
		Method:      t.str(entryMethod),
		URL:         t.str(entryURL),
		StatusCode:  int(t.i32(entryStatusCode)),
		Status:      t.str(entryStatus),
		Header:      make(http.Header),
		Digest:      digest.Digest(t.str(entryDigest)),
		Size:        t.i64(entrySize),
		Compression: Compression(t.u8(entryCompression)),
		Body:        t.bytes(entryBody),
		StoredAt:    fromUnixNano(t.i64(entryStoredAt)),
	}
	for i := range t.vectorLen(entryHeaders) {
		ht := t.tableAt(entryHeaders, i)
		name := ht.str(headerName)
		for j := range ht.vectorLen(headerValues) {
			e.Header[name] = append(e.Header[name], ht.strAt(headerValues, j))
		}
	}
	return e
}

func checkIdentifier(data []byte, id string) error {
	if len(data) < flatbuffers.SizeUOffsetT+len(id) {
		return fmt.Errorf("%w: %d bytes", store.ErrCorrupt, len(data))
	}
	if got := string(data[flatbuffers.SizeUOffsetT : flatbuffers.SizeUOffsetT+len(id)]); got != id {
		return fmt.Errorf("%w: identifier %q, want %q", store.ErrCorrupt, got, id)
	}
	return nil
}

// recoverCorrupt turns out-of-range reads on malformed buffers into errors.
func recoverCorrupt(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", store.ErrCorrupt, r)
	}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/precache/internal/record"
	"github.com/meigma/precache/store"
)

// Cache is one named generation inside a disk Storage.
type Cache struct {
	storage *Storage
	name    string
	dir     string
	created time.Time

	// mu serializes index rewrites; readers use the published index.
	mu      sync.Mutex
	index   atomic.Pointer[record.Index]
	deleted atomic.Bool
}

var _ store.Cache = (*Cache)(nil)

// Name returns the cache name.
func (c *Cache) Name() string {
	return c.name
}

// Match returns the stored response for req.
//
// The body is verified against its recorded digest before it is returned.
func (c *Cache) Match(ctx context.Context, req *http.Request) (*store.Response, bool, error) {
	if !store.Matchable(req) || c.deleted.Load() {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	e, ok := c.index.Load().Lookup(store.RequestKey(req))
	if !ok {
		return nil, false, nil
	}

	root, err := os.OpenRoot(c.storage.dir)
	if err != nil {
		return nil, false, fmt.Errorf("open storage root: %w", err)
	}
	defer root.Close()

	body, err := c.readBody(root, &e)
	if err != nil {
		return nil, false, err
	}
	return e.Response(body), true, nil
}

// Put stores a single response.
func (c *Cache) Put(ctx context.Context, resp *store.Response) error {
	return c.PutAll(ctx, []*store.Response{resp})
}

// PutAll writes every body, then commits all entries with one index rename.
// If any step fails before the rename, no entry of the batch is visible.
func (c *Cache) PutAll(ctx context.Context, resps []*store.Response) error {
	if c.deleted.Load() {
		return fmt.Errorf("%w: %s", store.ErrDeleted, c.name)
	}
	for _, resp := range resps {
		if err := resp.Validate(); err != nil {
			return err
		}
	}
	if len(resps) == 0 {
		return nil
	}

	root, err := os.OpenRoot(c.storage.dir)
	if err != nil {
		return fmt.Errorf("open storage root: %w", err)
	}
	defer root.Close()

	now := time.Now().UTC()
	entries := make([]record.Entry, len(resps))
	for i, resp := range resps {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := record.FromResponse(resp)
		if e.StoredAt.IsZero() {
			e.StoredAt = now
		}
		if c.storage.cfg.compress {
			e.Compression = record.CompressionZstd
		}
		if err := c.writeBody(root, &e, resp.Body); err != nil {
			return fmt.Errorf("store %s: %w", e.Key(), err)
		}
		entries[i] = e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted.Load() {
		return fmt.Errorf("%w: %s", store.ErrDeleted, c.name)
	}
	next := c.index.Load().Merge(entries)
	if err := writeIndex(root, c.dir, next); err != nil {
		return err
	}
	c.index.Store(next)
	return nil
}

// Keys returns the sorted keys of all stored entries.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.deleted.Load() {
		return nil, nil
	}
	return c.index.Load().Keys(), nil
}

func (c *Cache) blobPath(e *record.Entry) (string, error) {
	if err := e.Digest.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", store.ErrCorrupt, err)
	}
	name := e.Digest.Encoded()
	if e.Compression == record.CompressionZstd {
		name += ".zst"
	}
	return filepath.Join(c.dir, blobsDir, e.Digest.Algorithm().String(), name), nil
}

func (c *Cache) readBody(root *os.Root, e *record.Entry) ([]byte, error) {
	p, err := c.blobPath(e)
	if err != nil {
		return nil, err
	}
	data, err := root.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: missing body for %s", store.ErrCorrupt, e.Key())
	}
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	body := data
	switch e.Compression {
	case record.CompressionNone:
	case record.CompressionZstd:
		body, err = c.storage.dec.DecodeAll(data, make([]byte, 0, e.Size))
		if err != nil {
			return nil, fmt.Errorf("%w: decompress body for %s: %w", store.ErrCorrupt, e.Key(), err)
		}
	default:
		return nil, fmt.Errorf("%w: compression %s", store.ErrCorrupt, e.Compression)
	}

	if digest.FromBytes(body) != e.Digest {
		return nil, fmt.Errorf("%w: %s", store.ErrDigestMismatch, e.Key())
	}
	return body, nil
}

// writeBody stores body under its digest. Existing blobs are reused.
func (c *Cache) writeBody(root *os.Root, e *record.Entry, body []byte) error {
	p, err := c.blobPath(e)
	if err != nil {
		return err
	}
	if _, err := root.Stat(p); err == nil {
		return nil
	}
	data := body
	if e.Compression == record.CompressionZstd {
		data = c.storage.enc.EncodeAll(body, nil)
	}
	dir := filepath.Dir(p)
	if err := root.MkdirAll(dir, c.storage.cfg.dirPerm); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	return writeFileAtomic(root, dir, filepath.Base(p), "blob-*", data)
}

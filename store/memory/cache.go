package memory

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/allegro/bigcache"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/precache/internal/record"
	"github.com/meigma/precache/store"
)

const (
	defaultShards      = 16
	maxEntriesInWindow = 1024
	maxEntrySize       = 4096
)

// Cache is one named generation held in a bigcache.
type Cache struct {
	name string

	mu      sync.RWMutex
	bc      *bigcache.BigCache
	keys    map[string]struct{}
	deleted bool
}

var _ store.Cache = (*Cache)(nil)

func newCache(name string, cfg Config) (*Cache, error) {
	bcfg := bigcache.DefaultConfig(lifeWindow)
	bcfg.Shards = defaultShards
	if cfg.Shards != 0 {
		bcfg.Shards = cfg.Shards
	}
	bcfg.MaxEntriesInWindow = maxEntriesInWindow
	bcfg.MaxEntrySize = maxEntrySize
	bcfg.Verbose = false

	bc, err := bigcache.NewBigCache(bcfg)
	if err != nil {
		return nil, fmt.Errorf("create cache %q: %w", name, err)
	}
	return &Cache{
		name: name,
		bc:   bc,
		keys: make(map[string]struct{}),
	}, nil
}

// Name returns the cache name.
func (c *Cache) Name() string {
	return c.name
}

// Match returns the stored response for req.
func (c *Cache) Match(ctx context.Context, req *http.Request) (*store.Response, bool, error) {
	if !store.Matchable(req) {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	key := store.RequestKey(req)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.deleted {
		return nil, false, nil
	}
	if _, ok := c.keys[key]; !ok {
		return nil, false, nil
	}
	data, err := c.bc.Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", store.ErrCorrupt, key, err)
	}
	e, err := record.DecodeEntry(data)
	if err != nil {
		return nil, false, err
	}
	if digest.FromBytes(e.Body) != e.Digest {
		return nil, false, fmt.Errorf("%w: %s", store.ErrDigestMismatch, key)
	}
	return e.Response(e.Body), true, nil
}

// Put stores a single response.
func (c *Cache) Put(ctx context.Context, resp *store.Response) error {
	return c.PutAll(ctx, []*store.Response{resp})
}

// PutAll stores a batch of responses. If any write fails, the entries
// written so far are restored to their previous state.
func (c *Cache) PutAll(ctx context.Context, resps []*store.Response) error {
	now := time.Now().UTC()
	type write struct {
		key  string
		data []byte
	}
	writes := make([]write, 0, len(resps))
	for _, resp := range resps {
		if err := resp.Validate(); err != nil {
			return err
		}
		e := record.FromResponse(resp)
		if e.StoredAt.IsZero() {
			e.StoredAt = now
		}
		e.Body = resp.Body
		if e.Body == nil {
			e.Body = []byte{}
		}
		writes = append(writes, write{key: e.Key(), data: record.EncodeEntry(&e)})
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return fmt.Errorf("%w: %s", store.ErrDeleted, c.name)
	}

	undo := make([]undoEntry, 0, len(writes))
	for _, w := range writes {
		prev := undoEntry{key: w.key}
		if _, ok := c.keys[w.key]; ok {
			if data, err := c.bc.Get(w.key); err == nil {
				prev.data, prev.exists = data, true
			}
		}
		if err := c.bc.Set(w.key, w.data); err != nil {
			c.rollback(undo)
			return fmt.Errorf("store %s: %w", w.key, err)
		}
		undo = append(undo, prev)
	}
	for _, w := range writes {
		c.keys[w.key] = struct{}{}
	}
	return nil
}

// undoEntry is the state of a key before a batch overwrote it.
type undoEntry struct {
	key    string
	data   []byte
	exists bool
}

// rollback restores entries in reverse write order. Caller holds c.mu.
func (c *Cache) rollback(undo []undoEntry) {
	for i := len(undo) - 1; i >= 0; i-- {
		p := undo[i]
		if p.exists {
			_ = c.bc.Set(p.key, p.data)
		} else {
			_ = c.bc.Delete(p.key)
		}
	}
}

// Keys returns the sorted keys of all stored entries.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.deleted {
		return nil, nil
	}
	keys := make([]string, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (c *Cache) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return nil
	}
	c.deleted = true
	c.keys = nil
	return c.bc.Close()
}

// Package disk provides a filesystem-backed response storage.
//
// Layout under the storage directory:
//
//	caches/<sha256(name)>/index                    FlatBuffers index of the generation
//	caches/<sha256(name)>/blobs/<alg>/<encoded>    response bodies, content addressed
//
// Bodies are written first and the index last, via temp file and rename, so
// the index rename is the commit point of a batch.
package disk

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/meigma/precache/internal/record"
	"github.com/meigma/precache/store"
)

const (
	defaultDirPerm = 0o700
	cachesDir      = "caches"
	indexFile      = "index"
	blobsDir       = "blobs"
)

// config holds shared configuration for a storage and its caches.
type config struct {
	dirPerm  os.FileMode
	compress bool
}

// Option configures a disk storage.
type Option func(*config)

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *config) {
		c.dirPerm = mode
	}
}

// WithCompression toggles zstd compression of stored bodies. Defaults to on.
func WithCompression(enabled bool) Option {
	return func(c *config) {
		c.compress = enabled
	}
}

// Storage implements store.Storage on the local filesystem.
type Storage struct {
	dir string
	cfg config
	enc *zstd.Encoder
	dec *zstd.Decoder

	mu     sync.Mutex
	caches map[string]*Cache
}

var _ store.Storage = (*Storage)(nil)

// New creates a disk storage rooted at dir.
func New(dir string, opts ...Option) (*Storage, error) {
	if dir == "" {
		return nil, errors.New("storage dir is empty")
	}
	cfg := config{
		dirPerm:  defaultDirPerm,
		compress: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := os.MkdirAll(filepath.Join(dir, cachesDir), cfg.dirPerm); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Storage{
		dir:    dir,
		cfg:    cfg,
		enc:    enc,
		dec:    dec,
		caches: make(map[string]*Cache),
	}, nil
}

// Close releases compression resources. Caches must not be used afterwards.
func (s *Storage) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

// Open returns the named cache, creating it with an empty index if absent.
func (s *Storage) Open(ctx context.Context, name string) (store.Cache, error) {
	if name == "" {
		return nil, store.ErrInvalidName
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.caches[name]; ok {
		return c, nil
	}

	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return nil, fmt.Errorf("open storage root: %w", err)
	}
	defer root.Close()

	dir := cacheDir(name)
	idx, err := readIndex(root, dir)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		idx = &record.Index{
			Version: record.Version,
			Name:    name,
			Created: time.Now().UTC(),
		}
		if err := root.MkdirAll(dir, s.cfg.dirPerm); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		if err := writeIndex(root, dir, idx); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	c := s.newCache(name, dir, idx)
	s.caches[name] = c
	return c, nil
}

// Has reports whether the named cache exists on disk.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return false, fmt.Errorf("open storage root: %w", err)
	}
	defer root.Close()

	_, err = root.Stat(filepath.Join(cacheDir(name), indexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the named cache directory. Handles to the cache obtained
// earlier stop matching and reject writes.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.caches[name]; ok {
		c.deleted.Store(true)
		delete(s.caches, name)
	}

	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return false, fmt.Errorf("open storage root: %w", err)
	}
	defer root.Close()

	dir := cacheDir(name)
	if _, err := root.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err := root.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("remove cache dir: %w", err)
	}
	return true, nil
}

// Names returns every cache name in creation order.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	caches, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(caches))
	for i, c := range caches {
		names[i] = c.Name()
	}
	return names, nil
}

// Match returns the first stored response for req across all caches in
// creation order.
func (s *Storage) Match(ctx context.Context, req *http.Request) (*store.Response, bool, error) {
	if !store.Matchable(req) {
		return nil, false, nil
	}
	caches, err := s.all(ctx)
	if err != nil {
		return nil, false, err
	}
	return store.MatchFirst(ctx, caches, req)
}

// all loads every cache found on disk, sorted by creation time.
func (s *Storage) all(ctx context.Context) ([]store.Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return nil, fmt.Errorf("open storage root: %w", err)
	}
	defer root.Close()

	f, err := root.Open(cachesDir)
	if err != nil {
		return nil, fmt.Errorf("open caches dir: %w", err)
	}
	entries, err := f.ReadDir(-1)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}

	loaded := make([]*Cache, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(cachesDir, entry.Name())
		idx, err := readIndex(root, dir)
		if errors.Is(err, fs.ErrNotExist) {
			// Directory created by a concurrent Open in another process.
			continue
		}
		if err != nil {
			return nil, err
		}
		if c, ok := s.caches[idx.Name]; ok {
			loaded = append(loaded, c)
			continue
		}
		c := s.newCache(idx.Name, dir, idx)
		s.caches[idx.Name] = c
		loaded = append(loaded, c)
	}

	slices.SortFunc(loaded, func(a, b *Cache) int {
		if n := a.created.Compare(b.created); n != 0 {
			return n
		}
		return cmp.Compare(a.name, b.name)
	})
	caches := make([]store.Cache, len(loaded))
	for i, c := range loaded {
		caches[i] = c
	}
	return caches, nil
}

func (s *Storage) newCache(name, dir string, idx *record.Index) *Cache {
	c := &Cache{
		storage: s,
		name:    name,
		dir:     dir,
		created: idx.Created,
	}
	c.index.Store(idx)
	return c
}

func cacheDir(name string) string {
	sum := sha256.Sum256([]byte(name))
	return filepath.Join(cachesDir, hex.EncodeToString(sum[:]))
}

func readIndex(root *os.Root, dir string) (*record.Index, error) {
	data, err := root.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, err
	}
	idx, err := record.DecodeIndex(data)
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", dir, err)
	}
	return idx, nil
}

func writeIndex(root *os.Root, dir string, idx *record.Index) error {
	if err := writeFileAtomic(root, dir, indexFile, "index-*", record.EncodeIndex(idx)); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

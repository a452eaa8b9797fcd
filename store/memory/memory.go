// Package memory provides an in-process response storage backed by bigcache.
//
// Every named cache owns one bigcache instance. Entries are kept as
// FlatBuffers records with the body inline. Entries never expire: the life
// window is set far beyond any process lifetime, so the only way to drop a
// generation is Storage.Delete.
package memory

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/meigma/precache/store"
)

// lifeWindow keeps bigcache from expiring stored responses.
const lifeWindow = 100 * 365 * 24 * time.Hour

// Config configures the bigcache instances created per cache name.
type Config struct {
	// Shards is the number of bigcache shards. Must be a power of two.
	// Zero uses 16, sized for a small seed list rather than a large cache.
	Shards int
}

// Storage implements store.Storage in memory.
type Storage struct {
	cfg Config

	mu     sync.Mutex
	caches map[string]*Cache
	order  []string
}

var _ store.Storage = (*Storage)(nil)

// New creates an empty memory storage.
func New(cfg Config) *Storage {
	return &Storage{
		cfg:    cfg,
		caches: make(map[string]*Cache),
	}
}

// Open returns the named cache, creating it if absent.
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
	c, err := newCache(name, s.cfg)
	if err != nil {
		return nil, err
	}
	s.caches[name] = c
	s.order = append(s.order, name)
	return c, nil
}

// Has reports whether the named cache exists.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	return ok, nil
}

// Delete removes the named cache and releases its bigcache.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	c, ok := s.caches[name]
	if ok {
		delete(s.caches, name)
		s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	}
	s.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, c.close()
}

// Names returns every cache name in creation order.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order), nil
}

// Match returns the first stored response for req across caches in
// creation order.
func (s *Storage) Match(ctx context.Context, req *http.Request) (*store.Response, bool, error) {
	s.mu.Lock()
	caches := make([]store.Cache, len(s.order))
	for i, name := range s.order {
		caches[i] = s.caches[name]
	}
	s.mu.Unlock()
	return store.MatchFirst(ctx, caches, req)
}

// Close releases every cache.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, name := range s.order {
		if err := s.caches[name].close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.caches = make(map[string]*Cache)
	s.order = nil
	return firstErr
}

// Package store defines the named response stores used by the offline cache.
//
// A Storage holds any number of named caches. Each Cache maps a request
// identity (method plus request URI) to a stored Response. The cache name
// doubles as a generation tag: a new name means a new, independent cache.
//
// Implementations live in subpackages:
//   - [github.com/meigma/precache/store/disk]: persistent, filesystem backed
//   - [github.com/meigma/precache/store/memory]: in-process, bigcache backed
package store

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrInvalidName is returned when a cache name is empty.
	ErrInvalidName = errors.New("store: invalid cache name")

	// ErrInvalidResponse is returned when a response cannot be stored,
	// for example because it was produced by a non-GET request.
	ErrInvalidResponse = errors.New("store: invalid response")

	// ErrDigestMismatch is returned when a stored body does not match its
	// recorded digest.
	ErrDigestMismatch = errors.New("store: digest mismatch")

	// ErrCorrupt is returned when stored metadata cannot be decoded.
	ErrCorrupt = errors.New("store: corrupt entry")

	// ErrDeleted is returned when writing to a cache that has been deleted
	// from its storage.
	ErrDeleted = errors.New("store: cache deleted")
)

// Storage is a collection of named caches.
//
// Implementations must be safe for concurrent use.
type Storage interface {
	// Open returns the cache with the given name, creating it if absent.
	Open(ctx context.Context, name string) (Cache, error)

	// Has reports whether a cache with the given name exists.
	Has(ctx context.Context, name string) (bool, error)

	// Delete removes the named cache and all of its entries.
	// It reports whether a cache was removed.
	Delete(ctx context.Context, name string) (bool, error)

	// Names returns the names of all caches in creation order.
	Names(ctx context.Context) ([]string, error)

	// Match looks the request up in every cache in creation order and
	// returns the first stored response.
	Match(ctx context.Context, req *http.Request) (*Response, bool, error)
}

// Cache is a single named generation of stored responses.
//
// Implementations must be safe for concurrent use.
type Cache interface {
	// Name returns the cache name.
	Name() string

	// Match returns the stored response for the request, if any.
	Match(ctx context.Context, req *http.Request) (*Response, bool, error)

	// Put stores a single response, replacing any entry with the same key.
	Put(ctx context.Context, resp *Response) error

	// PutAll stores a batch of responses. Either every response becomes
	// visible to Match or none does.
	PutAll(ctx context.Context, resps []*Response) error

	// Keys returns the keys of all stored entries, sorted.
	Keys(ctx context.Context) ([]string, error)
}

// MatchFirst looks req up in each cache in order and returns the first
// stored response.
//
// Storage implementations use it to provide Storage.Match.
func MatchFirst(ctx context.Context, caches []Cache, req *http.Request) (*Response, bool, error) {
	if !Matchable(req) {
		return nil, false, nil
	}
	for _, c := range caches {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		resp, ok, err := c.Match(ctx, req)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return resp, true, nil
		}
	}
	return nil, false, nil
}

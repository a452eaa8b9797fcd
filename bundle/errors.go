package bundle

import "errors"

var (
	// ErrNotFound is returned when the cache or the bundle tag does not exist.
	ErrNotFound = errors.New("bundle: not found")

	// ErrInvalidManifest is returned when a manifest is not a cache bundle.
	ErrInvalidManifest = errors.New("bundle: invalid manifest")

	// ErrMissingIndex is returned when the manifest does not contain an index layer.
	ErrMissingIndex = errors.New("bundle: missing index layer")

	// ErrMissingBody is returned when an indexed body is not in the layout.
	ErrMissingBody = errors.New("bundle: missing body layer")
)

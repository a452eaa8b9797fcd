package precache

import (
	"errors"

	"github.com/meigma/precache/store"
)

var (
	// ErrInstallFailed is returned when install could not fetch or store
	// every asset. The underlying cause is wrapped alongside it.
	ErrInstallFailed = errors.New("precache: install failed")

	// ErrNotInstalled is returned by Activate before a successful install.
	ErrNotInstalled = errors.New("precache: not installed")

	// ErrInvalidState is returned when a lifecycle step is not allowed in
	// the current state, for example a second concurrent Install.
	ErrInvalidState = errors.New("precache: invalid state")

	// ErrInvalidManifest is returned when a manifest has no cache name, no
	// assets, or an asset that is not an absolute path.
	ErrInvalidManifest = errors.New("precache: invalid manifest")

	// ErrBadStatus is returned when an asset fetch answers with a
	// non-2xx status.
	ErrBadStatus = errors.New("precache: bad response status")
)

// Errors re-exported from store.
var (
	// ErrInvalidName is returned when a cache name is empty.
	ErrInvalidName = store.ErrInvalidName

	// ErrInvalidResponse is returned when a response cannot be stored.
	ErrInvalidResponse = store.ErrInvalidResponse

	// ErrDigestMismatch is returned when a stored body does not match its digest.
	ErrDigestMismatch = store.ErrDigestMismatch

	// ErrCorrupt is returned when stored metadata cannot be decoded.
	ErrCorrupt = store.ErrCorrupt
)

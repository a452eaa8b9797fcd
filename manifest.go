package precache

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultCacheName is the cache name of the default manifest.
const DefaultCacheName = "amount-distribution-cache-v1"

// DefaultAssets returns the asset list of the default manifest.
func DefaultAssets() []string {
	return []string{
		"/",
		"/index.html",
		"/assets/logo.png",
		"/app.py",
		"/styles.css",
	}
}

// Manifest describes one cache generation.
type Manifest struct {
	// CacheName names the cache populated by install. Changing it starts a
	// new generation.
	CacheName string

	// Assets are the request URIs fetched and stored at install, in order.
	Assets []string

	// FormerNames are caches of previous generations deleted by Activate.
	FormerNames []string
}

// DefaultManifest returns the default cache name and asset list.
func DefaultManifest() Manifest {
	return Manifest{
		CacheName: DefaultCacheName,
		Assets:    DefaultAssets(),
	}
}

// Validate reports whether m can be installed.
func (m Manifest) Validate() error {
	if m.CacheName == "" {
		return fmt.Errorf("%w: empty cache name", ErrInvalidManifest)
	}
	if len(m.Assets) == 0 {
		return fmt.Errorf("%w: no assets", ErrInvalidManifest)
	}
	for _, a := range m.Assets {
		if !strings.HasPrefix(a, "/") || strings.HasPrefix(a, "//") {
			return fmt.Errorf("%w: asset %q must be an absolute path", ErrInvalidManifest, a)
		}
	}
	if slices.Contains(m.FormerNames, m.CacheName) {
		return fmt.Errorf("%w: current cache %q listed as former name", ErrInvalidManifest, m.CacheName)
	}
	return nil
}

func (m Manifest) clone() Manifest {
	return Manifest{
		CacheName:   m.CacheName,
		Assets:      slices.Clone(m.Assets),
		FormerNames: slices.Clone(m.FormerNames),
	}
}

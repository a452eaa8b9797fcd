// Package precache provides an offline cache for a fixed set of HTTP assets.
//
// A [Worker] follows the service worker lifecycle. Install fetches every
// asset of a [Manifest] from the network and stores the responses in a named
// cache. Activate deletes caches of former generations. From then on every
// request is answered from the cache when a stored response exists and from
// the network otherwise.
//
// The cache name is the generation tag: changing it populates a fresh cache
// and leaves the previous one in place until activation removes it.
//
// # Quick Start
//
// Put a worker in front of an origin server:
//
//	origin, err := fetch.NewOrigin("http://localhost:5000")
//	if err != nil {
//	    return err
//	}
//	storage, err := disk.New("/var/cache/precache")
//	if err != nil {
//	    return err
//	}
//	w, err := precache.New(storage, origin,
//	    precache.WithManifest(precache.DefaultManifest()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	http.ListenAndServe(":8080", w)
//
// # Misses
//
// By default a miss is forwarded to the network and the result is returned
// without being stored. Use [WithMissPolicy] with [MissStore] to write
// successful GET responses of misses into the current cache.
package precache

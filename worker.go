package precache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/precache/fetch"
	"github.com/meigma/precache/internal/metrics"
	"github.com/meigma/precache/store"
)

// State is the lifecycle state of a Worker.
type State int32

const (
	StateNew State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	// StateRedundant marks a worker whose install failed.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Worker intercepts requests and answers them cache first.
//
// Fetch and ServeHTTP are safe for concurrent use and may run during
// Install and Activate. Install and Activate are serialized.
type Worker struct {
	storage store.Storage
	fetcher fetch.Fetcher

	manifest    Manifest
	missPolicy  MissPolicy
	concurrency int
	log         logr.Logger
	metrics     *metrics.Metrics

	lifecycle sync.Mutex
	state     atomic.Int32
	misses    singleflight.Group
}

// New creates a worker that stores responses in storage and fetches misses
// with fetcher.
func New(storage store.Storage, fetcher fetch.Fetcher, opts ...Option) (*Worker, error) {
	if storage == nil {
		return nil, errors.New("nil storage")
	}
	if fetcher == nil {
		return nil, errors.New("nil fetcher")
	}
	w := &Worker{
		storage:     storage,
		fetcher:     fetcher,
		manifest:    DefaultManifest(),
		concurrency: DefaultInstallConcurrency,
		log:         logr.Discard(),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Manifest returns a copy of the worker's manifest.
func (w *Worker) Manifest() Manifest {
	return w.manifest.clone()
}

// Start installs and then activates the worker.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	return w.Activate(ctx)
}

// Install fetches every asset and stores the responses in the cache named
// by the manifest, creating it if absent.
//
// Install returns once every asset is stored. A transport error or a non-2xx
// status for any asset fails the whole install: nothing is stored, the
// worker becomes StateRedundant, and the returned error wraps
// ErrInstallFailed. Install may be retried from StateNew or StateRedundant.
func (w *Worker) Install(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	switch s := w.State(); s {
	case StateNew, StateRedundant:
	default:
		return fmt.Errorf("%w: install in state %s", ErrInvalidState, s)
	}
	w.setState(StateInstalling)

	log := w.log.WithValues("cache", w.manifest.CacheName)
	log.V(1).Info("installing", "assets", len(w.manifest.Assets))

	n, err := w.install(ctx)
	if err != nil {
		w.setState(StateRedundant)
		w.metrics.Install(false, 0)
		log.Error(err, "install failed")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	w.setState(StateInstalled)
	w.metrics.Install(true, n)
	log.Info("installed", "assets", n)
	return nil
}

func (w *Worker) install(ctx context.Context) (int, error) {
	cache, err := w.storage.Open(ctx, w.manifest.CacheName)
	if err != nil {
		return 0, fmt.Errorf("open cache: %w", err)
	}

	assets := w.manifest.Assets
	resps := make([]*store.Response, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, asset := range assets {
		g.Go(func() error {
			resp, err := w.fetchAsset(gctx, asset)
			if err != nil {
				return err
			}
			resps[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := cache.PutAll(ctx, resps); err != nil {
		return 0, fmt.Errorf("store assets: %w", err)
	}
	return len(resps), nil
}

func (w *Worker) fetchAsset(ctx context.Context, asset string) (*store.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", asset, err)
	}
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", asset, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %w: %s", asset, ErrBadStatus, resp.Status)
	}
	stored, err := store.FromHTTP(req, resp)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", asset, err)
	}
	w.log.V(2).Info("fetched asset", "url", asset, "size", len(stored.Body))
	return stored, nil
}

// Activate deletes every cache listed as a former name. The current cache is
// never deleted. Activate requires a successful Install and is a no-op once
// the worker is active.
func (w *Worker) Activate(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	switch s := w.State(); s {
	case StateInstalled:
	case StateActivated:
		return nil
	default:
		return fmt.Errorf("%w: state %s", ErrNotInstalled, s)
	}
	w.setState(StateActivating)

	deleted := 0
	for _, name := range w.manifest.FormerNames {
		ok, err := w.storage.Delete(ctx, name)
		if err != nil {
			// Deletion already done stays done; activation can be retried.
			w.setState(StateInstalled)
			w.metrics.CachesDeleted(deleted)
			return fmt.Errorf("delete cache %q: %w", name, err)
		}
		if ok {
			deleted++
			w.log.V(1).Info("deleted former cache", "cache", name)
		}
	}
	w.metrics.CachesDeleted(deleted)
	w.setState(StateActivated)
	w.log.Info("activated", "cache", w.manifest.CacheName, "deleted", deleted)
	return nil
}

// Fetch answers req from the cache when a stored response exists, and from
// the network otherwise.
//
// A hit never touches the network. A miss performs exactly one network fetch
// and returns its result unchanged, including error statuses and transport
// errors. Only GET requests can hit. The caller must close the response body.
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	stored, ok, err := w.storage.Match(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		w.log.Error(err, "cache lookup failed, using network", "url", req.URL.RequestURI())
	}
	if ok {
		w.metrics.Fetch(metrics.OutcomeHit)
		w.log.V(2).Info("cache hit", "url", req.URL.RequestURI())
		return stored.HTTPResponse(req), nil
	}

	if w.missPolicy == MissStore && store.Matchable(req) {
		return w.fetchAndStore(ctx, req)
	}
	return w.fetchNetwork(ctx, req)
}

func (w *Worker) fetchNetwork(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		w.metrics.Fetch(metrics.OutcomeError)
		w.log.V(1).Info("network fetch failed", "url", req.URL.RequestURI(), "error", err.Error())
		return nil, err
	}
	w.metrics.Fetch(metrics.OutcomeMiss)
	w.log.V(2).Info("cache miss", "url", req.URL.RequestURI(), "status", resp.StatusCode)
	return resp, nil
}

// fetchAndStore fetches a GET miss once for all concurrent callers and
// stores a 200 response in the current cache.
//
// The shared fetch is detached from the cancellation of whichever caller
// started it; it is bounded by the fetcher's own timeout. Each caller stops
// waiting when its own ctx is done.
func (w *Worker) fetchAndStore(ctx context.Context, req *http.Request) (*http.Response, error) {
	key := store.RequestKey(req)
	shared := context.WithoutCancel(ctx)
	ch := w.misses.DoChan(key, func() (any, error) {
		// A flight that finished just before this one started may have
		// stored the response already.
		if stored, ok, err := w.storage.Match(shared, req); err == nil && ok {
			w.metrics.Fetch(metrics.OutcomeHit)
			return stored, nil
		}
		resp, err := w.fetchNetwork(shared, req)
		if err != nil {
			return nil, err
		}
		buffered, err := store.FromHTTP(req, resp)
		if err != nil {
			return nil, err
		}
		if buffered.StatusCode != http.StatusOK {
			return buffered, nil
		}
		cache, err := w.storage.Open(shared, w.manifest.CacheName)
		if err == nil {
			err = cache.Put(shared, buffered)
		}
		if err != nil {
			// The response is still served; only the write-back is lost.
			w.log.Error(err, "store miss", "url", buffered.URL)
		}
		return buffered, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*store.Response).HTTPResponse(req), nil
	}
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

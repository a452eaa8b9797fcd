package precache

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/precache/internal/metrics"
)

// Option configures a Worker.
type Option func(*Worker) error

// DefaultInstallConcurrency is the number of asset fetches run at once
// during install.
const DefaultInstallConcurrency = 4

// MissPolicy decides what happens to the network response of a cache miss.
type MissPolicy int

const (
	// MissPassthrough returns the network response without storing it.
	MissPassthrough MissPolicy = iota

	// MissStore writes successful GET responses into the current cache.
	// Concurrent misses for the same request share one network fetch.
	MissStore
)

// String returns the flag value of the policy.
func (p MissPolicy) String() string {
	switch p {
	case MissPassthrough:
		return "passthrough"
	case MissStore:
		return "store"
	default:
		return fmt.Sprintf("MissPolicy(%d)", int(p))
	}
}

// ParseMissPolicy parses "passthrough" or "store".
func ParseMissPolicy(s string) (MissPolicy, error) {
	switch s {
	case "passthrough", "":
		return MissPassthrough, nil
	case "store":
		return MissStore, nil
	default:
		return 0, fmt.Errorf("unknown miss policy %q: want passthrough or store", s)
	}
}

// WithManifest sets the cache name, asset list and former names.
// The default is DefaultManifest.
func WithManifest(m Manifest) Option {
	return func(w *Worker) error {
		if err := m.Validate(); err != nil {
			return err
		}
		w.manifest = m.clone()
		return nil
	}
}

// WithLogger sets the logger. The default discards all output.
func WithLogger(logger logr.Logger) Option {
	return func(w *Worker) error {
		w.log = logger
		return nil
	}
}

// WithRegisterer registers fetch and install metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(w *Worker) error {
		if reg == nil {
			return errors.New("nil prometheus registerer")
		}
		m, err := metrics.New(reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		w.metrics = m
		return nil
	}
}

// WithMissPolicy sets how cache misses are handled.
// The default is MissPassthrough.
func WithMissPolicy(p MissPolicy) Option {
	return func(w *Worker) error {
		if p != MissPassthrough && p != MissStore {
			return fmt.Errorf("invalid miss policy %v", p)
		}
		w.missPolicy = p
		return nil
	}
}

// WithInstallConcurrency bounds concurrent asset fetches during install.
func WithInstallConcurrency(n int) Option {
	return func(w *Worker) error {
		if n < 1 {
			return errors.New("install concurrency must be >= 1")
		}
		w.concurrency = n
		return nil
	}
}

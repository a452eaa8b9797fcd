package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/meigma/precache"
	"github.com/meigma/precache/fetch"
	"github.com/meigma/precache/internal/logr"
	"github.com/meigma/precache/store"
	"github.com/meigma/precache/store/disk"
	"github.com/meigma/precache/store/memory"
)

const (
	DefaultAddress = ":8080"

	storeDisk   = "disk"
	storeMemory = "memory"
)

// config holds the flags shared by every subcommand.
type config struct {
	cacheName          string
	assets             []string
	formerNames        []string
	storeKind          string
	cacheDir           string
	missPolicy         string
	fetchTimeout       time.Duration
	installConcurrency int

	logging logr.Config
	logger  logr.Logger
}

func (c *config) addPersistentFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.cacheName, "cache-name", precache.DefaultCacheName, "Name of the cache generation")
	flags.StringSliceVar(&c.assets, "asset", precache.DefaultAssets(), "Asset path stored at install (repeatable)")
	flags.StringSliceVar(&c.formerNames, "former-name", nil, "Former cache name deleted on activation (repeatable)")
	flags.StringVar(&c.storeKind, "store", storeDisk, "Cache storage: disk or memory")
	flags.StringVar(&c.cacheDir, "cache-dir", "", "Directory of the disk store (default: user cache dir)")
	flags.StringVar(&c.missPolicy, "miss-policy", precache.MissPassthrough.String(), "Cache miss handling: passthrough or store")
	flags.DurationVar(&c.fetchTimeout, "fetch-timeout", 0, "Timeout of each network fetch; 0 waits indefinitely")
	flags.IntVar(&c.installConcurrency, "install-concurrency", precache.DefaultInstallConcurrency, "Concurrent asset fetches during install")
	logr.LoadConfigFromFlags(flags, &c.logging)
}

// setup runs after flag parsing.
func (c *config) setup() error {
	logger, err := logr.New(&c.logging)
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

func (c *config) manifest() precache.Manifest {
	return precache.Manifest{
		CacheName:   c.cacheName,
		Assets:      c.assets,
		FormerNames: c.formerNames,
	}
}

type closer interface {
	Close() error
}

// newStorage opens the configured storage. The returned func releases it.
func (c *config) newStorage() (store.Storage, func(), error) {
	var (
		s  store.Storage
		cl closer
	)
	switch c.storeKind {
	case storeDisk:
		dir := c.cacheDir
		if dir == "" {
			base, err := os.UserCacheDir()
			if err != nil {
				return nil, nil, fmt.Errorf("locate cache dir: %w", err)
			}
			dir = filepath.Join(base, "precache")
		}
		d, err := disk.New(dir)
		if err != nil {
			return nil, nil, err
		}
		c.logger.V(1).Info("opened disk store", "dir", dir)
		s, cl = d, d
	case storeMemory:
		m := memory.New(memory.Config{})
		s, cl = m, m
	default:
		return nil, nil, fmt.Errorf("unknown store %q: want disk or memory", c.storeKind)
	}
	return s, func() {
		if err := cl.Close(); err != nil {
			c.logger.Error(err, "closing store")
		}
	}, nil
}

func (c *config) newWorker(s store.Storage, originURL string, reg prometheus.Registerer) (*precache.Worker, error) {
	if originURL == "" {
		return nil, errors.New("--origin is required")
	}
	origin, err := fetch.NewOrigin(originURL, fetch.WithTimeout(c.fetchTimeout))
	if err != nil {
		return nil, err
	}
	policy, err := precache.ParseMissPolicy(c.missPolicy)
	if err != nil {
		return nil, err
	}
	opts := []precache.Option{
		precache.WithManifest(c.manifest()),
		precache.WithLogger(c.logger.Logger),
		precache.WithMissPolicy(policy),
		precache.WithInstallConcurrency(c.installConcurrency),
	}
	if reg != nil {
		opts = append(opts, precache.WithRegisterer(reg))
	}
	return precache.New(s, origin, opts...)
}

// install runs install and activation for the configured manifest.
func (c *config) install(ctx context.Context, w *precache.Worker) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	c.logger.V(1).Info("worker ready", "state", w.State().String())
	return nil
}

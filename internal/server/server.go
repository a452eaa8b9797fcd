// Package server runs the HTTP front of the cache and of the origin
// application.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-logr/logr"
	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	HealthzPath = "/healthz"
	MetricsPath = "/metrics"

	// shutdownTimeout is the time given for outstanding requests to finish
	// before shutdown.
	shutdownTimeout = 1 * time.Second
)

// Version is reported by the health endpoint. Set at build time.
var Version = "dev"

type (
	// Handlers registers routes on a router.
	Handlers interface {
		AddHandlers(r *mux.Router)
	}

	// Config is the http server config.
	Config struct {
		EnableRequestLogging bool

		// Gatherer serves /metrics. Nil uses the default prometheus registry.
		Gatherer prometheus.Gatherer

		// Handlers add routes ahead of the fallback.
		Handlers []Handlers

		// Fallback serves every request no other route matches.
		Fallback http.Handler
	}

	// Server is the http server.
	Server struct {
		logr.Logger
		Config

		server *http.Server
	}
)

// New constructs the http server.
func New(logger logr.Logger, cfg Config) *Server {
	r := mux.NewRouter()

	// Catch panics and return 500s
	r.Use(gorillaHandlers.RecoveryHandler(gorillaHandlers.PrintRecoveryStack(true)))

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle(MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	healthz, _ := json.Marshal(struct{ Version string }{Version: Version})
	r.HandleFunc(HealthzPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-type", "application/json")
		w.Write(healthz)
	})

	for _, h := range cfg.Handlers {
		h.AddHandlers(r)
	}

	if cfg.Fallback != nil {
		r.PathPrefix("/").Handler(cfg.Fallback)
	}

	// Optionally log every request
	if cfg.EnableRequestLogging {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				m := httpsnoop.CaptureMetrics(next, w, r)
				logger.Info("request",
					"duration", fmt.Sprintf("%dms", m.Duration.Milliseconds()),
					"status", m.Code,
					"method", r.Method,
					"path", r.URL.RequestURI(),
					"bytes", m.Written)
			})
		})
	}

	return &Server{
		Logger: logger,
		Config: cfg,
		server: &http.Server{
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the root handler, for use in tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts serving http traffic on the given listener and waits until the
// server exits due to error or the context is cancelled.
func (s *Server) Start(ctx context.Context, ln net.Listener) error {
	errch := make(chan error, 1)

	go func() {
		errch <- s.server.Serve(ln)
	}()

	s.Info("started server", "address", ln.Addr().String())

	// Block until server stops listening or context is cancelled.
	select {
	case err := <-errch:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.Info("gracefully shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return s.server.Close()
		}
		return nil
	}
}

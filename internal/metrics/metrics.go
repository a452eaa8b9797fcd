// Package metrics holds the prometheus collectors of the offline cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "precache"

// Fetch outcomes.
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeError = "error"
)

// Install results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics records fetch and install activity for one worker.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	fetches       *prometheus.CounterVec
	installs      *prometheus.CounterVec
	assets        prometheus.Gauge
	cachesDeleted prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Total intercepted requests by outcome",
		}, []string{"outcome"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "install",
			Name:      "total",
			Help:      "Total install attempts by result",
		}, []string{"result"}),
		assets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "install",
			Name:      "assets",
			Help:      "Number of assets stored by the last successful install",
		}),
		cachesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activate",
			Name:      "caches_deleted_total",
			Help:      "Total former caches deleted on activation",
		}),
	}
	for _, c := range []prometheus.Collector{m.fetches, m.installs, m.assets, m.cachesDeleted} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Fetch records one intercepted request.
func (m *Metrics) Fetch(outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
}

// Install records one install attempt. assets is ignored on failure.
func (m *Metrics) Install(ok bool, assets int) {
	if m == nil {
		return
	}
	if !ok {
		m.installs.WithLabelValues(ResultFailure).Inc()
		return
	}
	m.installs.WithLabelValues(ResultSuccess).Inc()
	m.assets.Set(float64(assets))
}

// CachesDeleted records former caches removed on activation.
func (m *Metrics) CachesDeleted(n int) {
	if m == nil {
		return
	}
	m.cachesDeleted.Add(float64(n))
}

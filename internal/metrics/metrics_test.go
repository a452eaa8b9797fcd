package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Fetch(OutcomeHit)
	m.Fetch(OutcomeHit)
	m.Fetch(OutcomeMiss)
	m.Install(true, 5)
	m.Install(false, 3)
	m.CachesDeleted(2)

	want := `
		# HELP precache_fetch_requests_total Total intercepted requests by outcome
		# TYPE precache_fetch_requests_total counter
		precache_fetch_requests_total{outcome="hit"} 2
		precache_fetch_requests_total{outcome="miss"} 1
		# HELP precache_install_assets Number of assets stored by the last successful install
		# TYPE precache_install_assets gauge
		precache_install_assets 5
		# HELP precache_install_total Total install attempts by result
		# TYPE precache_install_total counter
		precache_install_total{result="failure"} 1
		precache_install_total{result="success"} 1
		# HELP precache_activate_caches_deleted_total Total former caches deleted on activation
		# TYPE precache_activate_caches_deleted_total counter
		precache_activate_caches_deleted_total 2
	`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want)))
}

func TestMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Fetch(OutcomeError)
	m.Install(true, 1)
	m.CachesDeleted(1)
}

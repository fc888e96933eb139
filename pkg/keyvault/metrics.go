package keyvault

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/systmms/kvref/pkg/reference"
)

// Cache tiers reported by Metrics.
const (
	TierMemo     = "memo"
	TierExternal = "external"
)

// Cache lookup results reported by Metrics.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// Metrics holds the Prometheus collectors for vault access. A nil *Metrics
// records nothing.
type Metrics struct {
	// cacheLookups tracks cache lookups by tier (memo/external), kind and result
	cacheLookups *prometheus.CounterVec

	// vaultRequests tracks vault round trips by operation and HTTP status
	vaultRequests *prometheus.CounterVec

	// vaultRequestDuration tracks vault round trip latency
	vaultRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. Pass
// prometheus.DefaultRegisterer to expose them on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvref_cache_lookups_total",
				Help: "Total number of reference cache lookups",
			},
			[]string{"tier", "kind", "result"},
		),
		vaultRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvref_vault_requests_total",
				Help: "Total number of Key Vault requests",
			},
			[]string{"operation", "status"},
		),
		vaultRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kvref_vault_request_duration_seconds",
				Help:    "Duration of Key Vault requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordCacheLookup records a cache lookup
func (m *Metrics) RecordCacheLookup(tier string, kind reference.Kind, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(tier, kind.Plural(), result).Inc()
}

// RecordVaultRequest records a vault round trip. A status of 0 means the
// request never produced a response.
func (m *Metrics) RecordVaultRequest(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status != 0 {
		label = strconv.Itoa(status)
	}
	m.vaultRequests.WithLabelValues(operation, label).Inc()
	m.vaultRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

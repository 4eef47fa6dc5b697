package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for registry governance.
type Metrics struct {
	VersionsPublished  prometheus.Counter
	VersionsDeprecated prometheus.Counter
	BanksPinned        prometheus.Counter
	ResolveDuration    prometheus.Histogram
	ResolveOutcomes    *prometheus.CounterVec
}

// New creates and registers all registry metrics.
func New() *Metrics {
	return &Metrics{
		VersionsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_registry_versions_published_total",
			Help: "Total number of registry versions published",
		}),
		VersionsDeprecated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_registry_versions_deprecated_total",
			Help: "Total number of registry versions deprecated",
		}),
		BanksPinned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_registry_banks_pinned_total",
			Help: "Total number of bank pin operations",
		}),
		ResolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "covenant_registry_resolve_duration_seconds",
			Help:    "Latency of registry binding resolution",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		ResolveOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_registry_resolve_outcomes_total",
			Help: "Binding resolutions by outcome (pinned, latest, unbound)",
		}, []string{"outcome"}),
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the evaluation path.
type Metrics struct {
	SnapshotsBuilt    *prometheus.CounterVec
	SnapshotDuration  prometheus.Histogram
	ValidationErrors  prometheus.Counter
	ProofsExported    prometheus.Counter
	MetricsUnresolved *prometheus.CounterVec
}

// New creates and registers all analysis metrics.
func New() *Metrics {
	return &Metrics{
		SnapshotsBuilt: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_analysis_snapshots_built_total",
			Help: "Snapshots built, by outcome (ok, no_period)",
		}, []string{"outcome"}),
		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "covenant_analysis_snapshot_duration_seconds",
			Help:    "End-to-end latency of snapshot builds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ValidationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_analysis_validation_errors_total",
			Help: "Snapshots that failed pre-render validation",
		}),
		ProofsExported: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_analysis_proofs_exported_total",
			Help: "Audit proof records exported",
		}),
		MetricsUnresolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_analysis_metrics_unresolved_total",
			Help: "Metric results left absent, by cause (missing_inputs, divide_by_zero)",
		}, []string{"cause"}),
	}
}

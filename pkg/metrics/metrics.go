// Package metrics exposes prometheus collectors for the import pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline collectors. A single instance is shared by the
// import service and registered on the metrics endpoint.
type Metrics struct {
	RowsImported prometheus.Counter
	RowsErrored  prometheus.Counter
	RowsSkipped  prometheus.Counter
	JobsInFlight prometheus.Gauge
	JobDuration  prometheus.Histogram
}

// New registers the pipeline collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RowsImported: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "envelope",
			Subsystem: "import",
			Name:      "rows_imported_total",
			Help:      "Rows that produced a transaction.",
		}),
		RowsErrored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "envelope",
			Subsystem: "import",
			Name:      "rows_error_total",
			Help:      "Rows that ended in the ERROR state.",
		}),
		RowsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "envelope",
			Subsystem: "import",
			Name:      "rows_skipped_total",
			Help:      "Rows skipped as duplicate transactions.",
		}),
		JobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "envelope",
			Subsystem: "import",
			Name:      "jobs_in_flight",
			Help:      "Import jobs currently being processed.",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "envelope",
			Subsystem: "import",
			Name:      "job_duration_seconds",
			Help:      "Wall time of one import job run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

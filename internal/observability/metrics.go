package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for ingestion and the archive.
type Metrics struct {
	// labels: outcome={inserted,updated,skipped}
	RowsProcessed *prometheus.CounterVec
	// labels: outcome={ingested,failed,empty}
	FilesProcessed *prometheus.CounterVec
	// labels: outcome={committed,rolled_back}
	Batches       *prometheus.CounterVec
	BatchDuration prometheus.Histogram

	// labels: result={hit,miss}
	YearBoundsCache *prometheus.CounterVec

	// labels: outcome={ingested,invalid,failed}
	LiveMessages *prometheus.CounterVec
}

func newMetrics() *Metrics {
	return &Metrics{
		RowsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_archive",
			Name:      "rows_processed_total",
			Help:      "Spreadsheet rows handled by the ingestion pipeline, by outcome.",
		}, []string{"outcome"}),
		FilesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_archive",
			Name:      "files_processed_total",
			Help:      "Uploaded workbook files, by outcome.",
		}, []string{"outcome"}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_archive",
			Name:      "batches_total",
			Help:      "Ingestion batches, by final transaction outcome.",
		}, []string{"outcome"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "weather_archive",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a complete upload batch including commit.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		YearBoundsCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_archive",
			Name:      "year_bounds_cache_total",
			Help:      "Year bounds cache lookups by result.",
		}, []string{"result"}),
		LiveMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_archive",
			Name:      "live_messages_total",
			Help:      "Observations received from the MQTT feed, by outcome.",
		}, []string{"outcome"}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with reg. Short-lived tools pass their
// own registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.RowsProcessed,
		m.FilesProcessed,
		m.Batches,
		m.BatchDuration,
		m.YearBoundsCache,
		m.LiveMessages,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as many
// as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

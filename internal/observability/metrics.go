package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for radard.
type Metrics struct {
	// Ingestion metrics.
	BatchesIngested   prometheus.Counter
	PointsIngested    prometheus.Counter
	RowInsertFailures prometheus.Counter
	IngestErrors      prometheus.Counter
	IngestDuration    prometheus.Histogram

	// Retention metrics.
	RetentionDeleted prometheus.Counter

	// API metrics.
	HTTPRequests    *prometheus.CounterVec   // labels: path, status
	HTTPDuration    *prometheus.HistogramVec // labels: path
	LiveSubscribers prometheus.Gauge
}

// NewMetrics creates and registers all radard metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.BatchesIngested,
		m.PointsIngested,
		m.RowInsertFailures,
		m.IngestErrors,
		m.IngestDuration,
		m.RetentionDeleted,
		m.HTTPRequests,
		m.HTTPDuration,
		m.LiveSubscribers,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		BatchesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radard",
			Name:      "batches_ingested_total",
			Help:      "Total radar snapshots stored.",
		}),
		PointsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radard",
			Name:      "points_ingested_total",
			Help:      "Total observation rows inserted.",
		}),
		RowInsertFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radard",
			Name:      "row_insert_failures_total",
			Help:      "Observation rows rejected during batch writes.",
		}),
		IngestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radard",
			Name:      "ingest_errors_total",
			Help:      "Failed upstream fetch or store cycles.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "radard",
			Name:      "ingest_duration_seconds",
			Help:      "Duration of a complete fetch-classify-store cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RetentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radard",
			Name:      "retention_deleted_total",
			Help:      "Observation rows removed by the retention reaper.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radard",
			Name:      "http_requests_total",
			Help:      "HTTP requests by path and status code.",
		}, []string{"path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "radard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by path.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"path"}),
		LiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "radard",
			Name:      "live_subscribers",
			Help:      "Currently connected WebSocket subscribers.",
		}),
	}
}

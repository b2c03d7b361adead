package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for a
// reconciliation run.
type Metrics struct {
	RecordsProcessed *prometheus.CounterVec // labels: flow={geocoded,osm,homogenize}
	Decisions        *prometheus.CounterVec // labels: flow, action={insert,update,conflict,duplicate,error}
	RunActive        prometheus.Gauge
	BatchDuration    *prometheus.HistogramVec // labels: flow

	// Fetch client metrics.
	FetchRequests *prometheus.CounterVec   // labels: source, outcome={success,empty,error}
	FetchCache    *prometheus.CounterVec   // labels: source, result={hit,miss}
	FetchRetries  *prometheus.CounterVec   // labels: source
	FetchDuration *prometheus.HistogramVec // labels: source
}

// NewMetrics creates and registers all reconciler metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RecordsProcessed,
		m.Decisions,
		m.RunActive,
		m.BatchDuration,
		m.FetchRequests,
		m.FetchCache,
		m.FetchRetries,
		m.FetchDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registry registration to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "venue_sync",
			Name:      "records_processed_total",
			Help:      "Total input records processed per flow.",
		}, []string{"flow"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "venue_sync",
			Name:      "decisions_total",
			Help:      "Terminal decisions per flow and action.",
		}, []string{"flow", "action"}),
		RunActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "venue_sync",
			Name:      "run_active",
			Help:      "1 while a reconciliation run is in progress.",
		}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "venue_sync",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a complete reconciliation run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"flow"}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "venue_sync",
			Name:      "fetch_requests_total",
			Help:      "External API requests by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "venue_sync",
			Name:      "fetch_cache_total",
			Help:      "Fetch cache lookups by source and result.",
		}, []string{"source", "result"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "venue_sync",
			Name:      "fetch_retries_total",
			Help:      "Retried external requests by source.",
		}, []string{"source"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "venue_sync",
			Name:      "fetch_request_duration_seconds",
			Help:      "External API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
	}
}

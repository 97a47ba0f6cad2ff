package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "indicator_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL service.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	RunDuration     prometheus.Histogram
	JobsTotal       *prometheus.CounterVec // labels: outcome={loaded,unavailable,failed}

	ObservationsInserted prometheus.Counter
	ObservationsUpdated  prometheus.Counter

	// Resolution metrics, mirrored from Collector.
	CacheLookups        *prometheus.CounterVec   // labels: result={hit,miss}
	APICalls            prometheus.Counter
	TierAttempts        *prometheus.CounterVec   // labels: tier, outcome={success,error}
	TierDuration        *prometheus.HistogramVec // labels: tier
	FallbackActivations prometheus.Counter
	CacheEvictions      prometheus.Counter

	PublishErrors prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while an ingestion run is in progress, 0 otherwise.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete ingestion run over every configured job.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Ingestion jobs by outcome.",
		}, []string{"outcome"}),
		ObservationsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_inserted_total",
			Help:      "Observations stored under a previously unseen natural key.",
		}),
		ObservationsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_updated_total",
			Help:      "Observations that replaced an existing row in place.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Resolver cache lookups by result.",
		}, []string{"result"}),
		APICalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_calls_total",
			Help:      "Network tier attempts, including retries and failures.",
		}),
		TierAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_attempts_total",
			Help:      "Tier attempts by tier and outcome.",
		}, []string{"tier", "outcome"}),
		TierDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tier_duration_seconds",
			Help:      "Duration of a single tier attempt in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"tier"}),
		FallbackActivations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_activations_total",
			Help:      "Resolutions that exhausted every tier.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Persistent cache entries removed to stay within budget.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Change-feed publish failures.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PipelineRunning,
		m.RunDuration,
		m.JobsTotal,
		m.ObservationsInserted,
		m.ObservationsUpdated,
		m.CacheLookups,
		m.APICalls,
		m.TierAttempts,
		m.TierDuration,
		m.FallbackActivations,
		m.CacheEvictions,
		m.PublishErrors,
	}
}

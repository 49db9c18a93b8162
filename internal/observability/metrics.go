package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// telemetry pipeline and the forecast scheduler.
type Metrics struct {
	SamplesConsumed  prometheus.Counter
	RecordsStored    prometheus.Counter
	RecordsPublished prometheus.Counter
	ProcessErrors    prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Quality control and alerting metrics.
	QCFlags       *prometheus.CounterVec // label: flag
	AlertsEmitted *prometheus.CounterVec // label: level={EARLY,HIGH}

	// Forecast cycle metrics.
	ForecastCycleDuration prometheus.Histogram
	RainLookups           *prometheus.CounterVec // label: result={hit,miss,error}
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		SamplesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floodtel",
			Name:      "samples_consumed_total",
			Help:      "Total telemetry samples read from the source topic.",
		}),
		RecordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floodtel",
			Name:      "records_stored_total",
			Help:      "Total derived records written to storage.",
		}),
		RecordsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floodtel",
			Name:      "records_published_total",
			Help:      "Total derived records written to the sink topic.",
		}),
		ProcessErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floodtel",
			Name:      "process_errors_total",
			Help:      "Total samples dropped because parsing or derivation failed.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "floodtel",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "floodtel",
			Name:      "batch_size",
			Help:      "Number of samples per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "floodtel",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		QCFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floodtel",
			Name:      "qc_flags_total",
			Help:      "Quality-control flags raised on derived records, by flag.",
		}, []string{"flag"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floodtel",
			Name:      "alerts_emitted_total",
			Help:      "Alerts emitted by the evaluator, by level.",
		}, []string{"level"}),
		ForecastCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "floodtel",
			Name:      "forecast_cycle_duration_seconds",
			Help:      "Duration of one full forecast and alert cycle over all nodes.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RainLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floodtel",
			Name:      "rain_lookups_total",
			Help:      "Open-Meteo rain lookups by result.",
		}, []string{"result"}),
	}

	prometheus.MustRegister(
		m.SamplesConsumed,
		m.RecordsStored,
		m.RecordsPublished,
		m.ProcessErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.QCFlags,
		m.AlertsEmitted,
		m.ForecastCycleDuration,
		m.RainLookups,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		SamplesConsumed:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "floodtel", Name: "samples_consumed_total"}),
		RecordsStored:           prometheus.NewCounter(prometheus.CounterOpts{Namespace: "floodtel", Name: "records_stored_total"}),
		RecordsPublished:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "floodtel", Name: "records_published_total"}),
		ProcessErrors:           prometheus.NewCounter(prometheus.CounterOpts{Namespace: "floodtel", Name: "process_errors_total"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "floodtel", Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "floodtel", Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "floodtel", Name: "batch_processing_duration_seconds"}),
		QCFlags:                 prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "floodtel", Name: "qc_flags_total"}, []string{"flag"}),
		AlertsEmitted:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "floodtel", Name: "alerts_emitted_total"}, []string{"level"}),
		ForecastCycleDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "floodtel", Name: "forecast_cycle_duration_seconds"}),
		RainLookups:             prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "floodtel", Name: "rain_lookups_total"}, []string{"result"}),
	}
}

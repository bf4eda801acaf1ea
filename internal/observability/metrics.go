package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "uplink_ingest"

// Drop reasons used as the "reason" label of UplinksDropped.
const (
	ReasonInvalidJSON      = "invalid_json"
	ReasonNoDeviceIdentity = "no_device_identity"
)

// Metrics holds the Prometheus counters, histograms, and gauges for ingestion.
type Metrics struct {
	UplinksReceived *prometheus.CounterVec // labels: source={webhook,kafka,mqtt,replay}
	UplinksStored   prometheus.Counter
	ReadingsStored  prometheus.Counter
	UplinksDropped  *prometheus.CounterVec // labels: reason={invalid_json,no_device_identity}
	StorageErrors   prometheus.Counter
	MeterUnparsed   prometheus.Counter
	IngestDuration  prometheus.Histogram

	// Kafka consumer and publisher.
	PipelineRunning prometheus.Gauge
	BatchSize       prometheus.Histogram
	Published       prometheus.Counter
	PublishErrors   prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		UplinksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplinks_received_total",
			Help:      "Uplink documents received, by ingestion source.",
		}, []string{"source"}),
		UplinksStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplinks_stored_total",
			Help:      "Uplink rows written (inserted or overwritten).",
		}),
		ReadingsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_stored_total",
			Help:      "Meter reading rows written (inserted or overwritten).",
		}),
		UplinksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplinks_dropped_total",
			Help:      "Uplink documents not persisted, by reason.",
		}, []string{"reason"}),
		StorageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Store writes that failed.",
		}),
		MeterUnparsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meter_unparsed_total",
			Help:      "Uplinks carrying a raw meter value that could not be parsed.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time to parse, normalize and persist one uplink.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the Kafka consumer is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Normalized uplinks written to the sink topic.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Normalized uplinks the sink topic rejected.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.UplinksReceived,
		m.UplinksStored,
		m.ReadingsStored,
		m.UplinksDropped,
		m.StorageErrors,
		m.MeterUnparsed,
		m.IngestDuration,
		m.PipelineRunning,
		m.BatchSize,
		m.Published,
		m.PublishErrors,
	}
}

// NewMetrics creates and registers all ingestion metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so that multiple tests can
// build their own without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the Prometheus collectors the surveillance core exports.
type Metrics struct {
	RESTPollsTotal       *prometheus.CounterVec
	RESTPollErrors       *prometheus.CounterVec
	StreamFramesTotal    *prometheus.CounterVec
	StreamFramesDropped  *prometheus.CounterVec
	StreamReconnects     prometheus.Counter
	CircuitState         *prometheus.GaugeVec
	DegradedMode         prometheus.Gauge
	DetectionsTotal      *prometheus.CounterVec
	InferenceLatency     prometheus.Histogram
	FeatureStoreSize     prometheus.Gauge
	TickerEvictionsTotal prometheus.Counter
	TrainingRunsTotal    *prometheus.CounterVec
	TrainingDuration     prometheus.Histogram
	ModelAUC             *prometheus.GaugeVec
	HistoryQueueDepth    prometheus.Gauge
	HistoryFlushErrors   prometheus.Counter
	HistoryOverflowDropped prometheus.Counter
}

// NewMetrics registers and returns the metric set against the given
// registerer. Pass prometheus.DefaultRegisterer in production, a fresh
// registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RESTPollsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presurge_rest_polls_total",
			Help: "Total REST poll requests issued, by outcome.",
		}, []string{"outcome"}),

		RESTPollErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presurge_rest_poll_errors_total",
			Help: "REST poll errors by class.",
		}, []string{"class"}),

		StreamFramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presurge_stream_frames_total",
			Help: "Inbound stream frames processed, by frame type.",
		}, []string{"frame_type"}),

		StreamFramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presurge_stream_frames_dropped_total",
			Help: "Inbound stream frames dropped under backpressure, by frame type.",
		}, []string{"frame_type"}),

		StreamReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "presurge_stream_reconnects_total",
			Help: "Total stream reconnect attempts.",
		}),

		CircuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "presurge_circuit_state",
			Help: "Circuit breaker state by name (0=closed, 1=half-open, 2=open).",
		}, []string{"breaker"}),

		DegradedMode: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presurge_degraded_mode",
			Help: "1 when the core is running in degraded (REST-only) mode, else 0.",
		}),

		DetectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presurge_detections_total",
			Help: "Total presurge detections emitted, by sink outcome.",
		}, []string{"outcome"}),

		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "presurge_inference_tick_seconds",
			Help:    "Wall time to score one inference tick across the universe.",
			Buckets: prometheus.DefBuckets,
		}),

		FeatureStoreSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presurge_feature_store_tickers",
			Help: "Number of ticker states currently resident in the feature store.",
		}),

		TickerEvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "presurge_ticker_evictions_total",
			Help: "Total ticker states evicted under the memory budget.",
		}),

		TrainingRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presurge_training_runs_total",
			Help: "Total training runs, by outcome (published, aborted, failed).",
		}, []string{"outcome"}),

		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "presurge_training_duration_seconds",
			Help:    "Wall time of a full training run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		ModelAUC: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "presurge_model_auc",
			Help: "Validation AUC of the most recently published artifact, by window.",
		}, []string{"window"}),

		HistoryQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presurge_history_queue_depth",
			Help: "Pending entries queued ahead of the history flusher.",
		}),

		HistoryFlushErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "presurge_history_flush_errors_total",
			Help: "Total history batch flush failures.",
		}),

		HistoryOverflowDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "presurge_history_overflow_dropped_total",
			Help: "Total history samples dropped under queue overflow.",
		}),
	}
}

// Package metrics exposes Prometheus instrumentation for the prediction
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all engine collectors. Construct with NewWithRegistry so
// tests can use an isolated registry.
type Metrics struct {
	PredictionsTotal  *prometheus.CounterVec
	PredictionLatency prometheus.Histogram
	BackendFallbacks  *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter

	FeedbackTotal    *prometheus.CounterVec
	TrainingRuns     *prometheus.CounterVec
	TrainingDuration prometheus.Histogram
	TrainingSamples  prometheus.Histogram
	ModelAccuracy    *prometheus.GaugeVec

	ScorerErrors prometheus.Counter
}

// New creates metrics registered on the default Prometheus registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics registered on the given registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_predictions_total",
			Help: "Predictions served, labelled by source and backend.",
		}, []string{"source", "backend"}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskengine_prediction_duration_seconds",
			Help:    "End-to-end prediction latency.",
			Buckets: prometheus.DefBuckets,
		}),
		BackendFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_backend_fallbacks_total",
			Help: "Inference attempts that fell past a backend, by backend.",
		}, []string{"backend"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_backend_cache_hits_total",
			Help: "Loaded-backend cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_backend_cache_misses_total",
			Help: "Loaded-backend cache misses.",
		}),
		FeedbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_feedback_total",
			Help: "Feedback submissions by type.",
		}, []string{"type"}),
		TrainingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_training_runs_total",
			Help: "Completed training runs by terminal status.",
		}, []string{"status"}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskengine_training_duration_seconds",
			Help:    "Wall-clock duration of training runs.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		TrainingSamples: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskengine_training_samples",
			Help:    "Training set sizes per run.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000},
		}),
		ModelAccuracy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskengine_model_accuracy",
			Help: "Latest training accuracy per model, 0-100.",
		}, []string{"organisation", "predictionType"}),
		ScorerErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_scorer_errors_total",
			Help: "Failed calls to the statistical scorer.",
		}),
	}
}

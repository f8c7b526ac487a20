// Package metrics provides Prometheus metrics collection for the survival
// predictor. It defines the serving metrics exposed on /metrics and the
// training metrics written once per training run.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "titanic"

// Metrics holds all Prometheus metrics for the predictor.
type Metrics struct {
	registry prometheus.Gatherer

	// Serving metrics
	RequestsTotal        *prometheus.CounterVec   // HTTP requests by route and status code
	RequestDuration      *prometheus.HistogramVec // HTTP request latency by route
	PredictionsTotal     *prometheus.CounterVec   // Successful predictions by label
	PredictionLatency    prometheus.Histogram     // Model inference latency
	PredictionConfidence prometheus.Histogram     // Distribution of reported confidence (percent)
	InvalidInputs        *prometheus.CounterVec   // Rejected requests by offending field
	UnavailableTotal     prometheus.Counter       // Requests refused because no model is loaded
	RateLimitedTotal     prometheus.Counter       // Requests refused by the rate limiter
	CacheHits            prometheus.Counter       // Prediction cache hits
	CacheMisses          prometheus.Counter       // Prediction cache misses
	ReloadsTotal         *prometheus.CounterVec   // Model reloads by outcome
	ModelLoaded          prometheus.Gauge         // 1 when a model is serving
	ModelAge             prometheus.Gauge         // Seconds since the serving model was trained
	InputDrift           *prometheus.GaugeVec     // Drift score of served inputs by feature
	DriftAlerts          *prometheus.CounterVec   // Drift alerts by feature and severity

	// Training metrics
	TrainingAccuracy  *prometheus.GaugeVec // Accuracy by partition (train/test)
	TrainingRows      *prometheus.GaugeVec // Row counts by stage
	TrainingDuration  prometheus.Gauge     // Wall time of the last training run
	FeatureImportance *prometheus.GaugeVec // Mean impurity decrease by feature
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// When registerer is also a Gatherer it backs WriteTextfile.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Total number of predictions by predicted label",
		}, []string{"label"}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_latency_seconds",
			Help:      "Model inference latency in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		PredictionConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_confidence_percent",
			Help:      "Distribution of prediction confidence in percent",
			Buckets:   prometheus.LinearBuckets(50, 5, 11),
		}),
		InvalidInputs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_inputs_total",
			Help:      "Total number of rejected prediction requests by field",
		}, []string{"field"}),
		UnavailableTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_unavailable_total",
			Help:      "Total number of predictions refused because no model is loaded",
		}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of requests refused by the rate limiter",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_hits_total",
			Help:      "Total number of prediction cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_misses_total",
			Help:      "Total number of prediction cache misses",
		}),
		ReloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_reloads_total",
			Help:      "Total number of model reloads by outcome",
		}, []string{"outcome"}),
		ModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded",
			Help:      "Whether a model is currently serving (1) or not (0)",
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_age_seconds",
			Help:      "Seconds since the serving model was trained",
		}),
		InputDrift: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "input_drift_score",
			Help:      "Shift of recently served inputs from the training distribution by feature",
		}, []string{"feature"}),
		DriftAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_drift_alerts_total",
			Help:      "Total number of input drift alerts by feature and severity",
		}, []string{"feature", "severity"}),
		TrainingAccuracy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_accuracy",
			Help:      "Accuracy of the last trained model by partition",
		}, []string{"partition"}),
		TrainingRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_rows",
			Help:      "Row counts of the last training run by stage",
		}, []string{"stage"}),
		TrainingDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Wall time of the last training run in seconds",
		}),
		FeatureImportance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feature_importance",
			Help:      "Normalized mean impurity decrease by feature",
		}, []string{"feature"}),
	}
	if g, ok := registerer.(prometheus.Gatherer); ok {
		m.registry = g
	}
	return m
}

// ObserveRequest records one HTTP response.
func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObservePrediction records a successful prediction.
func (m *Metrics) ObservePrediction(label string, confidence float64, latency time.Duration) {
	m.PredictionsTotal.WithLabelValues(label).Inc()
	m.PredictionConfidence.Observe(confidence)
	m.PredictionLatency.Observe(latency.Seconds())
}

// ObserveInvalidInput records a rejected request.
func (m *Metrics) ObserveInvalidInput(field string) {
	if field == "" {
		field = "body"
	}
	m.InvalidInputs.WithLabelValues(field).Inc()
}

// ObserveUnavailable records a prediction refused for lack of a model.
func (m *Metrics) ObserveUnavailable() { m.UnavailableTotal.Inc() }

// ObserveRateLimited records a throttled request.
func (m *Metrics) ObserveRateLimited() { m.RateLimitedTotal.Inc() }

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}

// ObserveReload records a reload attempt.
func (m *Metrics) ObserveReload(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.ReloadsTotal.WithLabelValues(outcome).Inc()
}

// SetDrift publishes the latest drift score of each feature. A reload resets
// the scores by passing nil.
func (m *Metrics) SetDrift(scores map[string]float64) {
	if scores == nil {
		m.InputDrift.Reset()
		return
	}
	for feature, score := range scores {
		m.InputDrift.WithLabelValues(feature).Set(score)
	}
}

// ObserveDriftAlert records one drift alert.
func (m *Metrics) ObserveDriftAlert(feature, severity string) {
	m.DriftAlerts.WithLabelValues(feature, severity).Inc()
}

// SetModel updates the model gauges. trainedAt is ignored when loaded is
// false.
func (m *Metrics) SetModel(loaded bool, trainedAt time.Time) {
	if !loaded {
		m.ModelLoaded.Set(0)
		m.ModelAge.Set(0)
		return
	}
	m.ModelLoaded.Set(1)
	m.ModelAge.Set(time.Since(trainedAt).Seconds())
}

// Gatherer returns the registry the metrics were registered with, or the
// default gatherer when that registry cannot be gathered from.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

// WriteTextfile writes every metric of the backing registry to path in the
// text exposition format, for collection by a node exporter textfile
// collector after a one-shot training run.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Gatherer())
}

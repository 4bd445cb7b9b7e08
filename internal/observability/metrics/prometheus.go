package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/training"
	"github.com/inferloop/tsforecast/pkg/constants"
)

// PrometheusConfig configures Prometheus metrics
type PrometheusConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Path      string `json:"path" mapstructure:"path"`
	Namespace string `json:"namespace" mapstructure:"namespace"`
	// RuntimeCollectors adds the Go runtime and process collectors
	RuntimeCollectors bool `json:"runtime_collectors" mapstructure:"runtime_collectors"`
}

// PrometheusMetrics holds every forecaster metric on a private registry
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry
	config   *PrometheusConfig

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	trainingBatchesTotal  prometheus.Counter
	trainingEpochsTotal   prometheus.Counter
	trainingBatchLoss     prometheus.Gauge
	trainingEpochLoss     prometheus.Gauge
	trainingBatchDuration prometheus.Histogram

	forecastRequestsTotal *prometheus.CounterVec
	forecastDuration      prometheus.Histogram
	forecastSeriesTotal   prometheus.Counter

	cacheRequestsTotal     *prometheus.CounterVec
	storageOperationsTotal *prometheus.CounterVec
	storageDuration        *prometheus.HistogramVec
	modelParameters        prometheus.Gauge
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(config *PrometheusConfig, logger *logrus.Logger) (*PrometheusMetrics, error) {
	if config == nil {
		config = DefaultPrometheusConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		config:   config,
	}
	pm.initializeMetrics()

	if err := pm.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return pm, nil
}

// DefaultPrometheusConfig returns the default configuration
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Enabled:           true,
		Path:              constants.DefaultMetricsPath,
		Namespace:         constants.AppName,
		RuntimeCollectors: true,
	}
}

// Handler serves the registry in the exposition format
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the private registry
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// RecordHTTPRequest counts one served request
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	pm.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	pm.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordForecast counts one rollout request. status is "success" or "error".
func (pm *PrometheusMetrics) RecordForecast(status string, series int, duration time.Duration) {
	pm.forecastRequestsTotal.WithLabelValues(status).Inc()
	pm.forecastDuration.Observe(duration.Seconds())
	pm.forecastSeriesTotal.Add(float64(series))
}

// RecordCacheLookup counts a forecast cache hit or miss
func (pm *PrometheusMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	pm.cacheRequestsTotal.WithLabelValues(result).Inc()
}

// RecordStorageOperation counts one backend call
func (pm *PrometheusMetrics) RecordStorageOperation(backend, operation, status string, duration time.Duration) {
	pm.storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	pm.storageDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// SetModelParameters publishes the size of the loaded model
func (pm *PrometheusMetrics) SetModelParameters(n int) {
	pm.modelParameters.Set(float64(n))
}

// OnBatch implements training.Observer
func (pm *PrometheusMetrics) OnBatch(ctx context.Context, r training.BatchResult) {
	pm.trainingBatchesTotal.Inc()
	pm.trainingBatchLoss.Set(r.Loss)
	pm.trainingBatchDuration.Observe(r.Duration.Seconds())
}

// OnEpoch implements training.Observer
func (pm *PrometheusMetrics) OnEpoch(ctx context.Context, r training.EpochResult) {
	pm.trainingEpochsTotal.Inc()
	pm.trainingEpochLoss.Set(r.MeanLoss)
}

func (pm *PrometheusMetrics) initializeMetrics() {
	ns := pm.config.Namespace

	pm.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	pm.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	pm.trainingBatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "training",
		Name:      "batches_total",
		Help:      "Optimizer steps taken",
	})
	pm.trainingEpochsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "training",
		Name:      "epochs_total",
		Help:      "Completed passes over the training set",
	})
	pm.trainingBatchLoss = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "training",
		Name:      "batch_loss",
		Help:      "Negative mean log-likelihood of the last minibatch",
	})
	pm.trainingEpochLoss = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "training",
		Name:      "epoch_loss",
		Help:      "Mean minibatch loss of the last epoch",
	})
	pm.trainingBatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Subsystem: "training",
		Name:      "batch_duration_seconds",
		Help:      "Forward, backward and update time per minibatch",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	pm.forecastRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "forecast",
			Name:      "requests_total",
			Help:      "Total number of rollout requests",
		},
		[]string{"status"},
	)
	pm.forecastDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Subsystem: "forecast",
		Name:      "duration_seconds",
		Help:      "Rollout duration in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
	pm.forecastSeriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "forecast",
		Name:      "series_total",
		Help:      "Series forecast across all requests",
	})

	pm.cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Forecast cache lookups by result",
		},
		[]string{"result"},
	)
	pm.storageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Total number of storage operations",
		},
		[]string{"backend", "operation", "status"},
	)
	pm.storageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Storage operation duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		},
		[]string{"backend", "operation"},
	)
	pm.modelParameters = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "model",
		Name:      "parameters",
		Help:      "Scalar parameters in the loaded model",
	})
}

func (pm *PrometheusMetrics) registerMetrics() error {
	metrics := []prometheus.Collector{
		pm.httpRequestsTotal,
		pm.httpRequestDuration,
		pm.trainingBatchesTotal,
		pm.trainingEpochsTotal,
		pm.trainingBatchLoss,
		pm.trainingEpochLoss,
		pm.trainingBatchDuration,
		pm.forecastRequestsTotal,
		pm.forecastDuration,
		pm.forecastSeriesTotal,
		pm.cacheRequestsTotal,
		pm.storageOperationsTotal,
		pm.storageDuration,
		pm.modelParameters,
	}
	if pm.config.RuntimeCollectors {
		metrics = append(metrics,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	for _, metric := range metrics {
		if err := pm.registry.Register(metric); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return nil
}

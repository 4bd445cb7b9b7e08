package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/forecast"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/internal/storage/interfaces"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// ForecastRequest is the body of POST /v1/forecasts
type ForecastRequest struct {
	forecast.RolloutInput
	Samples int `json:"samples,omitempty"`
}

// ForecastResponse is a completed forecast as stored in the cache
type ForecastResponse struct {
	ID        string      `json:"id"`
	RunID     string      `json:"run_id,omitempty"`
	Samples   int         `json:"samples"`
	Forecast  [][]float64 `json:"forecast"`
	CreatedAt time.Time   `json:"created_at"`
}

// ModelInfo describes the model currently being served
type ModelInfo struct {
	RunID      string          `json:"run_id,omitempty"`
	Config     forecast.Config `json:"config"`
	Parameters int             `json:"parameters"`
	LoadedAt   time.Time       `json:"loaded_at"`
}

// ServiceConfig controls sampling and result retention
type ServiceConfig struct {
	NumSamples int
	// MaxSamples caps what a single request may ask for
	MaxSamples int
	Seed       uint64
	TTL        time.Duration
}

// ForecastService runs rollouts against a shared model. Forecasts hold the
// read lock; Reload holds the write lock. Every request gets its own random
// stream, so concurrent rollouts share no mutable state.
type ForecastService struct {
	mu       sync.RWMutex
	model    *forecast.Model
	runID    string
	loadedAt time.Time

	cache   interfaces.Cache
	config  ServiceConfig
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Logger
	streams atomic.Uint64
}

// NewForecastService creates a service. metrics may be nil.
func NewForecastService(model *forecast.Model, runID string, cache interfaces.Cache, config ServiceConfig, pm *metrics.PrometheusMetrics, logger *logrus.Logger) (*ForecastService, error) {
	if model == nil {
		return nil, errors.NewModelError(errors.CodeModelNotFound, "a model is required to serve forecasts")
	}
	if cache == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "a forecast cache is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.NumSamples <= 0 {
		config.NumSamples = constants.DefaultNumSamples
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = 1000
	}
	if config.TTL <= 0 {
		config.TTL = constants.DefaultForecastTTL
	}

	fs := &ForecastService{
		cache:   cache,
		config:  config,
		metrics: pm,
		logger:  logger,
	}
	fs.Reload(model, runID)
	return fs, nil
}

// Reload swaps the served model
func (fs *ForecastService) Reload(model *forecast.Model, runID string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.model = model
	fs.runID = runID
	fs.loadedAt = time.Now()
	if fs.metrics != nil {
		fs.metrics.SetModelParameters(model.NumParameters())
	}
	fs.logger.WithFields(logrus.Fields{
		"run_id":       runID,
		"distribution": model.Config().Distribution,
		"parameters":   model.NumParameters(),
	}).Info("Serving model")
}

// Info describes the served model
func (fs *ForecastService) Info() ModelInfo {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return ModelInfo{
		RunID:      fs.runID,
		Config:     fs.model.Config(),
		Parameters: fs.model.NumParameters(),
		LoadedAt:   fs.loadedAt,
	}
}

// Forecast runs a sample-mean rollout and caches the result under a new id
func (fs *ForecastService) Forecast(ctx context.Context, req *ForecastRequest) (*ForecastResponse, error) {
	if req == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "request body is required")
	}
	samples := req.Samples
	if samples == 0 {
		samples = fs.config.NumSamples
	}
	if samples < 0 || samples > fs.config.MaxSamples {
		return nil, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("samples must be between 1 and %d, got %d", fs.config.MaxSamples, samples))
	}

	start := time.Now()
	src := rand.NewPCG(fs.config.Seed, fs.streams.Add(1))

	fs.mu.RLock()
	runID := fs.runID
	mean, err := fs.model.ForecastMean(ctx, &req.RolloutInput, samples, src)
	fs.mu.RUnlock()

	if err != nil {
		fs.record("error", 0, start)
		return nil, err
	}
	fs.record("ok", len(mean), start)

	resp := &ForecastResponse{
		ID:        uuid.New().String(),
		RunID:     runID,
		Samples:   samples,
		Forecast:  mean,
		CreatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to encode forecast")
	}
	if err := fs.cache.Set(ctx, resp.ID, payload, fs.config.TTL); err != nil {
		// The caller still gets the forecast; only later lookups miss.
		fs.logger.WithError(err).WithField("forecast_id", resp.ID).Warn("Failed to cache forecast")
	}

	fs.logger.WithFields(logrus.Fields{
		"forecast_id": resp.ID,
		"series":      len(mean),
		"horizon":     req.Horizon(),
		"samples":     samples,
		"duration":    time.Since(start),
	}).Debug("Forecast completed")
	return resp, nil
}

// Get returns a cached forecast. A missing or expired id gives DATA_NOT_FOUND.
func (fs *ForecastService) Get(ctx context.Context, id string) (*ForecastResponse, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("invalid forecast id %q", id))
	}

	payload, err := fs.cache.Get(ctx, id)
	if fs.metrics != nil {
		fs.metrics.RecordCacheLookup(err == nil)
	}
	if err != nil {
		return nil, err
	}

	var resp ForecastResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to decode cached forecast")
	}
	return &resp, nil
}

func (fs *ForecastService) record(status string, series int, start time.Time) {
	if fs.metrics != nil {
		fs.metrics.RecordForecast(status, series, time.Since(start))
	}
}

package server

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/observability/health"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// Options carries the optional collaborators of a Server
type Options struct {
	// Metrics, when set, is recorded into and served at MetricsPath
	Metrics     *metrics.PrometheusMetrics
	MetricsPath string
	// Health, when nil, is created with only the model check
	Health *health.HealthMonitor
}

// Server is the forecast HTTP API
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	logger      *logrus.Logger
	config      *Config
	forecasts   *ForecastService
	health      *health.HealthMonitor
	metrics     *metrics.PrometheusMetrics
	metricsPath string
}

// NewServer creates a new HTTP server instance
func NewServer(config *Config, forecasts *ForecastService, opts Options, logger *logrus.Logger) (*Server, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if forecasts == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "forecast service is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		router:      mux.NewRouter(),
		logger:      logger,
		config:      config,
		forecasts:   forecasts,
		health:      opts.Health,
		metrics:     opts.Metrics,
		metricsPath: opts.MetricsPath,
	}
	if s.metricsPath == "" {
		s.metricsPath = constants.DefaultMetricsPath
	}
	if s.health == nil {
		s.health = health.NewHealthMonitor(0, logger)
	}
	s.health.RegisterCheck(health.HealthCheck{
		Name:     "model",
		Critical: true,
		Func: func(context.Context) error {
			if s.forecasts.Info().Parameters == 0 {
				return errors.NewModelError(errors.CodeModelNotFound, "no model loaded")
			}
			return nil
		},
	})

	s.setupRoutes()
	s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:         config.GetAddress(),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

// Start serves until ctx is canceled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeNetwork, errors.CodeConnectionFailed, "HTTP server failed")
		}
		return nil
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorf("Error shutting down HTTP server: %v", err)
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "tsforecast"
	AppDescription = "Probabilistic autoregressive sales forecaster"
	AppVersion     = "0.1.0"

	// API constants
	APIVersion = "v1"
	APIPrefix  = "/v1"

	// Default configuration values
	DefaultPort               = 8080
	DefaultHost               = "0.0.0.0"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultReadTimeout        = 15 * time.Second
	DefaultWriteTimeout       = 60 * time.Second
	DefaultIdleTimeout        = 60 * time.Second
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultMetricsPath        = "/metrics"
	DefaultRequestTimeout     = 2 * time.Minute
	DefaultHealthCheckTimeout = 5 * time.Second
	MaxRequestSize            = 64 * 1024 * 1024

	// HTTP headers and content types
	HeaderContentType  = "Content-Type"
	HeaderRequestID    = "X-Request-ID"
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"
	ContentTypeJSON    = "application/json"

	// Model defaults
	DefaultHiddenSize       = 40
	DefaultNumLayers        = 3
	DefaultShopEmbeddingDim = 5
	DefaultItemEmbeddingDim = 5
	DefaultNumShops         = 10
	DefaultNumItems         = 50

	// Training defaults
	DefaultBatchSize    = 64
	DefaultEpochs       = 10
	DefaultLearningRate = 0.001
	DefaultSeed         = 101

	// Inference defaults
	DefaultNumSamples = 5

	// Storage defaults
	DefaultCheckpointBackend = "local"
	DefaultCheckpointPath    = "models"
	DefaultCheckpointFile    = "model.ckpt.gz"
	DefaultStorageTimeout    = 30 * time.Second
	DefaultForecastTTL       = 24 * time.Hour
)

// Distribution names accepted by the model constructor
const (
	DistributionNegativeBinomial = "negbin"
	DistributionGaussian         = "gaussian"
)

// Lag windows, in timesteps, used to derive decoder inputs. Order matters: the
// derived feature vector is laid out shortest window first.
var LagWindows = []int{7, 30, 60}

const (
	// MaxLagWindow is the minimum encode length accepted by the rollout
	MaxLagWindow = 60

	// StatsPerWindow is min, max, median, mean
	StatsPerWindow = 4

	// NumLagFeatures is 3 windows x 4 statistics plus the previous value
	NumLagFeatures = 13

	// NumCategoricalColumns is the trailing shop and item index columns
	NumCategoricalColumns = 2
)

// Measurement and table names
const (
	MeasurementForecast     = "sales_forecast"
	MeasurementTrainingLoss = "training_loss"
	TableTrainingRuns       = "training_runs"
)

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Environment variable prefix for configuration overrides
const EnvPrefix = "TSFORECAST"

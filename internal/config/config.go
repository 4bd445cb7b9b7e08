package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/inferloop/tsforecast/internal/dataset"
	"github.com/inferloop/tsforecast/internal/forecast"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/internal/server"
	"github.com/inferloop/tsforecast/internal/storage"
	"github.com/inferloop/tsforecast/internal/storage/implementations/influxdb"
	"github.com/inferloop/tsforecast/internal/storage/implementations/postgres"
	"github.com/inferloop/tsforecast/internal/storage/implementations/redis"
	"github.com/inferloop/tsforecast/internal/training"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// Config is the complete application configuration
type Config struct {
	Model     ModelConfig              `mapstructure:"model"`
	Training  training.Config          `mapstructure:"training"`
	Inference InferenceConfig          `mapstructure:"inference"`
	Synth     dataset.SynthConfig      `mapstructure:"synth"`
	Logging   LoggingConfig            `mapstructure:"logging"`
	Metrics   metrics.PrometheusConfig `mapstructure:"metrics"`
	Storage   StorageConfig            `mapstructure:"storage"`
	Redis     redis.RedisConfig        `mapstructure:"redis"`
	InfluxDB  influxdb.InfluxDBConfig  `mapstructure:"influxdb"`
	Postgres  postgres.PostgresConfig  `mapstructure:"postgres"`
	Server    server.Config            `mapstructure:"server"`
}

// ModelConfig is the architecture minus the feature width, which comes from
// the data.
type ModelConfig struct {
	HiddenSize       int    `mapstructure:"hidden_size"`
	NumLayers        int    `mapstructure:"num_layers"`
	ShopEmbeddingDim int    `mapstructure:"shop_embedding_dim"`
	ItemEmbeddingDim int    `mapstructure:"item_embedding_dim"`
	NumShops         int    `mapstructure:"num_shops"`
	NumItems         int    `mapstructure:"num_items"`
	Distribution     string `mapstructure:"distribution"`
	Seed             uint64 `mapstructure:"seed"`
}

// InferenceConfig controls sampling at forecast time
type InferenceConfig struct {
	NumSamples int    `mapstructure:"num_samples"`
	Seed       uint64 `mapstructure:"seed"`
}

// LoggingConfig selects the logrus level and formatter
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig groups the blob storage settings
type StorageConfig struct {
	Checkpoint storage.CheckpointConfig `mapstructure:"checkpoint"`
}

// ForecastConfig builds the model architecture for a feature width
func (m ModelConfig) ForecastConfig(inputSize int) *forecast.Config {
	return &forecast.Config{
		InputSize:        inputSize,
		HiddenSize:       m.HiddenSize,
		NumLayers:        m.NumLayers,
		ShopEmbeddingDim: m.ShopEmbeddingDim,
		ItemEmbeddingDim: m.ItemEmbeddingDim,
		NumShops:         m.NumShops,
		NumItems:         m.NumItems,
		Distribution:     m.Distribution,
		Seed:             m.Seed,
	}
}

// NewLogger builds a logger from the logging section
func (l LoggingConfig) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			fmt.Sprintf("invalid log level %q", l.Level))
	}
	logger.SetLevel(level)

	switch l.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	default:
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("invalid log format %q, want text or json", l.Format))
	}
	return logger, nil
}

// EnvFile is read from the working directory before the environment is
// consulted. Variables already set in the process take precedence over it.
const EnvFile = ".env"

func loadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			"error reading "+path)
	}
	return nil
}

// Load reads cfgFile (or ./tsforecast.yaml when empty) into a fresh viper
// instance. Environment variables prefixed TSFORECAST_ override file values,
// with dots in keys replaced by underscores.
func Load(cfgFile string) (*Config, error) {
	return LoadFrom(viper.New(), cfgFile)
}

// LoadFrom is Load on a caller-provided viper, so command flags bound to v
// take precedence over the file and environment.
func LoadFrom(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(constants.AppName)
		v.SetConfigType("yaml")
	}

	if err := loadEnvFile(EnvFile); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
				"error reading config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			"error unmarshaling config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section that has invariants
func (c *Config) Validate() error {
	// Any valid feature width will do; only the architecture is checked here.
	candidate := c.Model.ForecastConfig(constants.NumLagFeatures + constants.NumCategoricalColumns)
	if err := candidate.Validate(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig, "invalid model config")
	}
	if err := c.Training.Validate(); err != nil {
		return err
	}
	if c.Inference.NumSamples <= 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "inference.num_samples must be positive")
	}
	if _, err := c.Logging.NewLogger(); err != nil {
		return err
	}
	switch c.Storage.Checkpoint.Backend {
	case "local", "s3":
	default:
		return errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("unknown checkpoint backend %q, want local or s3", c.Storage.Checkpoint.Backend))
	}
	return c.Server.Validate()
}

// SetDefaults registers every key with its default so that env overrides
// are honoured by Unmarshal.
func SetDefaults(v *viper.Viper) {
	model := forecast.DefaultConfig(0)
	v.SetDefault("model.hidden_size", model.HiddenSize)
	v.SetDefault("model.num_layers", model.NumLayers)
	v.SetDefault("model.shop_embedding_dim", model.ShopEmbeddingDim)
	v.SetDefault("model.item_embedding_dim", model.ItemEmbeddingDim)
	v.SetDefault("model.num_shops", model.NumShops)
	v.SetDefault("model.num_items", model.NumItems)
	v.SetDefault("model.distribution", model.Distribution)
	v.SetDefault("model.seed", model.Seed)

	train := training.DefaultConfig()
	v.SetDefault("training.run_id", "")
	v.SetDefault("training.batch_size", train.BatchSize)
	v.SetDefault("training.epochs", train.Epochs)
	v.SetDefault("training.learning_rate", train.LearningRate)
	v.SetDefault("training.seed", train.Seed)
	v.SetDefault("training.use_accelerator", false)

	v.SetDefault("inference.num_samples", constants.DefaultNumSamples)
	v.SetDefault("inference.seed", constants.DefaultSeed)

	synth := dataset.DefaultSynthConfig()
	v.SetDefault("synth.num_series", synth.NumSeries)
	v.SetDefault("synth.length", synth.Length)
	v.SetDefault("synth.horizon", synth.Horizon)
	v.SetDefault("synth.num_shops", synth.NumShops)
	v.SetDefault("synth.num_items", synth.NumItems)
	v.SetDefault("synth.base_level", synth.BaseLevel)
	v.SetDefault("synth.weekly_amplitude", synth.WeeklyAmplitude)
	v.SetDefault("synth.trend", synth.Trend)
	v.SetDefault("synth.dispersion", synth.Dispersion)
	v.SetDefault("synth.seed", synth.Seed)

	v.SetDefault("logging.level", constants.DefaultLogLevel)
	v.SetDefault("logging.format", constants.DefaultLogFormat)

	prom := metrics.DefaultPrometheusConfig()
	v.SetDefault("metrics.enabled", prom.Enabled)
	v.SetDefault("metrics.path", prom.Path)
	v.SetDefault("metrics.namespace", prom.Namespace)
	v.SetDefault("metrics.runtime_collectors", prom.RuntimeCollectors)

	v.SetDefault("storage.checkpoint.backend", constants.DefaultCheckpointBackend)
	v.SetDefault("storage.checkpoint.path", constants.DefaultCheckpointPath)
	v.SetDefault("storage.checkpoint.s3.region", "us-east-1")
	v.SetDefault("storage.checkpoint.s3.bucket", "")
	v.SetDefault("storage.checkpoint.s3.prefix", constants.AppName)
	v.SetDefault("storage.checkpoint.s3.endpoint", "")
	v.SetDefault("storage.checkpoint.s3.access_key_id", "")
	v.SetDefault("storage.checkpoint.s3.secret_access_key", "")
	v.SetDefault("storage.checkpoint.s3.force_path_style", false)
	v.SetDefault("storage.checkpoint.s3.timeout", constants.DefaultStorageTimeout)
	v.SetDefault("storage.checkpoint.s3.max_retries", 3)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.ttl", constants.DefaultForecastTTL)
	v.SetDefault("redis.key_prefix", constants.AppName)

	v.SetDefault("influxdb.enabled", false)
	v.SetDefault("influxdb.url", "http://localhost:8086")
	v.SetDefault("influxdb.token", "")
	v.SetDefault("influxdb.organization", constants.AppName)
	v.SetDefault("influxdb.bucket", "forecasts")
	v.SetDefault("influxdb.timeout", constants.DefaultStorageTimeout)
	v.SetDefault("influxdb.interval", 24*time.Hour)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", constants.AppName)
	v.SetDefault("postgres.username", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.connect_timeout", 10*time.Second)
	v.SetDefault("postgres.query_timeout", constants.DefaultStorageTimeout)
	v.SetDefault("postgres.max_connections", 5)

	srv := server.NewDefaultConfig()
	v.SetDefault("server.host", srv.Host)
	v.SetDefault("server.port", srv.Port)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.idle_timeout", srv.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", srv.ShutdownTimeout)
	v.SetDefault("server.max_request_size", srv.MaxRequestSize)
	v.SetDefault("server.request_timeout", srv.RequestTimeout)
	v.SetDefault("server.enable_cors", srv.EnableCORS)
}

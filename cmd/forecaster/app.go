package main

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/inferloop/tsforecast/internal/config"
	"github.com/inferloop/tsforecast/internal/dataset"
	"github.com/inferloop/tsforecast/internal/forecast"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/internal/storage"
	"github.com/inferloop/tsforecast/internal/storage/implementations/influxdb"
	"github.com/inferloop/tsforecast/internal/storage/implementations/memory"
	"github.com/inferloop/tsforecast/internal/storage/implementations/postgres"
	"github.com/inferloop/tsforecast/internal/storage/implementations/redis"
	"github.com/inferloop/tsforecast/internal/storage/interfaces"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// viperKey annotates a flag with the config key it overrides
const viperKey = "viper_key"

// app holds what every command shares once configuration is loaded
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *logrus.Logger
}

// bindFlag marks a flag as overriding a config key. Binding happens in init
// so that commands sharing a key do not steal each other's flags.
func bindFlag(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, viperKey, []string{key}); err != nil {
		panic(err)
	}
}

func (a *app) init(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if keys, ok := f.Annotations[viperKey]; ok && bindErr == nil {
			bindErr = a.v.BindPFlag(keys[0], f)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	cfg, err := config.LoadFrom(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		return err
	}
	logger.SetOutput(cmd.ErrOrStderr())
	if used := a.v.ConfigFileUsed(); used != "" {
		logger.WithField("file", used).Debug("Using config file")
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

// modelStore connects the configured checkpoint backend
func (a *app) modelStore(ctx context.Context) (*storage.ModelStore, storage.BlobBackend, error) {
	blobs, err := storage.NewFactory(a.logger).CreateStorage(ctx, &a.cfg.Storage.Checkpoint)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewModelStore(blobs, a.logger), blobs, nil
}

// loadModel restores a run's checkpoint, recording the load in pm when set.
// The store stays connected until the caller closes the backend.
func (a *app) loadModel(ctx context.Context, runID string, pm *metrics.PrometheusMetrics) (*forecast.Model, *storage.ModelStore, storage.BlobBackend, error) {
	if runID == "" {
		return nil, nil, nil, errors.NewValidationError(errors.CodeInvalidInput, "--run-id is required")
	}
	store, blobs, err := a.modelStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	var model *forecast.Model
	err = timed(pm, blobs.Type(), "load", func() error {
		model, err = store.LoadModel(ctx, runID)
		return err
	})
	if err != nil {
		blobs.Close()
		return nil, nil, nil, err
	}
	return model, store, blobs, nil
}

// prometheus returns nil when metrics are disabled
func (a *app) prometheus() (*metrics.PrometheusMetrics, error) {
	if !a.cfg.Metrics.Enabled {
		return nil, nil
	}
	return metrics.NewPrometheusMetrics(&a.cfg.Metrics, a.logger)
}

// influx returns a connected writer, or nil when InfluxDB is disabled
func (a *app) influx(ctx context.Context) (*influxdb.InfluxDBStorage, error) {
	if !a.cfg.InfluxDB.Enabled {
		return nil, nil
	}
	s, err := influxdb.NewInfluxDBStorage(&a.cfg.InfluxDB, a.logger)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// registry returns a connected run registry, or nil when Postgres is disabled
func (a *app) registry(ctx context.Context) (*postgres.RunRegistry, error) {
	if !a.cfg.Postgres.Enabled {
		return nil, nil
	}
	r, err := postgres.NewRunRegistry(&a.cfg.Postgres, a.logger)
	if err != nil {
		return nil, err
	}
	if err := r.Connect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// forecastCache is Redis when enabled, otherwise an in-process cache. The
// second return is non-nil only for Redis, for health checks.
func (a *app) forecastCache(ctx context.Context) (interfaces.Cache, *redis.RedisCache, error) {
	if !a.cfg.Redis.Enabled {
		a.logger.Info("Redis disabled, caching forecasts in memory")
		return memory.NewCache(a.cfg.Redis.TTL), nil, nil
	}
	rc, err := redis.NewRedisCache(&a.cfg.Redis, a.logger)
	if err != nil {
		return nil, nil, err
	}
	if err := rc.Connect(ctx); err != nil {
		return nil, nil, err
	}
	return rc, rc, nil
}

// samplingSource seeds the rollout sampler from the inference section
func (a *app) samplingSource() rand.Source {
	seed := a.cfg.Inference.Seed
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

func (a *app) loadDataset(path string) (*dataset.File, error) {
	if path == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "--data is required")
	}
	f, err := dataset.LoadFile(path)
	if err != nil {
		return nil, err
	}
	a.logger.WithFields(logrus.Fields{
		"path":    path,
		"series":  len(f.X),
		"rollout": f.HasRollout(),
	}).Debug("Loaded dataset")
	return f, nil
}

// timed runs op and records it as a storage operation when pm is set
func timed(pm *metrics.PrometheusMetrics, backend, operation string, op func() error) error {
	start := time.Now()
	err := op()
	if pm != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		pm.RecordStorageOperation(backend, operation, status, time.Since(start))
	}
	return err
}

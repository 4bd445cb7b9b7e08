package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/internal/observability/health"
	"github.com/inferloop/tsforecast/internal/server"
	"github.com/inferloop/tsforecast/pkg/constants"
)

type serveOptions struct {
	RunID string
}

func newServeCmd(a *app) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve forecasts of a stored model over HTTP",
		Long: `Load the checkpoint of a run and serve forecasts over HTTP until
interrupted. Forecast results are kept in Redis when it is enabled and in
memory otherwise.`,
		Example: `  forecaster serve --run-id baseline --port 8080
  curl -X POST localhost:8080/v1/forecasts -d @rollout.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "Run whose checkpoint to serve")
	cmd.Flags().String("host", "", "Listen host")
	cmd.Flags().Int("port", 0, "Listen port")
	bindFlag(cmd.Flags(), "host", "server.host")
	bindFlag(cmd.Flags(), "port", "server.port")
	addSamplingFlags(cmd)

	return cmd
}

func runServe(cmd *cobra.Command, a *app, opts *serveOptions) error {
	ctx := cmd.Context()

	pm, err := a.prometheus()
	if err != nil {
		return err
	}
	model, store, blobs, err := a.loadModel(ctx, opts.RunID, pm)
	if err != nil {
		return err
	}
	defer blobs.Close()
	if pm != nil {
		pm.SetModelParameters(model.NumParameters())
	}

	cache, rc, err := a.forecastCache(ctx)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
	}

	monitor := health.NewHealthMonitor(constants.DefaultHealthCheckTimeout, a.logger)
	if rc != nil {
		monitor.RegisterCheck(health.HealthCheck{Name: "redis", Func: rc.Ping})
	}
	monitor.RegisterCheck(health.HealthCheck{
		Name: "checkpoints",
		Func: func(ctx context.Context) error {
			ok, err := store.HasModel(ctx, opts.RunID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("checkpoint of run %s is gone", opts.RunID)
			}
			return nil
		},
	})

	forecasts, err := server.NewForecastService(model, opts.RunID, cache, server.ServiceConfig{
		NumSamples: a.cfg.Inference.NumSamples,
		Seed:       a.cfg.Inference.Seed,
		TTL:        a.cfg.Redis.TTL,
	}, pm, a.logger)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(&a.cfg.Server, forecasts, server.Options{
		Metrics:     pm,
		MetricsPath: a.cfg.Metrics.Path,
		Health:      monitor,
	}, a.logger)
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"run_id":  opts.RunID,
		"address": a.cfg.Server.GetAddress(),
		"cache":   cacheKind(rc != nil),
	}).Info("Serving forecasts")
	return srv.Start(ctx)
}

func cacheKind(redis bool) string {
	if redis {
		return "redis"
	}
	return "memory"
}

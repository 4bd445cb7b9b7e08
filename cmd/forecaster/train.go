package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/internal/forecast"
	"github.com/inferloop/tsforecast/internal/storage/implementations/influxdb"
	"github.com/inferloop/tsforecast/internal/storage/implementations/postgres"
	"github.com/inferloop/tsforecast/internal/training"
	"github.com/inferloop/tsforecast/internal/visualization"
	"github.com/inferloop/tsforecast/pkg/constants"
)

type trainOptions struct {
	Data     string
	LossPlot string
}

func newTrainCmd(a *app) *cobra.Command {
	opts := &trainOptions{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model and store its checkpoint",
		Long: `Train the LSTM on the training tensors of a dataset file with minibatch
Adam, then store the checkpoint and loss history under the run id. Training
never forecasts; use predict or evaluate on the stored run.`,
		Example: `  forecaster train --data data/sales.json.gz --epochs 20 --distribution negbin
  TSFORECAST_TRAINING_BATCH_SIZE=32 forecaster train --data data/sales.json.gz --run-id baseline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, a, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "Dataset file written by synth")
	cmd.Flags().StringVar(&opts.LossPlot, "loss-plot", "", "Also write the loss curve PNG here")
	cmd.Flags().String("run-id", "", "Run id (default is a new UUID)")
	cmd.Flags().Int("epochs", 0, "Passes over the training set")
	cmd.Flags().Int("batch-size", 0, "Series per minibatch")
	cmd.Flags().Float64("learning-rate", 0, "Adam learning rate")
	cmd.Flags().Uint64("seed", 0, "Shuffle seed")
	cmd.Flags().String("distribution", "", "Output head (negbin, gaussian)")
	cmd.Flags().Int("hidden-size", 0, "LSTM hidden units")
	cmd.Flags().Bool("use-accelerator", false, "Request an accelerator backend")
	bindFlag(cmd.Flags(), "run-id", "training.run_id")
	bindFlag(cmd.Flags(), "epochs", "training.epochs")
	bindFlag(cmd.Flags(), "batch-size", "training.batch_size")
	bindFlag(cmd.Flags(), "learning-rate", "training.learning_rate")
	bindFlag(cmd.Flags(), "seed", "training.seed")
	bindFlag(cmd.Flags(), "distribution", "model.distribution")
	bindFlag(cmd.Flags(), "hidden-size", "model.hidden_size")
	bindFlag(cmd.Flags(), "use-accelerator", "training.use_accelerator")

	return cmd
}

func runTrain(cmd *cobra.Command, a *app, opts *trainOptions) error {
	ctx := cmd.Context()

	file, err := a.loadDataset(opts.Data)
	if err != nil {
		return err
	}
	data, err := file.Training()
	if err != nil {
		return err
	}

	model, err := forecast.NewModel(a.cfg.Model.ForecastConfig(data.FeatureSize()), a.logger)
	if err != nil {
		return err
	}

	pm, err := a.prometheus()
	if err != nil {
		return err
	}
	var observers []training.Observer
	if pm != nil {
		pm.SetModelParameters(model.NumParameters())
		observers = append(observers, pm)
	}

	influx, err := a.influx(ctx)
	if err != nil {
		return err
	}
	if influx != nil {
		defer influx.Close()
		observers = append(observers, lossWriter(influx, a.cfg.Model.Distribution, a.logger))
	}

	trainer, err := training.NewTrainer(&a.cfg.Training, a.logger, observers...)
	if err != nil {
		return err
	}
	runID := trainer.RunID()

	registry, err := a.registry(ctx)
	if err != nil {
		return err
	}
	if registry != nil {
		defer registry.Close()
		err := registry.StartRun(ctx, &postgres.Run{
			ID:           runID,
			Distribution: a.cfg.Model.Distribution,
			HiddenSize:   a.cfg.Model.HiddenSize,
			Epochs:       a.cfg.Training.Epochs,
			BatchSize:    a.cfg.Training.BatchSize,
			LearningRate: a.cfg.Training.LearningRate,
			Status:       constants.RunStatusRunning,
			StartedAt:    time.Now().UTC(),
		})
		if err != nil {
			return err
		}
	}

	history, trainErr := trainer.Train(ctx, model, data)
	if trainErr != nil {
		if registry != nil {
			// The run may have been interrupted, so record the failure on a fresh context.
			if err := registry.FinishRun(context.WithoutCancel(ctx), runID, constants.RunStatusFailed, nil, ""); err != nil {
				a.logger.WithError(err).Warn("Failed to record failed run")
			}
		}
		return trainErr
	}

	store, blobs, err := a.modelStore(ctx)
	if err != nil {
		return err
	}
	defer blobs.Close()

	var key string
	err = timed(pm, blobs.Type(), "save", func() error {
		key, err = store.SaveModel(ctx, runID, model)
		return err
	})
	if err != nil {
		return err
	}
	if err := store.SaveHistory(ctx, runID, history); err != nil {
		a.logger.WithError(err).Warn("Failed to store training history")
	}

	finalLoss := history.FinalLoss()
	if registry != nil {
		var loss *float64
		if !math.IsNaN(finalLoss) {
			loss = &finalLoss
		}
		if err := registry.FinishRun(ctx, runID, constants.RunStatusCompleted, loss, key); err != nil {
			return err
		}
	}

	if opts.LossPlot != "" {
		charts := visualization.NewCharts(visualization.DefaultChartOptions(), a.logger)
		if err := charts.LossChart(history, opts.LossPlot); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:        %s\n", runID)
	fmt.Fprintf(out, "Final loss: %.6f\n", finalLoss)
	fmt.Fprintf(out, "Checkpoint: %s (%s)\n", key, blobs.Type())
	return nil
}

// lossWriter streams every batch loss to InfluxDB
func lossWriter(influx *influxdb.InfluxDBStorage, distribution string, logger *logrus.Logger) training.Observer {
	return training.ObserverFuncs{
		Batch: func(ctx context.Context, r training.BatchResult) {
			if err := influx.WriteTrainingLoss(ctx, r.RunID, distribution, r.Epoch, r.Batch, r.Loss, time.Now()); err != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"epoch": r.Epoch,
					"batch": r.Batch,
				}).Warn("Failed to write training loss")
			}
		},
	}
}

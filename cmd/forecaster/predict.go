package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/internal/dataset"
	"github.com/inferloop/tsforecast/internal/export"
	"github.com/inferloop/tsforecast/internal/forecast"
	"github.com/inferloop/tsforecast/internal/visualization"
	"github.com/inferloop/tsforecast/pkg/constants"
)

type predictOptions struct {
	Data         string
	RunID        string
	Output       string
	Format       string
	EncodeLength int
	Start        string
	Plot         string
}

func newPredictCmd(a *app) *cobra.Command {
	opts := &predictOptions{}

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Forecast with a stored model and write a submission",
		Long: `Forecast the horizon of a dataset with the checkpoint of a run. When the
dataset carries raw series with covariates past their sales, those future
steps are forecast; otherwise the stored rollout is. Values are rounded to
the nearest integer before writing.`,
		Example: `  forecaster predict --data data/sales.json.gz --run-id baseline --out submission.csv
  forecaster predict --data data/sales.json.gz --run-id baseline --format json --out -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, a, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "Dataset file written by synth")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "Run whose checkpoint to use")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "submission.csv", "Output file (- for stdout)")
	cmd.Flags().StringVar(&opts.Format, "format", string(export.FormatCSV), "Output format (csv, json)")
	cmd.Flags().IntVar(&opts.EncodeLength, "encode-length", constants.MaxLagWindow, "Encoder steps when building from raw series")
	cmd.Flags().StringVar(&opts.Start, "start", "", "Timestamp of the first forecast step for InfluxDB (RFC3339, default today)")
	cmd.Flags().StringVar(&opts.Plot, "plot", "", "Also write the forecast PNG here")
	addSamplingFlags(cmd)

	return cmd
}

func addSamplingFlags(cmd *cobra.Command) {
	cmd.Flags().Int("samples", 0, "Sample paths averaged per forecast")
	cmd.Flags().Uint64("sample-seed", 0, "Sampling seed")
	bindFlag(cmd.Flags(), "samples", "inference.num_samples")
	bindFlag(cmd.Flags(), "sample-seed", "inference.seed")
}

func runPredict(cmd *cobra.Command, a *app, opts *predictOptions) error {
	ctx := cmd.Context()

	exporter, err := export.NewExporter(export.ExportFormat(opts.Format))
	if err != nil {
		return err
	}
	start := time.Now().UTC().Truncate(24 * time.Hour)
	if opts.Start != "" {
		if start, err = time.Parse(time.RFC3339, opts.Start); err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
	}

	file, err := a.loadDataset(opts.Data)
	if err != nil {
		return err
	}
	in, err := forecastInput(file, opts.EncodeLength)
	if err != nil {
		return err
	}

	model, _, blobs, err := a.loadModel(ctx, opts.RunID, nil)
	if err != nil {
		return err
	}
	defer blobs.Close()

	mean, err := model.ForecastMean(ctx, in, a.cfg.Inference.NumSamples, a.samplingSource())
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if opts.Output != "-" {
		if dir := filepath.Dir(opts.Output); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		fh, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", opts.Output, err)
		}
		defer fh.Close()
		w = fh
	}
	if err := exporter.Export(ctx, w, mean, export.ExportOptions{Round: true, Pretty: true}); err != nil {
		return err
	}

	influx, err := a.influx(ctx)
	if err != nil {
		return err
	}
	if influx != nil {
		defer influx.Close()
		if err := influx.WriteForecast(ctx, opts.RunID, start, mean); err != nil {
			return err
		}
	}

	if opts.Plot != "" {
		charts := visualization.NewCharts(visualization.DefaultChartOptions(), a.logger)
		if err := charts.ForecastChart(visualization.ForecastPlot{History: in.EncZ, Forecast: mean}, opts.Plot); err != nil {
			return err
		}
	}

	a.logger.WithFields(logrus.Fields{
		"run_id":  opts.RunID,
		"series":  len(mean),
		"horizon": in.Horizon(),
		"samples": a.cfg.Inference.NumSamples,
		"format":  exporter.Format(),
		"output":  opts.Output,
	}).Info("Forecast written")
	return nil
}

// forecastInput prefers the future steps of the raw series over the stored rollout
func forecastInput(file *dataset.File, encodeLength int) (*forecast.RolloutInput, error) {
	if len(file.Series) > 0 && len(file.Series[0].Covariates) > len(file.Series[0].Sales) {
		return dataset.BuildForecast(file.Series, encodeLength)
	}
	return file.Rollout()
}

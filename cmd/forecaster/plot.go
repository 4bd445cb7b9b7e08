package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/internal/visualization"
)

type plotOptions struct {
	Data      string
	RunID     string
	Output    string
	MaxSeries int
}

func newPlotCmd(a *app) *cobra.Command {
	opts := &plotOptions{}

	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Render the loss curve and holdout forecast of a run",
		Long: `Write loss.png from the stored training history of a run and, when a
dataset with a holdout is given, forecast.png comparing the sample-mean
forecast with the withheld truth.`,
		Example: `  forecaster plot --run-id baseline --data data/sales.json.gz --out plots`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlot(cmd, a, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "Dataset file with a holdout (optional)")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "Run to plot")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "plots", "Output directory")
	cmd.Flags().IntVar(&opts.MaxSeries, "max-series", 0, "Series drawn on the forecast chart (default 4)")
	addSamplingFlags(cmd)

	return cmd
}

func runPlot(cmd *cobra.Command, a *app, opts *plotOptions) error {
	ctx := cmd.Context()

	chartOpts := visualization.DefaultChartOptions()
	if opts.MaxSeries > 0 {
		chartOpts.MaxSeries = opts.MaxSeries
	}
	charts := visualization.NewCharts(chartOpts, a.logger)

	model, store, blobs, err := a.loadModel(ctx, opts.RunID, nil)
	if err != nil {
		return err
	}
	defer blobs.Close()

	out := cmd.OutOrStdout()
	history, err := store.LoadHistory(ctx, opts.RunID)
	if err != nil {
		return err
	}
	lossPath := filepath.Join(opts.Output, "loss.png")
	if err := charts.LossChart(history, lossPath); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", lossPath)

	if opts.Data == "" {
		return nil
	}
	file, err := a.loadDataset(opts.Data)
	if err != nil {
		return err
	}
	in, truth, err := holdout(file)
	if err != nil {
		return err
	}
	mean, err := model.ForecastMean(ctx, in, a.cfg.Inference.NumSamples, a.samplingSource())
	if err != nil {
		return err
	}
	forecastPath := filepath.Join(opts.Output, "forecast.png")
	err = charts.ForecastChart(visualization.ForecastPlot{History: in.EncZ, Forecast: mean, Truth: truth}, forecastPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", forecastPath)
	return nil
}

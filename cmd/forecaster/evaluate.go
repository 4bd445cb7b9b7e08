package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/internal/dataset"
	"github.com/inferloop/tsforecast/internal/evaluation"
	"github.com/inferloop/tsforecast/internal/forecast"
	"github.com/inferloop/tsforecast/pkg/errors"
)

type evaluateOptions struct {
	Data   string
	RunID  string
	Report string
}

func newEvaluateCmd(a *app) *cobra.Command {
	opts := &evaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a stored model on the dataset holdout",
		Long: `Forecast the holdout rollout of a dataset with the checkpoint of a run and
report RMSE, SMAPE and MAE of the sample-mean forecast against the withheld
truth.`,
		Example: `  forecaster evaluate --data data/sales.json.gz --run-id baseline --samples 20`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, a, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "Dataset file with a holdout")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "Run whose checkpoint to score")
	cmd.Flags().StringVar(&opts.Report, "report", "", "Also write the report as JSON here")
	addSamplingFlags(cmd)

	return cmd
}

func runEvaluate(cmd *cobra.Command, a *app, opts *evaluateOptions) error {
	ctx := cmd.Context()

	file, err := a.loadDataset(opts.Data)
	if err != nil {
		return err
	}
	in, truth, err := holdout(file)
	if err != nil {
		return err
	}

	model, _, blobs, err := a.loadModel(ctx, opts.RunID, nil)
	if err != nil {
		return err
	}
	defer blobs.Close()

	report, err := evaluation.NewEvaluator(a.logger).Evaluate(ctx, model, in, truth, a.cfg.Inference.NumSamples, a.samplingSource())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "RMSE:  %.4f\n", report.RMSE)
	fmt.Fprintf(out, "SMAPE: %.4f\n", report.SMAPE)
	fmt.Fprintf(out, "MAE:   %.4f\n", report.MAE)
	fmt.Fprintf(out, "Series %d, horizon %d, samples %d\n", report.Series, report.Horizon, report.Samples)

	if opts.Report != "" {
		payload, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.Report, payload, 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	return nil
}

// holdout returns the stored rollout and its truth
func holdout(file *dataset.File) (*forecast.RolloutInput, [][]float64, error) {
	in, err := file.Rollout()
	if err != nil {
		return nil, nil, err
	}
	if len(file.DecZ) == 0 {
		return nil, nil, errors.NewValidationError(errors.CodeEmptyDataset, "dataset rollout has no truth to score against")
	}
	return in, file.DecZ, nil
}

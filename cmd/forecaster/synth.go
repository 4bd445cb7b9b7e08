package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/internal/dataset"
	"github.com/inferloop/tsforecast/pkg/constants"
)

type synthOptions struct {
	Output       string
	Window       int
	EncodeLength int
	Holdout      int
}

func newSynthCmd(a *app) *cobra.Command {
	opts := &synthOptions{}

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate a synthetic sales dataset",
		Long: `Generate negative binomial shop/item sales with a weekly cycle and a
trend, and write the training tensors, a holdout rollout with its truth and
the raw series to one dataset file.`,
		Example: `  # 50 series of 400 days with a 28 day holdout
  forecaster synth --num-series 50 --length 400 --holdout 28 --out data/sales.json.gz`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSynth(cmd, a, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "out", "o", "data/sales.json.gz", "Output dataset file (.gz to compress)")
	cmd.Flags().IntVar(&opts.Window, "window", 60, "Training steps per series")
	cmd.Flags().IntVar(&opts.EncodeLength, "encode-length", constants.MaxLagWindow, "Encoder steps of the holdout rollout")
	cmd.Flags().IntVar(&opts.Holdout, "holdout", 30, "Trailing observations withheld as rollout truth")
	cmd.Flags().Int("num-series", 0, "Number of series")
	cmd.Flags().Int("length", 0, "Observed steps per series")
	cmd.Flags().Int("horizon", 0, "Covariate-only steps past the history")
	cmd.Flags().Uint64("seed", 0, "Generator seed")
	bindFlag(cmd.Flags(), "num-series", "synth.num_series")
	bindFlag(cmd.Flags(), "length", "synth.length")
	bindFlag(cmd.Flags(), "horizon", "synth.horizon")
	bindFlag(cmd.Flags(), "seed", "synth.seed")

	return cmd
}

func runSynth(cmd *cobra.Command, a *app, opts *synthOptions) error {
	series, err := dataset.NewGenerator(&a.cfg.Synth, a.logger).Generate(cmd.Context())
	if err != nil {
		return err
	}

	// Train only on what precedes the holdout so evaluation never sees its truth.
	observed := make([]dataset.Series, len(series))
	for i, s := range series {
		if len(s.Sales) <= opts.Holdout {
			return fmt.Errorf("series %d has %d observations, holdout is %d", i, len(s.Sales), opts.Holdout)
		}
		s.Sales = s.Sales[:len(s.Sales)-opts.Holdout]
		observed[i] = s
	}
	train, err := dataset.BuildTraining(observed, opts.Window)
	if err != nil {
		return err
	}

	file := &dataset.File{X: train.X, Z: train.Z, V: train.V, Series: series}
	if opts.Holdout > 0 {
		in, truth, err := dataset.BuildHoldout(series, opts.EncodeLength, opts.Holdout)
		if err != nil {
			return err
		}
		file.SetRollout(in, truth)
	}

	if dir := filepath.Dir(opts.Output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := dataset.SaveFile(opts.Output, file); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"path":     opts.Output,
		"series":   train.Len(),
		"window":   opts.Window,
		"features": train.FeatureSize(),
		"holdout":  opts.Holdout,
	}).Info("Dataset written")
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d series to %s\n", train.Len(), opts.Output)
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inferloop/tsforecast/pkg/constants"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "forecaster",
		Short: constants.AppDescription,
		Long: `Train, evaluate and serve a probabilistic autoregressive LSTM that
forecasts daily shop/item sales with a negative binomial or Gaussian head.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./tsforecast.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
	bindFlag(rootCmd.PersistentFlags(), "log-level", "logging.level")
	bindFlag(rootCmd.PersistentFlags(), "log-format", "logging.format")

	rootCmd.AddCommand(newSynthCmd(a))
	rootCmd.AddCommand(newTrainCmd(a))
	rootCmd.AddCommand(newPredictCmd(a))
	rootCmd.AddCommand(newEvaluateCmd(a))
	rootCmd.AddCommand(newPlotCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newRunsCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

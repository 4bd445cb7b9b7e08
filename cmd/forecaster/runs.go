package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/internal/storage/implementations/postgres"
)

type runsOptions struct {
	Limit int
}

func newRunsCmd(a *app) *cobra.Command {
	opts := &runsOptions{}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored training runs",
		Long: `List the runs with a checkpoint in the configured store. When the Postgres
run registry is enabled, its records are listed instead, including runs that
failed before a checkpoint was written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd, a, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Maximum registry rows")

	return cmd
}

func runRuns(cmd *cobra.Command, a *app, opts *runsOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	registry, err := a.registry(ctx)
	if err != nil {
		return err
	}
	if registry != nil {
		defer registry.Close()
		runs, err := registry.ListRuns(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return printRegistry(cmd, runs)
	}

	store, blobs, err := a.modelStore(ctx)
	if err != nil {
		return err
	}
	defer blobs.Close()

	ids, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No runs")
		return nil
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func printRegistry(cmd *cobra.Command, runs []*postgres.Run) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tDISTRIBUTION\tHIDDEN\tEPOCHS\tFINAL LOSS\tSTARTED")
	for _, r := range runs {
		loss := "-"
		if r.FinalLoss != nil {
			loss = fmt.Sprintf("%.6f", *r.FinalLoss)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status, r.Distribution, r.HiddenSize, r.Epochs, loss, r.StartedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

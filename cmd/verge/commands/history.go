package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
		Long: `Inspect runs recorded in the history database.

Every plan and apply is recorded with its per-resource results; use
"history show" to replay a run's full output.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var (
		workspace string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			store, err := rt.openStore(ctx, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListRuns(ctx, workspace, limit, offset)
			if err != nil {
				return err
			}
			return printRunRecords(records)
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "only show runs for this workspace")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many runs")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			store, err := rt.openStore(ctx, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			return printRun(run)
		},
	}

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var (
		workspace string
		keep      int
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs, keeping the most recent",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			if keep < 0 {
				return fmt.Errorf("--keep must be zero or positive")
			}

			store, err := rt.openStore(ctx, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.PruneRuns(ctx, workspace, keep)
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d run(s), kept the %d most recent\n", removed, keep)
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace to prune")
	cmd.Flags().IntVar(&keep, "keep", 20, "number of recent runs to keep")
	cmd.MarkFlagRequired("workspace")

	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"whispertune/internal/store"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded fine-tuning runs",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				if runs == nil {
					runs = []store.Run{}
				}
				return writeJSON(cmd, runs)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					shortID(run.ID),
					string(run.Status),
					formatWER(run.BestWER),
					run.RepoID,
					formatTimestamp(run.CreatedAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]column{textCol("ID"), textCol("Status"), numCol("Best WER"), textCol("Repository"), textCol("Created")},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show [run]",
		Short: "Show a run with its evaluations and publications",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := ctx.workflow()
			if err != nil {
				return err
			}
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			report, err := wf.Report(cmd.Context(), ref)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}

			run := report.Run
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:             %s\n", run.ID)
			fmt.Fprintf(out, "Status:          %s\n", run.Status)
			fmt.Fprintf(out, "Created:         %s\n", formatTimestamp(run.CreatedAt))
			fmt.Fprintf(out, "Updated:         %s\n", formatTimestamp(run.UpdatedAt))
			fmt.Fprintf(out, "Output dir:      %s\n", run.OutputDir)
			fmt.Fprintf(out, "Repository:      %s\n", run.RepoID)
			fmt.Fprintf(out, "Best checkpoint: %s\n", run.BestCheckpoint)
			fmt.Fprintf(out, "Best WER:        %s\n", formatWER(run.BestWER))
			switch {
			case run.Status == store.RunFailed:
				fmt.Fprintf(out, "Failure:         %s (%s)\n", run.ErrorMessage, run.FailureKind)
			case run.ErrorMessage != "":
				fmt.Fprintf(out, "Last error:      %s (%s)\n", run.ErrorMessage, run.FailureKind)
			}
			if len(report.Evaluations) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderEvaluations(report.Evaluations, run.BestCheckpoint))
			}
			for _, pub := range report.Publications {
				fmt.Fprintf(out, "Published %s to %s: %s\n", formatTimestamp(pub.CreatedAt), pub.RepoID, pub.CommitURL)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"whispertune/internal/workflow"
)

func newPrepareCommand(ctx *commandContext) *cobra.Command {
	var (
		force      bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Compute log-mel features and labels for the configured splits",
		RunE: func(cmd *cobra.Command, args []string) error {
			progress := newProgressReporter(cmd.ErrOrStderr(), !jsonOutput)
			wf, err := ctx.workflow(
				workflow.WithDownloadProgress(progress.download()),
				workflow.WithPrepareProgress(progress.prepare()),
			)
			if err != nil {
				return err
			}
			reports, err := wf.Prepare(cmd.Context(), force)
			progress.finish()
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, reports)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSplitReports(reports))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-prepare splits even when stored features are current")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderSplitReports(reports []workflow.SplitReport) string {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		duration := "-"
		if !r.Reused {
			duration = r.Duration.Round(1e6).String()
		}
		rows = append(rows, []string{r.Split, strconv.Itoa(r.Examples), yesNo(r.Reused), duration})
	}
	return renderTable([]column{textCol("Split"), numCol("Examples"), textCol("Reused"), numCol("Duration")}, rows)
}

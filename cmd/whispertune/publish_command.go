package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "publish [run]",
		Short: "Push a run's output directory and model card to the hub",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := ctx.workflow()
			if err != nil {
				return err
			}
			client, err := ctx.interactiveHub()
			if err != nil {
				return err
			}
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			result, err := wf.Publish(cmd.Context(), client, ref)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Repository: %s\n", result.RepoURL)
			fmt.Fprintf(out, "Commit:     %s\n", result.CommitURL)
			fmt.Fprintf(out, "Files:      %d\n", len(result.Files))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

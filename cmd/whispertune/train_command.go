package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"whispertune/internal/hub"
	"whispertune/internal/workflow"
)

type trainSummary struct {
	RunID          string   `json:"run_id"`
	Status         string   `json:"status"`
	OutputDir      string   `json:"output_dir"`
	Plan           string   `json:"plan"`
	Steps          int      `json:"steps"`
	BestCheckpoint string   `json:"best_checkpoint,omitempty"`
	BestWER        *float64 `json:"best_wer,omitempty"`
	RepoURL        string   `json:"repo_url,omitempty"`
	CommitURL      string   `json:"commit_url,omitempty"`
}

func newTrainCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Prepare data if needed and run the training runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			progress := newProgressReporter(cmd.ErrOrStderr(), !jsonOutput)
			wf, err := ctx.workflow(
				workflow.WithDownloadProgress(progress.download()),
				workflow.WithPrepareProgress(progress.prepare()),
			)
			if err != nil {
				return err
			}
			result, err := wf.Train(cmd.Context())
			progress.finish()
			if err != nil {
				return err
			}
			summary := summarizeTraining(result, nil)
			if jsonOutput {
				return writeJSON(cmd, summary)
			}
			printTrainSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Prepare, train and publish in one step",
		Long: "Prepare the configured splits, train, and push the output directory to the hub " +
			"when training.push_to_hub is enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			progress := newProgressReporter(cmd.ErrOrStderr(), !jsonOutput)
			wf, err := ctx.workflow(
				workflow.WithDownloadProgress(progress.download()),
				workflow.WithPrepareProgress(progress.prepare()),
			)
			if err != nil {
				return err
			}
			var client *hub.Client
			if wf.Config().Training.PushToHub {
				if client, err = ctx.interactiveHub(); err != nil {
					return err
				}
			}
			trained, published, err := wf.Run(cmd.Context(), client)
			progress.finish()
			if err != nil {
				return err
			}
			summary := summarizeTraining(trained, published)
			if trained.Run != nil && published != nil {
				summary.Status = "published"
			}
			if jsonOutput {
				return writeJSON(cmd, summary)
			}
			printTrainSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func summarizeTraining(result workflow.TrainResult, published *hub.PublishResult) trainSummary {
	summary := trainSummary{Plan: result.PlanPath, Steps: result.Steps}
	if run := result.Run; run != nil {
		summary.RunID = run.ID
		summary.Status = string(run.Status)
		summary.OutputDir = run.OutputDir
		summary.BestCheckpoint = run.BestCheckpoint
		summary.BestWER = run.BestWER
	}
	if published != nil {
		summary.RepoURL = published.RepoURL
		summary.CommitURL = published.CommitURL
	}
	return summary
}

func printTrainSummary(out io.Writer, s trainSummary) {
	fmt.Fprintf(out, "Run:             %s\n", s.RunID)
	fmt.Fprintf(out, "Status:          %s\n", s.Status)
	fmt.Fprintf(out, "Output dir:      %s\n", s.OutputDir)
	fmt.Fprintf(out, "Steps:           %s\n", strconv.Itoa(s.Steps))
	if s.BestCheckpoint != "" {
		fmt.Fprintf(out, "Best checkpoint: %s\n", s.BestCheckpoint)
	}
	fmt.Fprintf(out, "Best WER:        %s\n", formatWER(s.BestWER))
	if s.CommitURL != "" {
		fmt.Fprintf(out, "Published:       %s\n", s.CommitURL)
	}
}

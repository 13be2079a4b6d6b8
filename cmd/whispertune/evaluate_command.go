package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"whispertune/internal/metrics"
	"whispertune/internal/store"
)

func newEvaluateCommand(ctx *commandContext) *cobra.Command {
	var (
		references string
		hypotheses string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate [run]",
		Short: "Show a run's WER history or score transcript files",
		Long: "Without transcript flags, print the evaluations recorded for a run (the latest run by default).\n" +
			"With --references and --hypotheses, compute the corpus WER of two files holding one transcript per line.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if references != "" || hypotheses != "" {
				if references == "" || hypotheses == "" {
					return errors.New("--references and --hypotheses must be given together")
				}
				return scoreTranscripts(cmd, references, hypotheses, jsonOutput)
			}

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
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s (%s), best WER %s\n", report.Run.ID, report.Run.Status, formatWER(report.Run.BestWER))
			if len(report.Evaluations) == 0 {
				fmt.Fprintln(out, "No evaluations recorded")
				return nil
			}
			fmt.Fprintln(out, renderEvaluations(report.Evaluations, report.Run.BestCheckpoint))
			return nil
		},
	}

	cmd.Flags().StringVar(&references, "references", "", "File with one reference transcript per line")
	cmd.Flags().StringVar(&hypotheses, "hypotheses", "", "File with one predicted transcript per line")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

type scoreOutput struct {
	Transcripts int     `json:"transcripts"`
	WER         float64 `json:"wer"`
}

func scoreTranscripts(cmd *cobra.Command, referencesPath, hypothesesPath string, jsonOutput bool) error {
	refs, err := readLines(referencesPath)
	if err != nil {
		return err
	}
	hyps, err := readLines(hypothesesPath)
	if err != nil {
		return err
	}
	wer, err := metrics.WordErrorRate(refs, hyps)
	if err != nil {
		return fmt.Errorf("score transcripts: %w", err)
	}
	result := scoreOutput{Transcripts: len(refs), WER: 100 * wer}
	if jsonOutput {
		return writeJSON(cmd, result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Transcripts: %d\nWER:         %.2f\n", result.Transcripts, result.WER)
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return scanLines(f)
}

func scanLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func renderEvaluations(evals []store.Evaluation, best string) string {
	rows := make([][]string, 0, len(evals))
	for _, ev := range evals {
		marker := ""
		if best != "" && ev.Checkpoint == best {
			marker = "*"
		}
		wer := ev.WER
		rows = append(rows, []string{strconv.Itoa(ev.Step), formatWER(&wer), ev.Checkpoint, marker})
	}
	return renderTable([]column{numCol("Step"), numCol("WER"), textCol("Checkpoint"), textCol("Best")}, rows)
}

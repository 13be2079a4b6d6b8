package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"whispertune/internal/fileutil"
	"whispertune/internal/textprep"
)

type preprocessOutput struct {
	Vocabulary map[string]int `json:"vocabulary"`
	Sequences  [][]int        `json:"sequences"`
	Padded     [][]int        `json:"padded"`
}

func newPreprocessCommand() *cobra.Command {
	var (
		manifest string
		pad      string
		outPath  string
		format   string
		limit    int
	)

	cmd := &cobra.Command{
		Use:         "preprocess [sentence...]",
		Short:       "Clean, tokenize and pad transcripts into an id matrix",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			side, err := textprep.ParsePadSide(pad)
			if err != nil {
				return err
			}
			sentences := append([]string(nil), args...)
			if strings.TrimSpace(manifest) != "" {
				records, err := textprep.ReadManifestFile(manifest)
				if err != nil {
					return err
				}
				sentences = append(sentences, textprep.Sentences(records)...)
			}
			if len(sentences) == 0 && manifest == "" {
				return errors.New("provide --manifest or sentences as arguments")
			}

			result := textprep.Preprocess(sentences, side)
			if outPath != "" {
				payload := preprocessOutput{
					Vocabulary: result.Vocabulary.Index(),
					Sequences:  result.Sequences,
					Padded:     result.Padded,
				}
				if err := fileutil.WriteJSON(outPath, payload); err != nil {
					return fmt.Errorf("write %s: %w", outPath, err)
				}
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				return writeJSON(cmd, preprocessOutput{
					Vocabulary: result.Vocabulary.Index(),
					Sequences:  result.Sequences,
					Padded:     result.Padded,
				})
			case "table":
				fmt.Fprintln(out, renderPaddedTable(result, limit))
			case "", "text":
			default:
				return fmt.Errorf("unknown format %q (use text, table or json)", format)
			}
			fmt.Fprintf(out, "Sentences:       %d\n", len(result.Padded))
			fmt.Fprintf(out, "Vocabulary size: %d\n", result.Vocabulary.Size())
			fmt.Fprintf(out, "Matrix shape:    %d x %d (%s-padded)\n", len(result.Padded), result.Width(), side)
			if outPath != "" {
				fmt.Fprintf(out, "Wrote %s\n", outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifest, "manifest", "m", "", "Tab-separated manifest with path and sentence columns")
	cmd.Flags().StringVar(&pad, "pad", string(textprep.PadPre), "Padding side: pre or post")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write vocabulary, sequences and padded matrix as JSON")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, table or json")
	cmd.Flags().IntVar(&limit, "rows", 20, "Maximum rows rendered by --format table")
	return cmd
}

func renderPaddedTable(result textprep.Result, limit int) string {
	width := result.Width()
	cols := make([]column, 0, width+2)
	cols = append(cols, numCol("#"), textCol("Sentence"))
	for i := range width {
		cols = append(cols, numCol(strconv.Itoa(i)))
	}
	rows := make([][]string, 0, len(result.Padded))
	for i, padded := range result.Padded {
		if limit > 0 && i >= limit {
			break
		}
		row := []string{strconv.Itoa(i + 1), result.Cleaned[i]}
		for _, id := range padded {
			row = append(row, strconv.Itoa(id))
		}
		rows = append(rows, row)
	}
	return renderTable(cols, rows)
}


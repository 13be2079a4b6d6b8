package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"whispertune/internal/preflight"
	"whispertune/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report dependencies, directories, prepared splits and the latest run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var lines []string

			lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
			for _, dep := range preflight.CheckSystemDeps(cfg) {
				kind := statusOK
				message := dep.Path
				switch {
				case !dep.Available && dep.Optional:
					kind, message = statusWarn, dep.Detail
				case !dep.Available:
					kind, message = statusError, dep.Detail
				}
				lines = append(lines, renderStatusLine(dep.Name, kind, message, colorize))
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Preflight", colorize)...)
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, result := range results {
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("State", colorize)...)
			st, err := ctx.openStore()
			if err != nil {
				lines = append(lines, renderStatusLine("State store", statusError, err.Error(), colorize))
			} else {
				splits, err := st.Splits(cmd.Context())
				if err != nil {
					return err
				}
				if len(splits) == 0 {
					lines = append(lines, renderStatusLine("Prepared splits", statusInfo, "none", colorize))
				}
				for _, split := range splits {
					lines = append(lines, renderStatusLine("Split "+split.Split, statusInfo,
						fmt.Sprintf("%d examples, prepared %s", split.Count, formatTimestamp(split.PreparedAt)), colorize))
				}
				latest, err := st.LatestRun(cmd.Context())
				if err != nil {
					return err
				}
				if latest == nil {
					lines = append(lines, renderStatusLine("Latest run", statusInfo, "none", colorize))
				} else {
					kind := statusInfo
					if latest.Status == store.RunFailed {
						kind = statusWarn
					}
					lines = append(lines, renderStatusLine("Latest run", kind,
						fmt.Sprintf("%s %s, best WER %s", shortID(latest.ID), latest.Status, formatWER(latest.BestWER)), colorize))
				}
			}

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			return nil
		},
	}
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/bspstage/internal/journal"
	"github.com/danieljhkim/bspstage/internal/pipeline"
)

var planYAML bool

var planCmd = &cobra.Command{
	Use:   "plan <board>",
	Short: "Show what staging a board would do",
	Long: `Plan every step of the board's pipeline without writing anything.

Merge, remove and reset steps list their operations. Commands are shown but
not started. Steps that depend on output of earlier steps are reported as
skipped.`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeBoards,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := current.loadPipeline()
		if err != nil {
			return err
		}
		driver, err := current.newDriver(true)
		if err != nil {
			return err
		}

		result, err := driver.Run(context.Background(), &pipeline.RunRequest{
			Pipeline: p,
			Board:    args[0],
			Root:     current.paths.Root,
			DryRun:   true,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch {
		case jsonOutput:
			return outputJSON(out, result)
		case planYAML:
			return outputYAML(out, result)
		}

		PrintSection(out, fmt.Sprintf("Plan for %s (%s)", result.Board, result.BoardDir))
		for _, step := range result.Steps {
			title := fmt.Sprintf("%d. %s", step.Index, step.Op)
			if step.Name != "" {
				title += " (" + step.Name + ")"
			}
			_, _ = statusColor(step.Status).Fprintf(out, "%s [%s]\n", title, step.Status)

			switch {
			case step.Status == journal.StatusSkipped:
				PrintEmptyState(out, step.Error)
			case len(step.Operations) > 0:
				PrintOperations(out, step.Operations, 1)
			case step.Detail != "":
				PrintEmptyState(out, step.Detail)
			}
			if len(step.Conflicts) > 0 {
				PrintConflicts(out, step.Conflicts)
			}
		}
		_, _ = fmt.Fprintln(out)
		return nil
	},
}

func init() {
	planCmd.Flags().BoolVar(&planYAML, "yaml", false, "Output in YAML format")
}

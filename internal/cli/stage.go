package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/bspstage/internal/pipeline"
)

var stageCmd = &cobra.Command{
	Use:   "stage <board>",
	Short: "Run the pipeline of a board",
	Long: `Run every step of the board's pipeline in order.

The first failing step aborts the run and leaves the board directory as it
is. Each step is recorded in the board's journal; a successful run also
records the digest of the staged tree.`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeBoards,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, args[0], current.settings.DryRun)
	},
}

func runStage(cmd *cobra.Command, board string, dryRun bool) error {
	p, err := current.loadPipeline()
	if err != nil {
		return err
	}
	driver, err := current.newDriver(dryRun)
	if err != nil {
		return err
	}

	result, err := driver.Run(context.Background(), &pipeline.RunRequest{
		Pipeline: p,
		Board:    board,
		Root:     current.paths.Root,
		DryRun:   dryRun,
	})

	out := cmd.OutOrStdout()
	if jsonOutput {
		if result != nil {
			if jerr := outputJSON(out, result); jerr != nil {
				return jerr
			}
		}
		return err
	}

	if result != nil {
		title := fmt.Sprintf("Staging %s", board)
		if dryRun {
			title = fmt.Sprintf("Plan for %s", board)
		}
		PrintSection(out, title)
		PrintLabelValue(out, "Board dir", result.BoardDir)
		PrintLabelValue(out, "Pipeline", result.Pipeline)
		_, _ = fmt.Fprintln(out)
		PrintSteps(out, result.Steps)
		_, _ = fmt.Fprintln(out)
	}
	if err != nil {
		return err
	}

	if dryRun {
		PrintWarning(out, fmt.Sprintf("Dry run: %s planned, nothing written", PrintCount(len(result.Steps), "step", "steps")))
		return nil
	}
	PrintSuccess(out, fmt.Sprintf("Staged %s (%s, digest %s)",
		board, PrintCount(len(result.Steps), "step", "steps"), shortDigest(result.Digest)))
	return nil
}

// completeBoards completes board names from the pipeline file.
func completeBoards(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if current == nil {
		if err := setup(cmd); err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
	}
	p, err := current.loadPipeline()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return p.BoardNames(), cobra.ShellCompDirectiveNoFileComp
}

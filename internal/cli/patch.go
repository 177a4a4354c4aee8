package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/bspstage/internal/patch"
)

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Edit text files in place",
	Long: `Run a single Text Patch Engine operation outside of a pipeline.

Matching is literal substring matching, never regular expressions. Line
terminators are kept as they are.`,
}

var patchDeleteLinesCmd = &cobra.Command{
	Use:   "delete-lines <file> <needle>...",
	Short: "Delete every line containing any of the needles",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules := make([]patch.Rule, 0, len(args)-1)
		for _, needle := range args[1:] {
			rules = append(rules, patch.DeleteLines(needle))
		}
		results, err := current.patcher().Apply(args[0], rules...)
		return reportPatch(cmd.OutOrStdout(), results, err)
	},
}

var patchReplaceLinesCmd = &cobra.Command{
	Use:   "replace-lines <file> <needle> <replacement>",
	Short: "Replace the needle within the lines containing it",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := current.patcher().ReplaceInMatchingLines(args[0], args[1], args[2])
		return reportPatch(cmd.OutOrStdout(), single(res), err)
	},
}

var patchReplaceTextCmd = &cobra.Command{
	Use:   "replace-text <file> <needle> <replacement>",
	Short: "Replace every occurrence of the needle",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := current.patcher().ReplaceAllOccurrences(args[0], args[1], args[2])
		return reportPatch(cmd.OutOrStdout(), single(res), err)
	},
}

var patchAppendCmd = &cobra.Command{
	Use:   "append <file> <line>...",
	Short: "Append lines to an existing file",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines := make([]string, 0, len(args)-1)
		for _, line := range args[1:] {
			lines = append(lines, line+"\n")
		}
		res, err := current.patcher().AppendLines(args[0], lines...)
		return reportPatch(cmd.OutOrStdout(), single(res), err)
	},
}

func init() {
	patchCmd.AddCommand(patchDeleteLinesCmd)
	patchCmd.AddCommand(patchReplaceLinesCmd)
	patchCmd.AddCommand(patchReplaceTextCmd)
	patchCmd.AddCommand(patchAppendCmd)
}

func single(res *patch.Result) []*patch.Result {
	if res == nil {
		return nil
	}
	return []*patch.Result{res}
}

func reportPatch(w io.Writer, results []*patch.Result, err error) error {
	if jsonOutput {
		if jerr := outputJSON(w, results); jerr != nil {
			return jerr
		}
		return err
	}
	for _, r := range results {
		PrintLabelValue(w, r.Rule, fmt.Sprintf("-%d lines, ~%d lines, %d replacements, %d bytes",
			r.LinesRemoved, r.LinesChanged, r.Replacements, r.BytesWritten))
	}
	if err != nil {
		return err
	}
	if current.settings.DryRun {
		PrintWarning(w, "Dry run: file not written")
		return nil
	}
	PrintSuccess(w, "Patched")
	return nil
}

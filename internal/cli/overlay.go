package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/bspstage/internal/overlay"
	"github.com/danieljhkim/bspstage/internal/planner"
)

var overlayFlags struct {
	noHidden   bool
	allowEmpty bool
	link       string
}

var overlayCmd = &cobra.Command{
	Use:   "overlay",
	Short: "Merge, remove and reset directory trees",
	Long: `Run a single Overlay Composer operation outside of a pipeline.

Patterns are shell globs. Quote them so the shell does not expand them first;
a directory's hidden entries are merged unless --no-hidden is given.`,
}

var overlayCopyCmd = &cobra.Command{
	Use:   "copy <pattern> <destination>",
	Short: "Merge copies of the matched entries into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := current.composer().MergeCopy(args[0], args[1], mergeOptions()...)
		return reportOverlay(cmd.OutOrStdout(), "Copied", result, err)
	},
}

var overlaySymlinkCmd = &cobra.Command{
	Use:   "symlink <pattern> <destination>",
	Short: "Merge symlinks to the matched entries into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		link, err := planner.ParseLinkTarget(overlayFlags.link)
		if err != nil {
			return err
		}
		opts := append(mergeOptions(), overlay.WithLinkTarget(link))
		result, err := current.composer().MergeSymlink(args[0], args[1], opts...)
		return reportOverlay(cmd.OutOrStdout(), "Linked", result, err)
	},
}

var overlayRmCmd = &cobra.Command{
	Use:   "rm <pattern>",
	Short: "Remove the non-directory entries matching a pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := current.composer().RemoveMatches(args[0])
		return reportOverlay(cmd.OutOrStdout(), "Removed", result, err)
	},
}

var overlayResetCmd = &cobra.Command{
	Use:   "reset <directory>",
	Short: "Empty a directory, creating it if needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := current.composer().ResetDirectory(args[0])
		return reportOverlay(cmd.OutOrStdout(), "Reset", result, err)
	},
}

func init() {
	for _, c := range []*cobra.Command{overlayCopyCmd, overlaySymlinkCmd} {
		c.Flags().BoolVar(&overlayFlags.noHidden, "no-hidden", false, "Leave out hidden entries of matched directories")
		c.Flags().BoolVar(&overlayFlags.allowEmpty, "allow-empty", false, "Succeed when the pattern matches nothing")
	}
	overlaySymlinkCmd.Flags().StringVar(&overlayFlags.link, "link", string(planner.LinkAbsolute),
		"Link target form: absolute, as-given or relative")

	overlayCmd.AddCommand(overlayCopyCmd)
	overlayCmd.AddCommand(overlaySymlinkCmd)
	overlayCmd.AddCommand(overlayRmCmd)
	overlayCmd.AddCommand(overlayResetCmd)
}

func mergeOptions() []overlay.MergeOption {
	opts := []overlay.MergeOption{overlay.WithHidden(!overlayFlags.noHidden)}
	if overlayFlags.allowEmpty {
		opts = append(opts, overlay.AllowEmpty())
	}
	return opts
}

func reportOverlay(w io.Writer, verb string, result *overlay.Result, err error) error {
	if jsonOutput && result != nil {
		if jerr := outputJSON(w, result.Plan); jerr != nil {
			return jerr
		}
		return err
	}
	if result != nil && result.Plan != nil && len(result.Plan.Conflicts) > 0 {
		PrintConflicts(w, result.Plan.Conflicts)
	}
	if err != nil {
		return err
	}

	if result.DryRun {
		PrintOperations(w, result.Plan.Operations, 1)
		PrintWarning(w, fmt.Sprintf("Dry run: %s planned", PrintCount(len(result.Plan.Operations), "operation", "operations")))
		return nil
	}
	PrintSuccess(w, fmt.Sprintf("%s (%s)", verb, PrintCount(len(result.Applied), "operation", "operations")))
	return nil
}

package overlay

import (
	"github.com/danieljhkim/bspstage/internal/logging"
	"github.com/danieljhkim/bspstage/internal/planner"
)

// MergeOption tweaks a single MergeCopy or MergeSymlink call.
type MergeOption func(*planner.MergeOptions)

// WithoutHidden skips the dotfile pass when descending into directories.
// Top-level matches are unaffected: they follow the pattern.
func WithoutHidden() MergeOption {
	return func(o *planner.MergeOptions) {
		o.IncludeHidden = false
	}
}

// WithHidden sets the dotfile pass explicitly.
func WithHidden(include bool) MergeOption {
	return func(o *planner.MergeOptions) {
		o.IncludeHidden = include
	}
}

// AllowEmpty lets the top-level pattern match nothing.
func AllowEmpty() MergeOption {
	return func(o *planner.MergeOptions) {
		o.AllowEmpty = true
	}
}

// WithLinkTarget selects how symlink targets are written.
func WithLinkTarget(target planner.LinkTarget) MergeOption {
	return func(o *planner.MergeOptions) {
		o.Link = target
	}
}

func buildOptions(mode planner.Mode, opts []MergeOption) planner.MergeOptions {
	o := planner.MergeOptions{
		Mode:          mode,
		IncludeHidden: true,
		Link:          planner.LinkAbsolute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// MergeCopy overlays every entry matched by pattern onto destination,
// copying files with their permission bits and modification time.
// Existing destination directories are merged into; existing
// non-directory entries in the way are replaced. Destination content not in
// the source is left alone.
func (c *Composer) MergeCopy(pattern, destination string, opts ...MergeOption) (*Result, error) {
	return c.merge(planner.ModeCopy, pattern, destination, opts)
}

// MergeSymlink is MergeCopy with each leaf placed as a symbolic link to its
// source.
func (c *Composer) MergeSymlink(pattern, destination string, opts ...MergeOption) (*Result, error) {
	return c.merge(planner.ModeSymlink, pattern, destination, opts)
}

// PlanMerge builds, without executing, the plan a merge call would run.
func (c *Composer) PlanMerge(mode planner.Mode, pattern, destination string, opts ...MergeOption) (*planner.Plan, error) {
	return planner.BuildMergePlan(c.fs, pattern, destination, buildOptions(mode, opts))
}

func (c *Composer) merge(mode planner.Mode, pattern, destination string, opts []MergeOption) (*Result, error) {
	done := logging.LogOperationStart(c.logger, "merge-"+string(mode))
	defer done()

	o := buildOptions(mode, opts)
	c.logger.Info().
		Str("pattern", pattern).
		Str("destination", destination).
		Bool("hidden", o.IncludeHidden).
		Msgf("Merging (%s)", mode)

	plan, err := planner.BuildMergePlan(c.fs, pattern, destination, o)
	if err != nil {
		return nil, err
	}
	return c.Execute(plan)
}

// RemoveMatches deletes every non-directory entry matched by pattern.
// Directory matches are skipped. Matching nothing is not an error.
func (c *Composer) RemoveMatches(pattern string) (*Result, error) {
	plan, err := planner.BuildRemovePlan(c.fs, pattern)
	if err != nil {
		return nil, err
	}

	skipped := len(plan.Matches) - len(plan.Operations)
	if skipped > 0 {
		c.logger.Debug().
			Str("pattern", pattern).
			Int("skipped", skipped).
			Msg("Directory matches left in place")
	}
	c.logger.Info().Str("pattern", pattern).Int("matches", len(plan.Operations)).Msg("Removing matches")

	return c.Execute(plan)
}

// ResetDirectory removes path recursively if present and re-creates it
// empty, creating parents as needed.
func (c *Composer) ResetDirectory(path string) (*Result, error) {
	plan, err := planner.BuildResetPlan(c.fs, path)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("path", path).Msg("Resetting directory")
	return c.Execute(plan)
}

// Package overlay merges source trees onto destination trees.
//
// The Composer is the only writer of staged board trees. Every merge goes
// through two phases: a plan is built by the planner package (glob
// resolution, directory ensuring, type conflict detection), then the plan's
// operations are executed in order. Nothing is written when the plan holds a
// conflict, and nothing at all in dry-run mode.
//
// Key operations:
//   - MergeCopy / MergeSymlink: overlay a glob onto a directory
//   - RemoveMatches: delete non-directory glob matches
//   - ResetDirectory: converge a path to an empty directory
//   - CopyFile, Move, RemoveTree: single-path helpers
//   - ResolveOne, FindDir, FindFile: exact-one lookups
//   - WriteManifest: list a directory's top-level entries into a file
package overlay

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danieljhkim/bspstage/internal/fsops"
	"github.com/danieljhkim/bspstage/internal/logging"
	"github.com/danieljhkim/bspstage/internal/planner"
)

// Composer executes overlay plans against a filesystem.
type Composer struct {
	fs     fsops.FS
	logger zerolog.Logger
	dryRun bool
}

// Option configures a Composer.
type Option func(*Composer)

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Composer) {
		c.logger = logger
	}
}

// WithDryRun makes the Composer plan without executing.
func WithDryRun(dryRun bool) Option {
	return func(c *Composer) {
		c.dryRun = dryRun
	}
}

// New creates a Composer over fs.
func New(fs fsops.FS, opts ...Option) *Composer {
	c := &Composer{
		fs:     fs,
		logger: logging.GetLogger("overlay"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DryRun reports whether the Composer only plans.
func (c *Composer) DryRun() bool {
	return c.dryRun
}

// Result is the outcome of a composer call.
type Result struct {
	// Plan is the generated plan
	Plan *planner.Plan

	// Applied is the list of operations that were executed (empty if dry-run)
	Applied []planner.Operation

	// DryRun is true when nothing was executed
	DryRun bool
}

// Execute runs the operations of plan in order. A plan with conflicts is
// refused before any operation runs. The first failing operation aborts the
// call and the operations applied so far are returned with the error.
func (c *Composer) Execute(plan *planner.Plan) (*Result, error) {
	result := &Result{
		Plan:    plan,
		Applied: []planner.Operation{},
		DryRun:  c.dryRun,
	}

	if err := plan.ConflictError(); err != nil {
		return result, err
	}

	if c.dryRun {
		c.logger.Info().
			Str("kind", plan.Kind).
			Str("pattern", plan.Pattern).
			Int("operations", len(plan.Operations)).
			Msg("Dry run, plan not executed")
		return result, nil
	}

	for _, op := range plan.Operations {
		if err := c.executeOperation(op); err != nil {
			return result, err
		}
		result.Applied = append(result.Applied, op)
	}

	c.logger.Debug().
		Str("kind", plan.Kind).
		Str("pattern", plan.Pattern).
		Int("applied", len(result.Applied)).
		Msg("Plan executed")
	return result, nil
}

// executeOperation executes a single operation.
func (c *Composer) executeOperation(op planner.Operation) error {
	c.logger.Trace().
		Str("op", op.Type).
		Str("source", op.SourcePath).
		Str("dest", op.DestPath).
		Msg("Executing operation")

	switch op.Type {
	case planner.OpMkdir:
		return c.executeMkdir(op)
	case planner.OpRemove:
		return c.executeRemove(op)
	case planner.OpRemoveTree:
		return c.executeRemoveTree(op)
	case planner.OpCopy:
		return c.executeCopy(op)
	case planner.OpCreateSymlink:
		return c.executeCreateSymlink(op)
	default:
		return fmt.Errorf("unknown operation type: %s", op.Type)
	}
}

func (c *Composer) executeMkdir(op planner.Operation) error {
	return c.fs.MkdirAll(op.DestPath, 0755)
}

// executeRemove removes a single non-directory entry.
func (c *Composer) executeRemove(op planner.Operation) error {
	exists, err := c.fs.Exists(op.DestPath)
	if err != nil {
		return fsops.Classify("lstat", op.DestPath, err)
	}
	if !exists {
		return nil
	}
	return c.fs.Remove(op.DestPath)
}

func (c *Composer) executeRemoveTree(op planner.Operation) error {
	return c.fs.RemoveAll(op.DestPath)
}

func (c *Composer) executeCopy(op planner.Operation) error {
	return c.fs.CopyFile(op.SourcePath, op.DestPath)
}

func (c *Composer) executeCreateSymlink(op planner.Operation) error {
	// The source must still be readable
	if _, err := c.fs.Stat(op.SourcePath); err != nil {
		return fsops.Classify("symlink", op.SourcePath, err)
	}
	return c.fs.Symlink(op.LinkTarget, op.DestPath)
}

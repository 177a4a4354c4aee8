// Package pipeline runs board pipelines.
//
// A board pipeline is an ordered list of steps read from the pipeline file.
// Each step calls one Overlay Composer, Text Patch Engine or subprocess
// operation with its fields expanded against the board's variables. The
// driver journals every step and, after a successful run, records the tree
// digest of the board directory.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/danieljhkim/bspstage/internal/config"
	"github.com/danieljhkim/bspstage/internal/fsops"
	"github.com/danieljhkim/bspstage/internal/gitx"
	"github.com/danieljhkim/bspstage/internal/hash"
	"github.com/danieljhkim/bspstage/internal/journal"
	"github.com/danieljhkim/bspstage/internal/logging"
	"github.com/danieljhkim/bspstage/internal/overlay"
	"github.com/danieljhkim/bspstage/internal/patch"
	"github.com/danieljhkim/bspstage/internal/runner"
)

// Driver runs board pipelines. It is the main API surface called by the CLI.
type Driver struct {
	fs        fsops.FS
	runner    runner.Runner
	store     journal.RecordStore
	hasher    hash.Hasher
	clock     journal.Clock
	logger    zerolog.Logger
	lookupEnv func(string) (string, bool)
	repo      gitx.GitRepo
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithLookupEnv replaces os.LookupEnv for required-env checks and variable
// expansion.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(d *Driver) {
		d.lookupEnv = lookup
	}
}

// WithGitRepo records the git revision of the project root in each journal
// record. A root outside git leaves the revision empty.
func WithGitRepo(repo gitx.GitRepo) Option {
	return func(d *Driver) {
		d.repo = repo
	}
}

// New creates a new Driver with the given dependencies.
func New(
	fs fsops.FS,
	run runner.Runner,
	store journal.RecordStore,
	hasher hash.Hasher,
	clk journal.Clock,
	opts ...Option,
) *Driver {
	d := &Driver{
		fs:        fs,
		runner:    run,
		store:     store,
		hasher:    hasher,
		clock:     clk,
		logger:    logging.GetLogger("pipeline"),
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run stages req.Board. Steps run in order and the first failure aborts
// the run with a *StepError; the result describes the steps attempted so
// far. In dry-run nothing is written, commands are not started and no
// journal is kept.
func (d *Driver) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	if req.Pipeline == nil {
		return nil, fmt.Errorf("no pipeline loaded")
	}
	board, err := req.Pipeline.Board(req.Board)
	if err != nil {
		return nil, err
	}
	if err := Validate(board); err != nil {
		return nil, err
	}
	if err := req.Pipeline.CheckEnv(board, d.lookupEnv); err != nil {
		return nil, err
	}

	x, err := d.newExecution(ctx, req, board)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		Board:    req.Board,
		BoardDir: x.boardDir,
		Pipeline: req.Pipeline.Path,
		DryRun:   req.DryRun,
		Steps:    []StepOutcome{},
	}

	var record *journal.Record
	if !req.DryRun {
		record = journal.NewRecord(req.Board, x.boardDir, req.Pipeline.Path, d.clock.Now())
		result.Record = record
		d.recordRevision(ctx, record, x.root)
		if err := d.store.Save(record); err != nil {
			return result, fmt.Errorf("failed to save record: %w", err)
		}
	}

	done := logging.LogOperationStart(d.logger, "stage")
	defer done()
	d.logger.Info().
		Str("board", req.Board).
		Str("dir", x.boardDir).
		Int("steps", len(board.Steps)).
		Bool("dry_run", req.DryRun).
		Msg("Staging board")

	for i, step := range board.Steps {
		outcome, stepErr := d.runStep(x, i+1, step)
		result.Steps = append(result.Steps, outcome)

		if record != nil {
			record.AddStep(journal.StepRecord{
				Index:     outcome.Index,
				Name:      outcome.Name,
				Op:        outcome.Op,
				Status:    outcome.Status,
				StartedAt: outcome.startedAt,
				Duration:  outcome.Duration,
				Detail:    outcome.Detail,
				Error:     outcome.Error,
			})
		}

		if stepErr != nil {
			if record != nil {
				record.Finish(d.clock.Now(), "", stepErr)
				if err := d.store.Save(record); err != nil {
					d.logger.Error().Err(err).Str("board", req.Board).Msg("Failed to save record")
				}
			}
			return result, stepErr
		}

		if record != nil {
			if err := d.store.Save(record); err != nil {
				return result, fmt.Errorf("failed to save record: %w", err)
			}
		}
	}

	if record == nil {
		return result, nil
	}

	digest, err := d.hasher.TreeDigest(x.boardDir)
	if err != nil {
		err = fmt.Errorf("failed to digest %s: %w", x.boardDir, err)
		record.Finish(d.clock.Now(), "", err)
		if saveErr := d.store.Save(record); saveErr != nil {
			d.logger.Error().Err(saveErr).Str("board", req.Board).Msg("Failed to save record")
		}
		return result, err
	}

	record.Finish(d.clock.Now(), digest, nil)
	result.Digest = digest
	if err := d.store.Save(record); err != nil {
		return result, fmt.Errorf("failed to save record: %w", err)
	}

	d.logger.Info().Str("board", req.Board).Str("digest", digest).Msg("Board staged")
	return result, nil
}

// Validate checks every step of board before anything runs.
func Validate(board *config.Board) error {
	for i, step := range board.Steps {
		if err := ValidateStep(step); err != nil {
			return &StepError{Index: i + 1, Name: step.Label(), Op: step.Op, Err: err}
		}
	}
	return nil
}

func (d *Driver) newExecution(ctx context.Context, req *RunRequest, board *config.Board) (*execution, error) {
	root, err := filepath.Abs(req.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	builtins := map[string]string{
		VarBoard:    req.Board,
		VarBspRoot:  root,
		VarBoardDir: "${" + VarBspRoot + "}/${" + VarBoard + "}",
	}
	if board.Dir != "" {
		builtins[VarBoardDir] = board.Dir
	}
	vars := NewVars(board.Vars, req.Pipeline.Vars, builtins, d.lookupEnv)

	boardDir, err := vars.Get(VarBoardDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve board directory: %w", err)
	}
	if !filepath.IsAbs(boardDir) {
		boardDir = filepath.Join(root, boardDir)
	}
	boardDir = filepath.Clean(boardDir)
	builtins[VarBoardDir] = boardDir

	// A dry run stages into a scratch view so later steps see the effects
	// of earlier ones while the real tree stays untouched.
	fsys := d.fs
	if req.DryRun {
		fsys = fsops.NewScratchFS(d.fs)
	}

	return &execution{
		ctx: ctx,
		composer: overlay.New(fsys,
			overlay.WithLogger(logging.GetLogger("overlay").With().Str("board", req.Board).Logger())),
		patcher: patch.New(fsys,
			patch.WithLogger(logging.GetLogger("patch").With().Str("board", req.Board).Logger())),
		runner:   d.runner,
		vars:     vars,
		root:     root,
		boardDir: boardDir,
		dryRun:   req.DryRun,
		logger:   d.logger.With().Str("board", req.Board).Logger(),
	}, nil
}

// runStep expands and runs one step. index is 1-based.
func (d *Driver) runStep(x *execution, index int, step config.Step) (StepOutcome, error) {
	outcome := StepOutcome{
		Index:     index,
		Name:      step.Name,
		Op:        step.Op,
		startedAt: d.clock.Now(),
	}
	fail := func(err error) (StepOutcome, error) {
		outcome.Status = journal.StatusFailed
		outcome.Error = err.Error()
		return outcome, &StepError{Index: index, Name: step.Label(), Op: step.Op, Err: err}
	}

	if err := x.ctx.Err(); err != nil {
		return fail(err)
	}

	expanded, err := x.expandStep(step)
	if err != nil {
		return fail(err)
	}

	x.logger.Info().Int("step", index).Str("op", step.Op).Str("name", step.Name).Msg("Running step")
	err = ops[step.Op].run(x, expanded, &outcome)
	outcome.Duration = d.clock.Now().Sub(outcome.startedAt)

	switch {
	case err == nil && x.dryRun:
		outcome.Status = StatusPlanned
	case err == nil:
		outcome.Status = journal.StatusSucceeded
	case x.dryRun && unresolvable(err):
		outcome.Status = journal.StatusSkipped
		outcome.Error = err.Error()
		x.logger.Warn().Int("step", index).Str("op", step.Op).Err(err).Msg("Lookup failed, planning on with a placeholder")
	default:
		return fail(err)
	}
	return outcome, nil
}

// recordRevision stamps record with the git revision of root. Failures are
// logged and ignored.
func (d *Driver) recordRevision(ctx context.Context, record *journal.Record, root string) {
	if d.repo == nil {
		return
	}
	rev, err := d.repo.Revision(ctx, root)
	if err != nil {
		d.logger.Debug().Err(err).Str("root", root).Msg("No git revision for project root")
		return
	}
	record.Revision = rev.Commit
	record.Dirty = rev.Dirty
}

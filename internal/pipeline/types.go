package pipeline

import (
	"time"

	"github.com/danieljhkim/bspstage/internal/config"
	"github.com/danieljhkim/bspstage/internal/journal"
	"github.com/danieljhkim/bspstage/internal/patch"
	"github.com/danieljhkim/bspstage/internal/planner"
	"github.com/danieljhkim/bspstage/internal/runner"
)

// StatusPlanned marks a dry-run step that would have run.
const StatusPlanned = "planned"

// RunRequest represents a request to stage one board.
type RunRequest struct {
	// Pipeline is the parsed pipeline file
	Pipeline *config.Pipeline

	// Board is the board to stage
	Board string

	// Root is the project root (BSP_ROOT); relative step paths resolve
	// against it
	Root string

	// DryRun plans every step without writing anything
	DryRun bool
}

// RunResult represents the outcome of a board run.
type RunResult struct {
	Board    string        `json:"board" yaml:"board"`
	BoardDir string        `json:"boardDir" yaml:"boardDir"`
	Pipeline string        `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	DryRun   bool          `json:"dryRun" yaml:"dryRun"`
	Steps    []StepOutcome `json:"steps" yaml:"steps"`
	Digest   string        `json:"digest,omitempty" yaml:"digest,omitempty"`

	// Record is the journal written for the run (nil in dry-run)
	Record *journal.Record `json:"-" yaml:"-"`
}

// StepOutcome describes what one step did, or would do in dry-run.
type StepOutcome struct {
	Index    int           `json:"index" yaml:"index"`
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
	Op       string        `json:"op" yaml:"op"`
	Status   string        `json:"status" yaml:"status"`
	Detail   string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`

	// Operations are the overlay operations of merge, remove and reset steps
	Operations []planner.Operation `json:"operations,omitempty" yaml:"operations,omitempty"`

	// Conflicts are the type conflicts that refused a merge
	Conflicts []planner.Conflict `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`

	// Patches are the per-rule results of patch steps
	Patches []*patch.Result `json:"patches,omitempty" yaml:"patches,omitempty"`

	// Command is the subprocess of run steps
	Command *runner.Command `json:"command,omitempty" yaml:"command,omitempty"`

	startedAt time.Time
}

package journal

import "time"

// Status values for records and steps.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Record is the journal of one board run.
type Record struct {
	// Board is the board name from the pipeline file
	Board string `json:"board"`

	// BoardDir is the staged tree the run wrote to
	BoardDir string `json:"boardDir"`

	// Pipeline is the pipeline file the steps came from
	Pipeline string `json:"pipeline,omitempty"`

	// Status is running, succeeded or failed
	Status string `json:"status"`

	// StartedAt is when the run began
	StartedAt time.Time `json:"startedAt"`

	// FinishedAt is when the run ended (zero while running)
	FinishedAt time.Time `json:"finishedAt,omitempty"`

	// Steps are the steps attempted so far, in order
	Steps []StepRecord `json:"steps"`

	// Revision is the git commit of the project root when the run began
	Revision string `json:"revision,omitempty"`

	// Dirty reports uncommitted changes in the project root at Revision
	Dirty bool `json:"dirty,omitempty"`

	// Digest is the tree digest of BoardDir after a successful run
	Digest string `json:"digest,omitempty"`

	// Error is the message of the error that aborted the run
	Error string `json:"error,omitempty"`
}

// StepRecord is the journal of one pipeline step.
type StepRecord struct {
	Index     int           `json:"index"`
	Name      string        `json:"name,omitempty"`
	Op        string        `json:"op"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Detail    string        `json:"detail,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// NewRecord creates a running record for board.
func NewRecord(board, boardDir, pipeline string, startedAt time.Time) *Record {
	return &Record{
		Board:     board,
		BoardDir:  boardDir,
		Pipeline:  pipeline,
		Status:    StatusRunning,
		StartedAt: startedAt,
		Steps:     []StepRecord{},
	}
}

// AddStep appends a step record.
func (r *Record) AddStep(step StepRecord) {
	r.Steps = append(r.Steps, step)
}

// Finish marks the record succeeded or failed.
func (r *Record) Finish(at time.Time, digest string, err error) {
	r.FinishedAt = at
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = StatusSucceeded
	r.Digest = digest
}

// Duration returns how long the run took (zero while running).
func (r *Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedStep returns the first failed step, if any.
func (r *Record) FailedStep() (StepRecord, bool) {
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			return s, true
		}
	}
	return StepRecord{}, false
}

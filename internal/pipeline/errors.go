package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOp indicates a step op the driver does not implement.
	ErrUnknownOp = errors.New("unknown op")

	// ErrInvalidStep indicates a step missing the fields its op requires.
	ErrInvalidStep = errors.New("invalid step")
)

// StepError is returned when a step fails. It wraps the cause.
type StepError struct {
	// Index is 1-based
	Index int
	Name  string
	Op    string
	Err   error
}

func (e *StepError) Error() string {
	if e.Name != "" && e.Name != e.Op {
		return fmt.Sprintf("step %d (%s, op %s): %v", e.Index, e.Name, e.Op, e.Err)
	}
	return fmt.Sprintf("step %d (op %s): %v", e.Index, e.Op, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

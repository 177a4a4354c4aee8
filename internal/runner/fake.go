package runner

import (
	"context"
	"fmt"
)

// FakeRunner implements Runner for testing. It records every command and
// answers from scripted results keyed by command name.
type FakeRunner struct {
	Calls   []Command
	results map[string]*Result
	errs    map[string]error
}

// NewFakeRunner creates a new FakeRunner. Unscripted commands succeed with
// an empty result.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		results: make(map[string]*Result),
		errs:    make(map[string]error),
	}
}

// SetResult scripts the result for commands named name. A nonzero exit code
// makes Run fail with ErrSubprocessFailure.
func (f *FakeRunner) SetResult(name string, result *Result) {
	f.results[name] = result
}

// SetError scripts a start failure for commands named name.
func (f *FakeRunner) SetError(name string, err error) {
	f.errs[name] = err
}

// Run records cmd and returns the scripted outcome.
func (f *FakeRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	f.Calls = append(f.Calls, cmd)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSubprocessFailure, cmd, err)
	}
	if err, ok := f.errs[cmd.Name]; ok {
		return nil, fmt.Errorf("%w: %s: %w", ErrSubprocessFailure, cmd, err)
	}

	result, ok := f.results[cmd.Name]
	if !ok {
		return &Result{}, nil
	}
	if result.ExitCode != 0 {
		return result, fmt.Errorf("%w: %s: exit code %d", ErrSubprocessFailure, cmd, result.ExitCode)
	}
	return result, nil
}

// Package runner spawns the external tools a board pipeline invokes.
//
// Commands are argument lists, never shell strings, and carry their own
// working directory so the calling process never changes directory. Only
// the exit status gates continuation; captured output is kept for logs and
// error messages.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/danieljhkim/bspstage/internal/logging"
)

// ErrSubprocessFailure indicates a command could not be started or exited
// unsuccessfully.
var ErrSubprocessFailure = errors.New("subprocess failed")

// outputTail bounds how much captured output goes into an error message.
const outputTail = 2048

// Command describes a process to run.
type Command struct {
	// Name is the program, looked up in PATH when it has no separator
	Name string `json:"name" yaml:"name"`

	// Args are passed to the program as-is
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Dir is the working directory (empty: the caller's)
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Env is added to the inherited environment, overriding same-named entries
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// String renders the command for logs.
func (c Command) String() string {
	parts := append([]string{c.Name}, c.Args...)
	return strings.Join(parts, " ")
}

// Result is the outcome of a finished command.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Runner runs commands.
type Runner interface {
	// Run blocks until cmd exits. A nonzero exit is ErrSubprocessFailure;
	// the Result is returned alongside it.
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{logger: logging.GetLogger("runner")}
}

// WithLogger returns a copy of the runner logging to logger.
func (r *ExecRunner) WithLogger(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run starts cmd and waits for it.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("%w: empty command", ErrSubprocessFailure)
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = mergeEnv(os.Environ(), cmd.Env)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.logger.Debug().
		Str("command", cmd.Name).
		Strs("args", cmd.Args).
		Str("dir", cmd.Dir).
		Msg("Executing command")

	start := time.Now()
	err := c.Run()
	result := &Result{
		ExitCode: -1,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if c.ProcessState != nil {
		result.ExitCode = c.ProcessState.ExitCode()
	}

	r.logger.Debug().
		Str("command", cmd.Name).
		Int("exit", result.ExitCode).
		Dur("duration", result.Duration).
		Int("stdout_bytes", len(result.Stdout)).
		Int("stderr_bytes", len(result.Stderr)).
		Msg("Command finished")
	if len(result.Stdout) > 0 {
		r.logger.Trace().Str("command", cmd.Name).Bytes("stdout", result.Stdout).Msg("Command output")
	}

	if err != nil {
		return result, failure(cmd, result, err)
	}
	return result, nil
}

// failure builds the ErrSubprocessFailure for cmd.
func failure(cmd Command, result *Result, cause error) error {
	var exitErr *exec.ExitError
	if !errors.As(cause, &exitErr) {
		return fmt.Errorf("%w: %s: %w", ErrSubprocessFailure, cmd, cause)
	}

	msg := fmt.Sprintf("%s: exit code %d", cmd, result.ExitCode)
	if result.ExitCode < 0 {
		msg = fmt.Sprintf("%s: %s", cmd, exitErr.String())
	}
	if tail := tailOf(result.Stderr); tail != "" {
		msg += ": " + tail
	}
	return fmt.Errorf("%w: %s", ErrSubprocessFailure, msg)
}

func tailOf(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > outputTail {
		s = "..." + s[len(s)-outputTail:]
	}
	return s
}

// mergeEnv overlays extra onto base, keeping base order and appending new
// keys sorted.
func mergeEnv(base []string, extra map[string]string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if v, ok := extra[key]; ok {
			out = append(out, key+"="+v)
			seen[key] = true
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

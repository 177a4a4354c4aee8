// Package logging configures the zerolog logger shared by bspstage.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options tweaks SetupLogger beyond the verbosity level.
type Options struct {
	// LogFile overrides the log file location. "-" disables the log file.
	LogFile string

	// NoColor disables console colors even on a terminal.
	NoColor bool

	// Console replaces stderr as the console writer target (tests).
	Console io.Writer
}

// logFile is the handle opened by the last SetupLogger call.
var logFile *os.File

// SetupLogger configures the global logger based on verbosity level.
// Output goes to the console and, unless disabled, to a log file.
func SetupLogger(verbosity int, opts Options) {
	zerolog.SetGlobalLevel(LevelFor(verbosity))

	out := opts.Console
	if out == nil {
		out = os.Stderr
	}
	consoleWriter := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.Kitchen,
		NoColor:    opts.NoColor || !isTerminal(out),
	}

	writers := []io.Writer{consoleWriter}

	CloseLogFile()
	logPath := opts.LogFile
	if logPath == "" {
		logPath = DefaultLogFilePath()
	}
	var fileErr error
	if logPath != "-" {
		var handle *os.File
		handle, fileErr = setupLogFile(logPath)
		if fileErr == nil {
			logFile = handle
			writers = append(writers, handle)
		}
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()

	if fileErr != nil {
		log.Warn().Err(fileErr).Str("path", logPath).Msg("Failed to create log file, logging to console only")
	}

	// Caller information for debug and trace levels
	if verbosity >= 2 {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	log.Debug().Int("verbosity", verbosity).Str("logFile", logPath).Msg("Logger initialized")
}

// CloseLogFile closes the log file opened by SetupLogger, if any.
func CloseLogFile() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// LevelFor maps a -v count to a zerolog level.
func LevelFor(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.WarnLevel
	case verbosity == 1:
		return zerolog.InfoLevel
	case verbosity == 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// GetLogger returns a logger tagged with the given component name.
func GetLogger(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// DefaultLogFilePath returns $XDG_STATE_HOME/bspstage/bspstage.log.
func DefaultLogFilePath() string {
	return filepath.Join(xdg.StateHome, "bspstage", "bspstage.log")
}

// LogOperationStart logs the start of an operation and returns a function to
// log its completion.
func LogOperationStart(logger zerolog.Logger, operation string) func() {
	start := time.Now()
	logger.Debug().
		Str("operation", operation).
		Msg("Operation started")

	return func() {
		logger.Debug().
			Str("operation", operation).
			Dur("duration", time.Since(start)).
			Msg("Operation completed")
	}
}

func setupLogFile(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

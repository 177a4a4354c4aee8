package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		verbosity int
		want      zerolog.Level
	}{
		{-1, zerolog.WarnLevel},
		{0, zerolog.WarnLevel},
		{1, zerolog.InfoLevel},
		{2, zerolog.DebugLevel},
		{3, zerolog.TraceLevel},
		{7, zerolog.TraceLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.verbosity), "verbosity %d", tt.verbosity)
	}
}

func TestSetupLogger_WritesConsoleAndFile(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var console bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "state", "bspstage.log")

	SetupLogger(1, Options{LogFile: logFile, Console: &console})
	t.Cleanup(CloseLogFile)
	logger := GetLogger("overlay")
	logger.Info().Str("pattern", "src/*").Msg("merging")
	logger.Debug().Msg("hidden at info")

	assert.Contains(t, console.String(), "merging")
	assert.NotContains(t, console.String(), "hidden at info")
	// Non-terminal writers get no ANSI escapes
	assert.NotContains(t, console.String(), "\x1b[")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"overlay"`)
	assert.Contains(t, string(data), `"pattern":"src/*"`)
}

func TestSetupLogger_FileDisabled(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var console bytes.Buffer
	SetupLogger(0, Options{LogFile: "-", Console: &console})
	logger := GetLogger("cli")
	logger.Warn().Msg("console only")

	assert.Contains(t, console.String(), "console only")
}

func TestSetupLogger_ClosesPreviousFile(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
		CloseLogFile()
	})

	dir := t.TempDir()
	var console bytes.Buffer
	SetupLogger(0, Options{LogFile: filepath.Join(dir, "first.log"), Console: &console})
	first := logFile
	require.NotNil(t, first)

	SetupLogger(0, Options{LogFile: filepath.Join(dir, "second.log"), Console: &console})
	_, err := first.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NotSame(t, first, logFile)

	SetupLogger(0, Options{LogFile: "-", Console: &console})
	assert.Nil(t, logFile)
}

func TestDefaultLogFilePath(t *testing.T) {
	path := DefaultLogFilePath()
	assert.Equal(t, "bspstage.log", filepath.Base(path))
	assert.Equal(t, "bspstage", filepath.Base(filepath.Dir(path)))
}

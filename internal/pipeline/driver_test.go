package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieljhkim/bspstage/internal/config"
	"github.com/danieljhkim/bspstage/internal/fsops"
	"github.com/danieljhkim/bspstage/internal/gitx"
	"github.com/danieljhkim/bspstage/internal/hash"
	"github.com/danieljhkim/bspstage/internal/journal"
	"github.com/danieljhkim/bspstage/internal/runner"
)

const stagePipeline = `
vars:
  TEMPLATE: ${OFS_ROOT}/template
env:
  required: [OFS_ROOT]
boards:
  n6001:
    vars:
      FIM: ${TEMPLATE}/n6001
    steps:
      - op: reset
        path: ${BOARD_DIR}
      - op: copy
        name: template
        from: ${FIM}/*
        to: ${BOARD_DIR}/hardware
      - op: find-dir
        find: syn_top
        under: ${BOARD_DIR}/hardware
        as: SYN_TOP
      - op: run
        name: synth setup
        command:
          - afu_synth_setup
          - -s
          - ${SYN_TOP}/setup.tcl
          - build
        env:
          TARGET: ${BOARD}
      - op: delete-lines
        path: ${BOARD_DIR}/hardware/ofs_top.qpf
        needles: [PROJECT_REVISION, SOURCE]
      - op: append
        path: ${BOARD_DIR}/hardware/ofs_top.qpf
        lines:
          - 'PROJECT_REVISION = "ofs_top"'
      - op: manifest
        dir: ${BOARD_DIR}
        file: bsp_dir_filelist.txt
`

type fixture struct {
	root   string
	fs     fsops.FS
	runner *runner.FakeRunner
	store  *journal.FileRecordStore
	hasher *hash.SHA256Hasher
	driver *Driver
	pipe   *config.Pipeline
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newFixture(t *testing.T, pipeline string) *fixture {
	t.Helper()
	root := t.TempDir()

	fim := filepath.Join(root, "ofs", "template", "n6001")
	writeFile(t, filepath.Join(fim, "ip", "a.sv"), "module a;\n")
	writeFile(t, filepath.Join(fim, ".keep"), "")
	writeFile(t, filepath.Join(fim, "ip", ".keep"), "")
	writeFile(t, filepath.Join(fim, "ofs_top.qpf"), "PROJECT_REVISION = \"old\"\nSOURCE x.qsf\nQUARTUS_VERSION = \"23.4\"\n")
	writeFile(t, filepath.Join(fim, "syn", "syn_top", "setup.tcl"), "# setup\n")

	pipePath := filepath.Join(root, config.DefaultPipelineFile)
	writeFile(t, pipePath, pipeline)
	pipe, err := config.LoadPipeline(pipePath)
	require.NoError(t, err)

	fs := fsops.NewRealFS()
	hasher := hash.NewSHA256Hasher(fs)
	hasher.Skip[".bspstage"] = true
	f := &fixture{
		root:   root,
		fs:     fs,
		runner: runner.NewFakeRunner(),
		store:  journal.NewFileRecordStore(fs, filepath.Join(root, ".bspstage", "records")),
		hasher: hasher,
		pipe:   pipe,
	}

	env := map[string]string{"OFS_ROOT": filepath.Join(root, "ofs")}
	f.driver = New(fs, f.runner, f.store, f.hasher,
		journal.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), time.Second),
		WithLookupEnv(envOf(env)),
		WithGitRepo(gitx.NewFakeGitRepo(&gitx.Revision{Root: root, Commit: "c0ffee", Dirty: true})))
	return f
}

func (f *fixture) run(t *testing.T, dryRun bool) (*RunResult, error) {
	t.Helper()
	return f.driver.Run(context.Background(), &RunRequest{
		Pipeline: f.pipe,
		Board:    "n6001",
		Root:     f.root,
		DryRun:   dryRun,
	})
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestDriver_Run(t *testing.T) {
	f := newFixture(t, stagePipeline)
	boardDir := filepath.Join(f.root, "n6001")

	result, err := f.run(t, false)
	require.NoError(t, err)
	assert.Equal(t, boardDir, result.BoardDir)
	require.Len(t, result.Steps, 7)
	for _, s := range result.Steps {
		assert.Equal(t, journal.StatusSucceeded, s.Status, "step %d (%s)", s.Index, s.Op)
	}

	// Hidden entries below a matched directory come along; a bare * skips
	// hidden names at the top
	assert.Equal(t, "module a;\n", readFile(t, filepath.Join(boardDir, "hardware", "ip", "a.sv")))
	assert.FileExists(t, filepath.Join(boardDir, "hardware", "ip", ".keep"))
	assert.NoFileExists(t, filepath.Join(boardDir, "hardware", ".keep"))

	// Lookup result flows into the command
	require.Len(t, f.runner.Calls, 1)
	call := f.runner.Calls[0]
	assert.Equal(t, "afu_synth_setup", call.Name)
	assert.Equal(t, []string{"-s", filepath.Join(boardDir, "hardware", "syn", "syn_top", "setup.tcl"), "build"}, call.Args)
	assert.Equal(t, boardDir, call.Dir)
	assert.Equal(t, map[string]string{"TARGET": "n6001"}, call.Env)
	assert.Equal(t, "SYN_TOP="+filepath.Join(boardDir, "hardware", "syn", "syn_top"), result.Steps[2].Detail)

	// Patches
	assert.Equal(t, "QUARTUS_VERSION = \"23.4\"\nPROJECT_REVISION = \"ofs_top\"\n",
		readFile(t, filepath.Join(boardDir, "hardware", "ofs_top.qpf")))
	require.Len(t, result.Steps[4].Patches, 2)
	assert.Equal(t, 1, result.Steps[4].Patches[0].LinesRemoved)

	assert.Equal(t, "hardware\nbsp_dir_filelist.txt\n", readFile(t, filepath.Join(boardDir, "bsp_dir_filelist.txt")))

	// Journal
	record, err := f.store.Load("n6001")
	require.NoError(t, err)
	assert.Equal(t, journal.StatusSucceeded, record.Status)
	assert.Len(t, record.Steps, 7)
	assert.Equal(t, "synth setup", record.Steps[3].Name)
	assert.Equal(t, "c0ffee", record.Revision)
	assert.True(t, record.Dirty)
	assert.NotEmpty(t, record.Digest)
	assert.Equal(t, result.Digest, record.Digest)

	digest, err := f.hasher.TreeDigest(boardDir)
	require.NoError(t, err)
	assert.Equal(t, digest, record.Digest)

	verify, err := journal.Verify(f.store, f.hasher, "n6001")
	require.NoError(t, err)
	assert.Equal(t, record.Digest, verify.Current)
}

func TestDriver_RunIsRepeatable(t *testing.T) {
	f := newFixture(t, stagePipeline)

	first, err := f.run(t, false)
	require.NoError(t, err)
	second, err := f.run(t, false)
	require.NoError(t, err)
	assert.Equal(t, first.Digest, second.Digest)
}

func TestDriver_StepFailureAborts(t *testing.T) {
	f := newFixture(t, stagePipeline)
	f.runner.SetResult("afu_synth_setup", &runner.Result{ExitCode: 2, Stderr: []byte("boom")})
	boardDir := filepath.Join(f.root, "n6001")

	result, err := f.run(t, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrSubprocessFailure)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 4, stepErr.Index)
	assert.Equal(t, OpRun, stepErr.Op)
	assert.Contains(t, err.Error(), "step 4 (synth setup, op run)")

	require.Len(t, result.Steps, 4)
	assert.Equal(t, journal.StatusFailed, result.Steps[3].Status)

	// Later steps never ran
	assert.Contains(t, readFile(t, filepath.Join(boardDir, "hardware", "ofs_top.qpf")), "PROJECT_REVISION = \"old\"")
	assert.NoFileExists(t, filepath.Join(boardDir, "bsp_dir_filelist.txt"))

	record, err := f.store.Load("n6001")
	require.NoError(t, err)
	assert.Equal(t, journal.StatusFailed, record.Status)
	assert.Empty(t, record.Digest)
	failed, ok := record.FailedStep()
	require.True(t, ok)
	assert.Equal(t, 4, failed.Index)
}

func TestDriver_DryRun(t *testing.T) {
	f := newFixture(t, stagePipeline)
	boardDir := filepath.Join(f.root, "n6001")

	result, err := f.run(t, true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	require.Len(t, result.Steps, 7)

	for _, step := range result.Steps {
		assert.Equal(t, StatusPlanned, step.Status, "step %d", step.Index)
	}

	// Later steps see what earlier ones would have staged
	synTop := filepath.Join(boardDir, "hardware", "syn", "syn_top")
	assert.Equal(t, "SYN_TOP="+synTop, result.Steps[2].Detail)
	require.NotNil(t, result.Steps[3].Command)
	assert.Equal(t, []string{"-s", filepath.Join(synTop, "setup.tcl"), "build"}, result.Steps[3].Command.Args)
	assert.NotEmpty(t, result.Steps[1].Operations)

	assert.Empty(t, f.runner.Calls)
	assert.NoDirExists(t, boardDir)
	_, err = f.store.Load("n6001")
	assert.ErrorIs(t, err, journal.ErrNoRecord)
}

func TestDriver_DryRunAfterReset(t *testing.T) {
	f := newFixture(t, `
boards:
  n6001:
    steps:
      - op: reset
        path: ${BOARD_DIR}
      - op: copy
        from: ${BSP_ROOT}/src/*
        to: ${BOARD_DIR}
      - op: resolve
        pattern: ${BOARD_DIR}/x
        as: X
`)
	boardDir := filepath.Join(f.root, "n6001")
	writeFile(t, filepath.Join(f.root, "src", "x"), "now a file\n")
	writeFile(t, filepath.Join(boardDir, "x", "old.sv"), "module old;\n")

	// The existing directory is gone after reset, so copying a file over
	// its name is no type conflict
	result, err := f.run(t, true)
	require.NoError(t, err)
	require.Len(t, result.Steps, 3)
	for _, step := range result.Steps {
		assert.Equal(t, StatusPlanned, step.Status, "step %d", step.Index)
	}
	assert.Equal(t, "X="+filepath.Join(boardDir, "x"), result.Steps[2].Detail)

	assert.FileExists(t, filepath.Join(boardDir, "x", "old.sv"))
	assert.Equal(t, "module old;\n", readFile(t, filepath.Join(boardDir, "x", "old.sv")))

	_, err = f.run(t, false)
	require.NoError(t, err)
	assert.Equal(t, "now a file\n", readFile(t, filepath.Join(boardDir, "x")))
}

func TestDriver_DryRunUnresolvedLookup(t *testing.T) {
	f := newFixture(t, `
boards:
  n6001:
    steps:
      - op: find-file
        find: missing.qsf
        under: ${BSP_ROOT}
        as: QSF
      - op: run
        command: [quartus_sh, -t, '${QSF}']
`)
	result, err := f.run(t, true)
	require.NoError(t, err)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, journal.StatusSkipped, result.Steps[0].Status)
	assert.Equal(t, StatusPlanned, result.Steps[1].Status)
	assert.Equal(t, []string{"-t", "<QSF>"}, result.Steps[1].Command.Args)
}

func TestDriver_Preflight(t *testing.T) {
	tests := []struct {
		name     string
		pipeline string
		board    string
		env      map[string]string
		wantErr  error
	}{
		{
			name:     "unknown board",
			pipeline: stagePipeline,
			board:    "d5005",
			wantErr:  config.ErrUnknownBoard,
		},
		{
			name:     "missing env",
			pipeline: stagePipeline,
			board:    "n6001",
			env:      map[string]string{},
			wantErr:  config.ErrMissingEnv,
		},
		{
			name:     "unknown op",
			pipeline: "boards:\n  n6001:\n    steps:\n      - op: reset\n        path: x\n      - op: unzip\n",
			board:    "n6001",
			wantErr:  ErrUnknownOp,
		},
		{
			name:     "missing field",
			pipeline: "boards:\n  n6001:\n    steps:\n      - op: copy\n        from: x/*\n",
			board:    "n6001",
			wantErr:  ErrInvalidStep,
		},
		{
			name:     "undefined board dir variable",
			pipeline: "boards:\n  n6001:\n    dir: ${NOWHERE}/n6001\n    steps: []\n",
			board:    "n6001",
			wantErr:  ErrUndefinedVariable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.pipeline)
			if tt.env != nil {
				f.driver.lookupEnv = envOf(tt.env)
			}

			result, err := f.driver.Run(context.Background(), &RunRequest{
				Pipeline: f.pipe,
				Board:    tt.board,
				Root:     f.root,
			})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, result)
			assert.Empty(t, f.runner.Calls)
			assert.NoDirExists(t, filepath.Join(f.root, ".bspstage"))
		})
	}
}

func TestDriver_UndefinedVariableInStep(t *testing.T) {
	f := newFixture(t, "boards:\n  n6001:\n    steps:\n      - op: reset\n        path: ${BOARD_DIR}\n      - op: reset\n        path: ${MISSING}/x\n")

	result, err := f.run(t, false)
	assert.ErrorIs(t, err, ErrUndefinedVariable)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, journal.StatusSucceeded, result.Steps[0].Status)
	assert.Equal(t, journal.StatusFailed, result.Steps[1].Status)
}

func TestDriver_CanceledContext(t *testing.T) {
	f := newFixture(t, stagePipeline)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.driver.Run(ctx, &RunRequest{Pipeline: f.pipe, Board: "n6001", Root: f.root})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDriver_BoardDirAndRelativePaths(t *testing.T) {
	pipeline := `
boards:
  n6001:
    dir: out/${BOARD}
    steps:
      - op: write
        path: ${BOARD_DIR}/notes.txt
        lines: [one, two]
      - op: copy-file
        from: out/n6001/notes.txt
        to: out/n6001/copy.txt
      - op: move
        from: ${BOARD_DIR}/copy.txt
        to: ${BOARD_DIR}/moved.txt
      - op: replace-all
        path: ${BOARD_DIR}/moved.txt
        needle: o
        replacement: 0
      - op: append
        path: ${BOARD_DIR}/moved.txt
        text: "tail"
      - op: resolve
        pattern: ${BOARD_DIR}/mov*.txt
        as: MOVED
      - op: replace-in-lines
        path: ${MOVED}
        needle: tw0
        replacement: "$$2"
`
	f := newFixture(t, pipeline)
	boardDir := filepath.Join(f.root, "out", "n6001")

	result, err := f.run(t, false)
	require.NoError(t, err)
	assert.Equal(t, boardDir, result.BoardDir)

	assert.Equal(t, "one\ntwo\n", readFile(t, filepath.Join(boardDir, "notes.txt")))
	assert.NoFileExists(t, filepath.Join(boardDir, "copy.txt"))
	assert.Equal(t, "0ne\n$2\ntail", readFile(t, filepath.Join(boardDir, "moved.txt")))
}

func TestValidateStep(t *testing.T) {
	tests := []struct {
		step    config.Step
		wantErr error
	}{
		{step: config.Step{Op: OpReset, Path: "x"}},
		{step: config.Step{Op: OpReset}, wantErr: ErrInvalidStep},
		{step: config.Step{Op: OpDeleteLines, Path: "x", Needles: []string{"a"}}},
		{step: config.Step{Op: OpDeleteLines, Path: "x"}, wantErr: ErrInvalidStep},
		{step: config.Step{Op: OpAppend, Path: "x", Text: "t"}},
		{step: config.Step{Op: OpRun, Command: []string{""}}, wantErr: ErrInvalidStep},
		{step: config.Step{Op: OpFindFile, Find: "a", Under: "b"}, wantErr: ErrInvalidStep},
		{step: config.Step{Op: "rsync"}, wantErr: ErrUnknownOp},
	}

	for _, tt := range tests {
		err := ValidateStep(tt.step)
		if tt.wantErr == nil {
			assert.NoError(t, err, tt.step.Op)
		} else {
			assert.ErrorIs(t, err, tt.wantErr, tt.step.Op)
		}
	}

	err := ValidateStep(config.Step{Op: OpDeleteLines})
	assert.Contains(t, err.Error(), "path, needle or needles")
	assert.Contains(t, Ops(), OpManifest)
}

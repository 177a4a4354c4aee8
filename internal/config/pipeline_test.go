package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieljhkim/bspstage/internal/planner"
)

const samplePipelineYAML = `
vars:
  TEMPLATE: ${OFS_ROOT}/template
env:
  required: [OFS_ROOT]
boards:
  n6001:
    description: Intel FPGA SmartNIC N6001-PL
    vars:
      FIM: ${TEMPLATE}/n6001
    env:
      required: [QUARTUS_ROOTDIR, OFS_ROOT]
    steps:
      - op: reset
        path: ${BOARD_DIR}/hardware
      - op: copy
        name: template
        from: ${FIM}/*
        to: ${BOARD_DIR}/hardware
        hidden: false
      - op: symlink
        from: ${FIM}/ipss/*
        to: ${BOARD_DIR}/ipss
        link: relative
      - op: run
        command: [afu_synth_setup, -s, filelist.txt, build]
        dir: ${BOARD_DIR}
        env:
          JOBS: 4
      - op: delete-lines
        path: ${BOARD_DIR}/ofs_top.qpf
        needles: [PROJECT_REVISION, SOURCE]
      - op: append
        path: ${BOARD_DIR}/ofs_top.qpf
        lines:
          - 'PROJECT_REVISION = "ofs_top"'
  d5005:
    steps:
      - op: reset
        path: ${BOARD_DIR}
`

const samplePipelineTOML = `
[vars]
TEMPLATE = "/opt/template"

[[boards.iseries_dk.steps]]
op = "copy"
from = "${TEMPLATE}/*"
to = "${BOARD_DIR}"
allow_empty = true

[[boards.iseries_dk.steps]]
op = "manifest"
dir = "${BOARD_DIR}"
file = "bsp_dir_filelist.txt"
extra = ["qdb"]
`

func writePipeline(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadPipeline_YAML(t *testing.T) {
	path := writePipeline(t, "bspstage.yaml", samplePipelineYAML)

	p, err := LoadPipeline(path)
	require.NoError(t, err)
	assert.Equal(t, path, p.Path)
	assert.Equal(t, []string{"d5005", "n6001"}, p.BoardNames())
	assert.Equal(t, "${OFS_ROOT}/template", p.Vars["TEMPLATE"])

	board, err := p.Board("n6001")
	require.NoError(t, err)
	require.Len(t, board.Steps, 6)
	assert.Equal(t, "${TEMPLATE}/n6001", board.Vars["FIM"])

	copyStep := board.Steps[1]
	assert.Equal(t, "copy", copyStep.Op)
	assert.Equal(t, "template", copyStep.Label())
	assert.False(t, copyStep.IncludeHidden())

	assert.Equal(t, planner.LinkRelative, board.Steps[2].Link)
	assert.True(t, board.Steps[2].IncludeHidden())

	run := board.Steps[3]
	assert.Equal(t, []string{"afu_synth_setup", "-s", "filelist.txt", "build"}, run.Command)
	assert.Equal(t, "4", run.Env["JOBS"])
	assert.Equal(t, "run", run.Label())

	assert.Equal(t, []string{"PROJECT_REVISION", "SOURCE"}, board.Steps[4].Needles)
	assert.Equal(t, []string{`PROJECT_REVISION = "ofs_top"`}, board.Steps[5].Lines)

	assert.Equal(t, []string{"OFS_ROOT", "QUARTUS_ROOTDIR"}, p.RequiredEnv(board))
}

func TestLoadPipeline_TOML(t *testing.T) {
	path := writePipeline(t, "bspstage.toml", samplePipelineTOML)

	p, err := LoadPipeline(path)
	require.NoError(t, err)

	board, err := p.Board("iseries_dk")
	require.NoError(t, err)
	require.Len(t, board.Steps, 2)
	assert.True(t, board.Steps[0].AllowEmpty)
	assert.Equal(t, "bsp_dir_filelist.txt", board.Steps[1].File)
	assert.Equal(t, []string{"qdb"}, board.Steps[1].Extra)
}

func TestLoadPipeline_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "no boards", file: "p.yaml", content: "vars: {A: b}\n"},
		{name: "step without op", file: "p.yaml", content: "boards:\n  n6001:\n    steps:\n      - path: x\n"},
		{name: "bad link target", file: "p.yaml", content: "boards:\n  n6001:\n    steps:\n      - op: symlink\n        link: hard\n"},
		{name: "hidden board name", file: "p.yaml", content: "boards:\n  .n6001:\n    steps: []\n"},
		{name: "dotted board name", file: "p.yaml", content: "boards:\n  n6001.v2:\n    steps: []\n"},
		{name: "unsupported extension", file: "p.json", content: "{}"},
		{name: "malformed yaml", file: "p.yaml", content: "boards: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPipeline(writePipeline(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadPipeline_DottedKeysStayFlat(t *testing.T) {
	p, err := LoadPipeline(writePipeline(t, "bspstage.yaml", `
vars:
  quartus.version: "23.4"
boards:
  n6001:
    vars:
      ofs.rev: b
    steps:
      - op: reset
        path: out
`))
	require.NoError(t, err)
	assert.Equal(t, "23.4", p.Vars["quartus.version"])
	board, err := p.Board("n6001")
	require.NoError(t, err)
	assert.Equal(t, "b", board.Vars["ofs.rev"])
}

func TestPipeline_UnknownBoard(t *testing.T) {
	p, err := LoadPipeline(writePipeline(t, "bspstage.yaml", samplePipelineYAML))
	require.NoError(t, err)

	_, err = p.Board("agilex7")
	assert.ErrorIs(t, err, ErrUnknownBoard)
	assert.Contains(t, err.Error(), "d5005, n6001")
}

func TestPipeline_CheckEnv(t *testing.T) {
	p, err := LoadPipeline(writePipeline(t, "bspstage.yaml", samplePipelineYAML))
	require.NoError(t, err)
	board, err := p.Board("n6001")
	require.NoError(t, err)

	env := map[string]string{"OFS_ROOT": "/ofs", "QUARTUS_ROOTDIR": ""}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	err = p.CheckEnv(board, lookup)
	assert.ErrorIs(t, err, ErrMissingEnv)
	assert.Contains(t, err.Error(), "QUARTUS_ROOTDIR")
	assert.NotContains(t, err.Error(), "OFS_ROOT")

	env["QUARTUS_ROOTDIR"] = "/opt/quartus"
	assert.NoError(t, p.CheckEnv(board, lookup))
}

func TestFindPipelineFile(t *testing.T) {
	root := t.TempDir()

	_, err := FindPipelineFile(root, "")
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(filepath.Join(root, "bspstage.toml"), []byte(samplePipelineTOML), 0644))
	got, err := FindPipelineFile(root, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "bspstage.toml"), got)

	require.NoError(t, os.WriteFile(filepath.Join(root, "bspstage.yaml"), []byte(samplePipelineYAML), 0644))
	got, err = FindPipelineFile(root, DefaultPipelineFile)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "bspstage.yaml"), got)

	got, err = FindPipelineFile(root, "boards/custom.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "boards", "custom.yaml"), got)
}

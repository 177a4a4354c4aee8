package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieljhkim/bspstage/internal/fsops"
)

func newMemPatcher(t *testing.T, files map[string]string) (*Patcher, fsops.FS) {
	t.Helper()
	fs := fsops.NewMemFS()
	for path, content := range files {
		require.NoError(t, fs.AtomicWrite(path, []byte(content), 0644))
	}
	return New(fs, WithLogger(zerolog.Nop())), fs
}

func read(t *testing.T, fs fsops.FS, path string) string {
	t.Helper()
	data, err := fs.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPatcher_DeleteLinesContaining(t *testing.T) {
	p, fs := newMemPatcher(t, map[string]string{
		"/syn/ofs_top.qpf": "QUARTUS_VERSION = \"23.4\"\nPROJECT_REVISION = \"ofs_top\"\n",
	})

	res, err := p.DeleteLinesContaining("/syn/ofs_top.qpf", "PROJECT_REVISION")
	require.NoError(t, err)
	assert.Equal(t, 1, res.LinesRemoved)
	assert.Equal(t, "QUARTUS_VERSION = \"23.4\"\n", read(t, fs, "/syn/ofs_top.qpf"))

	// No remaining line contains the needle, so a second run changes nothing
	res, err = p.DeleteLinesContaining("/syn/ofs_top.qpf", "PROJECT_REVISION")
	require.NoError(t, err)
	assert.Equal(t, 0, res.LinesRemoved)
}

func TestPatcher_ReplaceInMatchingLines(t *testing.T) {
	p, fs := newMemPatcher(t, map[string]string{
		"/afu.qsf": "set_global_assignment -name TOP_LEVEL_ENTITY ofs_top\nkeep ofs\n",
	})

	res, err := p.ReplaceInMatchingLines("/afu.qsf", "ofs_top", "afu_top")
	require.NoError(t, err)
	assert.Equal(t, 1, res.LinesChanged)
	assert.Equal(t, "set_global_assignment -name TOP_LEVEL_ENTITY afu_top\nkeep ofs\n", read(t, fs, "/afu.qsf"))
}

func TestPatcher_ReplaceAllOccurrences(t *testing.T) {
	p, fs := newMemPatcher(t, map[string]string{
		"/build.tcl": "set X 1\nset X 2\n",
	})

	res, err := p.ReplaceAllOccurrences("/build.tcl", "set X", "set Y")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Replacements)
	assert.Equal(t, "set Y 1\nset Y 2\n", read(t, fs, "/build.tcl"))
}

func TestPatcher_AppendLines(t *testing.T) {
	p, fs := newMemPatcher(t, map[string]string{
		"/ofs_top.qpf": "QUARTUS_VERSION = \"23.4\"",
	})

	res, err := p.AppendLines("/ofs_top.qpf", "\n", "\n", "PROJECT_REVISION = \"afu_flat\"\n", "PROJECT_REVISION = \"afu_flat\"\n")
	require.NoError(t, err)
	assert.Equal(t, len("\n\nPROJECT_REVISION = \"afu_flat\"\nPROJECT_REVISION = \"afu_flat\"\n"), res.BytesWritten)

	// Verbatim: no reordering, no dedup
	assert.Equal(t,
		"QUARTUS_VERSION = \"23.4\"\n\nPROJECT_REVISION = \"afu_flat\"\nPROJECT_REVISION = \"afu_flat\"\n",
		read(t, fs, "/ofs_top.qpf"))

	_, err = p.AppendLines("/missing.qpf", "x\n")
	assert.ErrorIs(t, err, fsops.ErrMissingPath)
}

func TestPatcher_Apply(t *testing.T) {
	p, fs := newMemPatcher(t, map[string]string{
		"/kernel.qsf": "a user_clocks.sdc\nb SCJIO\nc SEARCH_PATH\nd keep\n",
	})

	results, err := p.Apply("/kernel.qsf",
		DeleteLines("user_clocks.sdc"),
		DeleteLines("SCJIO"),
		ReplaceInLines("SEARCH_PATH", "search_path"),
		Append("e appended\n"),
	)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "c search_path\nd keep\ne appended\n", read(t, fs, "/kernel.qsf"))

	// An invalid rule stops the sequence after the rules before it
	results, err = p.Apply("/kernel.qsf", DeleteLines("keep"), DeleteLines(""), DeleteLines("search_path"))
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.Len(t, results, 1)
	assert.Equal(t, "c search_path\ne appended\n", read(t, fs, "/kernel.qsf"))
}

func TestPatcher_InvalidRuleLeavesFile(t *testing.T) {
	p, fs := newMemPatcher(t, map[string]string{"/a.txt": "x\n"})

	_, err := p.DeleteLinesContaining("/a.txt", "")
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.Equal(t, "x\n", read(t, fs, "/a.txt"))
}

func TestPatcher_MissingFile(t *testing.T) {
	p, _ := newMemPatcher(t, nil)

	_, err := p.DeleteLinesContaining("/nope.qsf", "x")
	assert.ErrorIs(t, err, fsops.ErrMissingPath)

	_, err = p.ReplaceAllOccurrences("/nope.qsf", "x", "y")
	assert.ErrorIs(t, err, fsops.ErrMissingPath)
}

func TestPatcher_DryRun(t *testing.T) {
	fs := fsops.NewMemFS()
	require.NoError(t, fs.AtomicWrite("/a.txt", []byte("drop\nkeep\n"), 0644))
	p := New(fs, WithLogger(zerolog.Nop()), WithDryRun(true))

	res, err := p.DeleteLinesContaining("/a.txt", "drop")
	require.NoError(t, err)
	assert.Equal(t, 1, res.LinesRemoved)

	_, err = p.AppendLines("/a.txt", "more\n")
	require.NoError(t, err)
	_, err = p.WriteLines("/b.txt", "new\n")
	require.NoError(t, err)

	assert.Equal(t, "drop\nkeep\n", read(t, fs, "/a.txt"))
	ok, err := fs.Exists("/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPatcher_WriteLines(t *testing.T) {
	p, fs := newMemPatcher(t, nil)

	res, err := p.WriteLines("/tools/list.txt", "a\n", "b\n")
	require.NoError(t, err)
	assert.Equal(t, 4, res.BytesWritten)
	assert.Equal(t, "a\nb\n", read(t, fs, "/tools/list.txt"))

	_, err = p.WriteLines("/tools/list.txt", "c\n")
	require.NoError(t, err)
	assert.Equal(t, "c\n", read(t, fs, "/tools/list.txt"))
}

func TestPatcher_RealFS_PreservesModeAndFollowsSymlink(t *testing.T) {
	tmpDir := t.TempDir()
	vendorFile := filepath.Join(tmpDir, "vendor", "ofs_top.qsf")
	require.NoError(t, os.MkdirAll(filepath.Dir(vendorFile), 0755))
	require.NoError(t, os.WriteFile(vendorFile, []byte("a\nSOURCE b\n"), 0640))

	link := filepath.Join(tmpDir, "board", "ofs_top.qsf")
	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0755))
	require.NoError(t, os.Symlink(filepath.Join("..", "vendor", "ofs_top.qsf"), link))

	p := New(fsops.NewRealFS(), WithLogger(zerolog.Nop()))
	_, err := p.DeleteLinesContaining(link, "SOURCE")
	require.NoError(t, err)

	// The link still points at the patched file
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "vendor", "ofs_top.qsf"), target)

	data, err := os.ReadFile(vendorFile)
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(data))

	info, err := os.Stat(vendorFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
}

func TestPatcher_MakeWritable(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "ofs_top.qpf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0444))

	p := New(fsops.NewRealFS(), WithLogger(zerolog.Nop()))
	require.NoError(t, p.MakeWritable(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	// Already writable is a no-op
	require.NoError(t, p.MakeWritable(path))

	err = p.MakeWritable(filepath.Join(tmpDir, "missing"))
	assert.ErrorIs(t, err, fsops.ErrMissingPath)
}

package fsops

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
}

func TestAferoFS_ValidateIdentifier(t *testing.T) {
	fsys := NewRealFS()

	tests := []struct {
		name      string
		id        string
		wantError bool
	}{
		{name: "board name", id: "n6001", wantError: false},
		{name: "with dashes and underscores", id: "iseries_dk-v2", wantError: false},
		{name: "empty", id: "", wantError: true},
		{name: "current directory", id: ".", wantError: true},
		{name: "parent directory", id: "..", wantError: true},
		{name: "hidden", id: ".board", wantError: true},
		{name: "separator", id: "boards/n6001", wantError: true},
		{name: "backslash", id: `boards\n6001`, wantError: true},
		{name: "absolute", id: "/etc/hosts", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fsys.ValidateIdentifier(tt.id)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAferoFS_Exists(t *testing.T) {
	fsys := NewRealFS()
	tmpDir := t.TempDir()

	t.Run("existing file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "exists.txt")
		writeFile(t, path, "x", 0644)
		ok, err := fsys.Exists(path)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("missing file", func(t *testing.T) {
		ok, err := fsys.Exists(filepath.Join(tmpDir, "nope"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("dangling symlink", func(t *testing.T) {
		link := filepath.Join(tmpDir, "dangling")
		require.NoError(t, os.Symlink(filepath.Join(tmpDir, "gone"), link))
		ok, err := fsys.Exists(link)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestAferoFS_CopyFilePreservesStat(t *testing.T) {
	fsys := NewRealFS()
	tmpDir := t.TempDir()

	src := filepath.Join(tmpDir, "packager")
	writeFile(t, src, "#!/bin/sh\necho hi\n", 0755)
	mtime := time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	dst := filepath.Join(tmpDir, "tools", "packager")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0755))
	require.NoError(t, fsys.CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho hi\n", string(data))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime), "mtime = %v, want %v", info.ModTime(), mtime)
}

func TestAferoFS_CopyFileMissingSource(t *testing.T) {
	fsys := NewRealFS()
	tmpDir := t.TempDir()

	err := fsys.CopyFile(filepath.Join(tmpDir, "missing"), filepath.Join(tmpDir, "dst"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingPath)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestAferoFS_CopyFileRejectsDirectory(t *testing.T) {
	fsys := NewRealFS()
	tmpDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "dir"), 0755))

	err := fsys.CopyFile(filepath.Join(tmpDir, "dir"), filepath.Join(tmpDir, "dst"))
	assert.Error(t, err)
}

func TestAferoFS_AtomicWrite(t *testing.T) {
	fsys := NewRealFS()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "record.json")

	require.NoError(t, fsys.AtomicWrite(path, []byte("{}"), 0640))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestAferoFS_AppendFile(t *testing.T) {
	fsys := NewMemFS()
	require.NoError(t, fsys.AtomicWrite("/db.txt", []byte("A=1\n"), 0644))

	require.NoError(t, fsys.AppendFile("/db.txt", []byte("B=2\n")))

	data, err := fsys.ReadFile("/db.txt")
	require.NoError(t, err)
	assert.Equal(t, "A=1\nB=2\n", string(data))

	err = fsys.AppendFile("/missing.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrMissingPath)
}

func TestAferoFS_SymlinkUnsupportedOnMemFS(t *testing.T) {
	fsys := NewMemFS()
	err := fsys.Symlink("/a", "/b")
	assert.ErrorIs(t, err, ErrSymlinkUnsupported)

	_, err = fsys.Readlink("/b")
	assert.ErrorIs(t, err, ErrSymlinkUnsupported)
}

func TestAferoFS_Glob(t *testing.T) {
	fsys := NewRealFS()
	tmpDir := t.TempDir()

	writeFile(t, filepath.Join(tmpDir, "src", "visible.txt"), "v", 0644)
	writeFile(t, filepath.Join(tmpDir, "src", ".hidden.txt"), "h", 0644)
	writeFile(t, filepath.Join(tmpDir, "src", "sub", "fme_id.txt"), "f", 0644)
	writeFile(t, filepath.Join(tmpDir, "src", "sub", "fme_ifc.txt"), "f", 0644)
	writeFile(t, filepath.Join(tmpDir, "src", ".git", "config"), "g", 0644)

	rel := func(paths []string) []string {
		out := make([]string, 0, len(paths))
		for _, p := range paths {
			r, err := filepath.Rel(tmpDir, p)
			require.NoError(t, err)
			out = append(out, r)
		}
		sort.Strings(out)
		return out
	}

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{
			name:    "bare wildcard skips dotfiles",
			pattern: "src/*",
			want:    []string{"src/sub", "src/visible.txt"},
		},
		{
			name:    "dot wildcard matches only dotfiles",
			pattern: "src/.*",
			want:    []string{"src/.git", "src/.hidden.txt"},
		},
		{
			name:    "nested pattern",
			pattern: "src/*/fme*.txt",
			want:    []string{"src/sub/fme_id.txt", "src/sub/fme_ifc.txt"},
		},
		{
			name:    "wildcard directory does not descend into hidden directories",
			pattern: "src/*/config",
			want:    []string{},
		},
		{
			name:    "literal existing path",
			pattern: "src/visible.txt",
			want:    []string{"src/visible.txt"},
		},
		{
			name:    "literal missing path",
			pattern: "src/missing.txt",
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := fsys.Glob(filepath.Join(tmpDir, tt.pattern))
			require.NoError(t, err)
			assert.Equal(t, tt.want, rel(matches))
		})
	}
}

func TestAferoFS_GlobBadPattern(t *testing.T) {
	fsys := NewMemFS()
	require.NoError(t, fsys.MkdirAll("/src", 0755))
	require.NoError(t, fsys.AtomicWrite("/src/a", []byte("a"), 0644))

	_, err := fsys.Glob("/src/[")
	assert.True(t, errors.Is(err, filepath.ErrBadPattern), "got %v", err)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("read", "/x", nil))

	err := Classify("read", "/x", fs.ErrNotExist)
	assert.ErrorIs(t, err, ErrMissingPath)
	assert.Contains(t, err.Error(), "/x")

	err = Classify("write", "/y", fs.ErrPermission)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// Already classified errors are not wrapped twice
	once := Classify("read", "/x", fs.ErrNotExist)
	assert.Equal(t, once, Classify("copy", "/z", once))

	other := errors.New("disk on fire")
	err = Classify("write", "/y", other)
	assert.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, ErrMissingPath)
}

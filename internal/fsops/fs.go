// Package fsops provides the filesystem primitives used to stage board trees.
//
// Every filesystem touch in bspstage goes through the FS interface. The
// default implementation is backed by afero, so the same code runs against
// the OS filesystem in production and an in-memory filesystem in tests.
//
// Key features:
//   - Shell-style glob resolution (a bare * never matches dotfiles)
//   - Stat-preserving file copy (permission bits and modification time)
//   - Atomic writes using temp file + rename
//   - Symlink-aware operations where the backend supports them
//   - Error classification into ErrMissingPath / ErrPermissionDenied
//
// Stat, Lstat, Readlink and Exists return raw errors so callers can test
// for os.ErrNotExist. Mutating and reading operations return classified errors.
package fsops

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FS provides an abstraction for filesystem operations.
type FS interface {
	// Stat returns file info, following symlinks.
	Stat(path string) (os.FileInfo, error)

	// Lstat returns file info without following symlinks.
	Lstat(path string) (os.FileInfo, error)

	// Readlink reads the target of a symlink.
	Readlink(path string) (string, error)

	// Mkdir creates a single directory.
	Mkdir(path string, perm os.FileMode) error

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm os.FileMode) error

	// Remove removes a file, symlink or empty directory.
	Remove(path string) error

	// RemoveAll removes a path and all its contents. Absent paths are not an error.
	RemoveAll(path string) error

	// Rename moves oldpath to newpath.
	Rename(oldpath, newpath string) error

	// Symlink creates newname as a symbolic link to oldname.
	Symlink(oldname, newname string) error

	// CopyFile copies the regular file src to the path dst, preserving
	// permission bits and modification time. dst is truncated if present.
	CopyFile(src, dst string) error

	// AtomicWrite writes data to path atomically using temp file + rename.
	AtomicWrite(path string, data []byte, perm os.FileMode) error

	// ReadFile reads the entire contents of a file.
	ReadFile(path string) ([]byte, error)

	// AppendFile appends data to an existing file.
	AppendFile(path string, data []byte) error

	// Chmod changes the mode of a file.
	Chmod(path string, mode os.FileMode) error

	// ReadDir lists a directory, sorted by name.
	ReadDir(path string) ([]os.FileInfo, error)

	// Glob resolves a shell-style pattern against the filesystem.
	Glob(pattern string) ([]string, error)

	// Walk walks the tree rooted at root without following symlinks.
	Walk(root string, fn filepath.WalkFunc) error

	// Exists checks if a path exists (a dangling symlink exists).
	Exists(path string) (bool, error)

	// ValidateIdentifier validates an identifier used as a file name.
	ValidateIdentifier(id string) error
}

// AferoFS implements FS on top of an afero.Fs.
type AferoFS struct {
	fs afero.Fs
}

// NewRealFS creates an FS backed by the operating system.
func NewRealFS() *AferoFS {
	return NewAferoFS(afero.NewOsFs())
}

// NewMemFS creates an FS backed by memory. Symlinks are not supported.
func NewMemFS() *AferoFS {
	return NewAferoFS(afero.NewMemMapFs())
}

// NewAferoFS wraps an arbitrary afero filesystem.
func NewAferoFS(fs afero.Fs) *AferoFS {
	return &AferoFS{fs: fs}
}

// Afero exposes the backing filesystem.
func (a *AferoFS) Afero() afero.Fs {
	return a.fs
}

func (a *AferoFS) Stat(path string) (os.FileInfo, error) {
	return a.fs.Stat(path)
}

func (a *AferoFS) Lstat(path string) (os.FileInfo, error) {
	if l, ok := a.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return a.fs.Stat(path)
}

func (a *AferoFS) Readlink(path string) (string, error) {
	if r, ok := a.fs.(afero.LinkReader); ok {
		return r.ReadlinkIfPossible(path)
	}
	return "", &os.PathError{Op: "readlink", Path: path, Err: ErrSymlinkUnsupported}
}

func (a *AferoFS) Mkdir(path string, perm os.FileMode) error {
	return Classify("mkdir", path, a.fs.Mkdir(path, perm))
}

func (a *AferoFS) MkdirAll(path string, perm os.FileMode) error {
	return Classify("mkdir", path, a.fs.MkdirAll(path, perm))
}

func (a *AferoFS) Remove(path string) error {
	return Classify("remove", path, a.fs.Remove(path))
}

func (a *AferoFS) RemoveAll(path string) error {
	return Classify("remove", path, a.fs.RemoveAll(path))
}

func (a *AferoFS) Rename(oldpath, newpath string) error {
	return Classify("rename", oldpath, a.fs.Rename(oldpath, newpath))
}

func (a *AferoFS) Symlink(oldname, newname string) error {
	l, ok := a.fs.(afero.Linker)
	if !ok {
		return Classify("symlink", newname, ErrSymlinkUnsupported)
	}
	return Classify("symlink", newname, l.SymlinkIfPossible(oldname, newname))
}

func (a *AferoFS) CopyFile(src, dst string) error {
	// Stat follows symlinks: the link target's content is copied
	srcInfo, err := a.fs.Stat(src)
	if err != nil {
		return Classify("copy", src, err)
	}
	if srcInfo.IsDir() {
		return fmt.Errorf("copy %s: source is a directory", src)
	}

	in, err := a.fs.Open(src)
	if err != nil {
		return Classify("copy", src, err)
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := a.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return Classify("copy", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return Classify("copy", dst, err)
	}
	if err := out.Close(); err != nil {
		return Classify("copy", dst, err)
	}

	// OpenFile only applies perm on creation and under the umask
	if err := a.fs.Chmod(dst, srcInfo.Mode().Perm()); err != nil {
		return Classify("chmod", dst, err)
	}
	mtime := srcInfo.ModTime()
	if err := a.fs.Chtimes(dst, mtime, mtime); err != nil {
		return Classify("chtimes", dst, err)
	}
	return nil
}

func (a *AferoFS) AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := a.fs.MkdirAll(dir, 0755); err != nil {
		return Classify("mkdir", dir, err)
	}

	tmpFile, err := afero.TempFile(a.fs, dir, ".bspstage-tmp-*")
	if err != nil {
		return Classify("create temp file in", dir, err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on error
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = a.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return Classify("write", tmpPath, err)
	}
	if err := tmpFile.Sync(); err != nil {
		return Classify("sync", tmpPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		return Classify("close", tmpPath, err)
	}
	if err := a.fs.Chmod(tmpPath, perm); err != nil {
		return Classify("chmod", tmpPath, err)
	}
	if err := a.fs.Rename(tmpPath, path); err != nil {
		return Classify("rename", tmpPath, err)
	}

	tmpFile = nil
	return nil
}

func (a *AferoFS) ReadFile(path string) ([]byte, error) {
	data, err := afero.ReadFile(a.fs, path)
	if err != nil {
		return nil, Classify("read", path, err)
	}
	return data, nil
}

func (a *AferoFS) AppendFile(path string, data []byte) error {
	f, err := a.fs.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return Classify("append", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return Classify("append", path, err)
	}
	return Classify("append", path, f.Close())
}

func (a *AferoFS) Chmod(path string, mode os.FileMode) error {
	return Classify("chmod", path, a.fs.Chmod(path, mode))
}

func (a *AferoFS) ReadDir(path string) ([]os.FileInfo, error) {
	entries, err := afero.ReadDir(a.fs, path)
	if err != nil {
		return nil, Classify("read directory", path, err)
	}
	return entries, nil
}

func (a *AferoFS) Walk(root string, fn filepath.WalkFunc) error {
	return afero.Walk(a.fs, root, fn)
}

func (a *AferoFS) Exists(path string) (bool, error) {
	_, err := a.Lstat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ValidateIdentifier validates an identifier (e.g. a board name) for use as a
// file name. Returns an error if it contains separators or traversal.
func (a *AferoFS) ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("invalid identifier: empty")
	}

	if strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, filepath.Separator) {
		return fmt.Errorf("invalid identifier %q: must not contain path separators", id)
	}

	if strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid identifier %q: must not start with a dot", id)
	}

	return nil
}

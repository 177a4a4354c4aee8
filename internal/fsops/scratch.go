package fsops

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

// maxLinkHops bounds symlink resolution, as the kernel does.
const maxLinkHops = 40

// ScratchFS is a writable view over a base FS that never touches the base.
//
// Writes land in an in-memory afero layer. Removals are recorded as
// whiteouts that hide the base at and below the removed path, so a removed
// and re-created directory starts empty. Symlinks live in the view itself
// because MemMapFs has none. Dry runs execute against a ScratchFS so each
// step sees what the steps before it would have done.
type ScratchFS struct {
	base     FS
	layer    afero.Fs
	links    map[string]string
	whiteout map[string]bool
}

// NewScratchFS creates an empty view over base.
func NewScratchFS(base FS) *ScratchFS {
	return &ScratchFS{
		base:     base,
		layer:    afero.NewMemMapFs(),
		links:    make(map[string]string),
		whiteout: make(map[string]bool),
	}
}

type linkInfo struct {
	name   string
	target string
}

func (l linkInfo) Name() string       { return l.name }
func (l linkInfo) Size() int64        { return int64(len(l.target)) }
func (l linkInfo) Mode() os.FileMode  { return os.ModeSymlink | 0777 }
func (l linkInfo) ModTime() time.Time { return time.Time{} }
func (l linkInfo) IsDir() bool        { return false }
func (l linkInfo) Sys() any           { return nil }

func absPath(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return filepath.Clean(p)
}

// hidden reports whether the base entry at p is shadowed by a whiteout, or
// by a layer entry above it that is not a directory.
func (s *ScratchFS) hidden(p string) bool {
	for a := p; ; a = filepath.Dir(a) {
		if s.whiteout[a] {
			return true
		}
		if a != p {
			if _, ok := s.links[a]; ok {
				return true
			}
			if info, err := s.layer.Stat(a); err == nil && !info.IsDir() {
				return true
			}
		}
		if a == filepath.Dir(a) {
			return false
		}
	}
}

// lstatRaw looks up p, whose parent components are known not to be links.
func (s *ScratchFS) lstatRaw(p string) (os.FileInfo, error) {
	if target, ok := s.links[p]; ok {
		return linkInfo{name: filepath.Base(p), target: target}, nil
	}
	if info, err := s.layer.Stat(p); err == nil {
		return info, nil
	}
	if s.hidden(p) {
		return nil, &os.PathError{Op: "lstat", Path: p, Err: os.ErrNotExist}
	}
	return s.base.Lstat(p)
}

func (s *ScratchFS) readlinkRaw(p string) (string, error) {
	if target, ok := s.links[p]; ok {
		return target, nil
	}
	if _, err := s.layer.Stat(p); err == nil {
		return "", &os.PathError{Op: "readlink", Path: p, Err: syscall.EINVAL}
	}
	if s.hidden(p) {
		return "", &os.PathError{Op: "readlink", Path: p, Err: os.ErrNotExist}
	}
	return s.base.Readlink(p)
}

func (s *ScratchFS) readRaw(p string) ([]byte, error) {
	if _, err := s.layer.Stat(p); err == nil {
		return afero.ReadFile(s.layer, p)
	}
	if s.hidden(p) {
		return nil, &os.PathError{Op: "read", Path: p, Err: os.ErrNotExist}
	}
	return s.base.ReadFile(p)
}

// realPath resolves every symlink in path except, unless followLast, the
// final component. Components past a missing one are returned as given.
func (s *ScratchFS) realPath(path string, followLast bool) (string, error) {
	return s.resolve(absPath(path), followLast, 0)
}

func (s *ScratchFS) resolve(p string, followLast bool, hops int) (string, error) {
	sep := string(filepath.Separator)
	parts := strings.Split(strings.TrimPrefix(p, sep), sep)
	cur := sep
	for i, part := range parts {
		if part == "" {
			continue
		}
		next := filepath.Join(cur, part)
		last := i == len(parts)-1
		if last && !followLast {
			return next, nil
		}

		info, err := s.lstatRaw(next)
		if os.IsNotExist(err) {
			return filepath.Join(append([]string{next}, parts[i+1:]...)...), nil
		}
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			cur = next
			continue
		}

		if hops >= maxLinkHops {
			return "", &os.PathError{Op: "resolve", Path: p, Err: syscall.ELOOP}
		}
		target, err := s.readlinkRaw(next)
		if err != nil {
			return "", err
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(cur, target)
		}
		rest := filepath.Join(append([]string{filepath.Clean(target)}, parts[i+1:]...)...)
		return s.resolve(rest, followLast, hops+1)
	}
	return cur, nil
}

// copyUp makes sure the layer holds the directory chain down to dir, which
// must be a directory in the view.
func (s *ScratchFS) copyUp(dir string) error {
	if info, err := s.layer.Stat(dir); err == nil && info.IsDir() {
		return nil
	}
	if parent := filepath.Dir(dir); parent != dir {
		if err := s.copyUp(parent); err != nil {
			return err
		}
	}
	info, err := s.lstatRaw(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "mkdir", Path: dir, Err: syscall.ENOTDIR}
	}
	return s.layer.Mkdir(dir, info.Mode().Perm())
}

func (s *ScratchFS) writeLayer(p string, data []byte, perm os.FileMode, mtime time.Time) error {
	if err := s.copyUp(filepath.Dir(p)); err != nil {
		return err
	}
	if err := afero.WriteFile(s.layer, p, data, perm); err != nil {
		return err
	}
	if err := s.layer.Chmod(p, perm); err != nil {
		return err
	}
	if !mtime.IsZero() {
		return s.layer.Chtimes(p, mtime, mtime)
	}
	return nil
}

// drop removes p from the view.
func (s *ScratchFS) drop(p string) error {
	prefix := p + string(filepath.Separator)
	for link := range s.links {
		if link == p || strings.HasPrefix(link, prefix) {
			delete(s.links, link)
		}
	}
	if err := s.layer.RemoveAll(p); err != nil {
		return err
	}
	s.whiteout[p] = true
	return nil
}

func (s *ScratchFS) Stat(path string) (os.FileInfo, error) {
	p, err := s.realPath(path, true)
	if err != nil {
		return nil, err
	}
	return s.lstatRaw(p)
}

func (s *ScratchFS) Lstat(path string) (os.FileInfo, error) {
	p, err := s.realPath(path, false)
	if err != nil {
		return nil, err
	}
	return s.lstatRaw(p)
}

func (s *ScratchFS) Readlink(path string) (string, error) {
	p, err := s.realPath(path, false)
	if err != nil {
		return "", err
	}
	return s.readlinkRaw(p)
}

func (s *ScratchFS) Mkdir(path string, perm os.FileMode) error {
	p, err := s.realPath(path, false)
	if err != nil {
		return Classify("mkdir", path, err)
	}
	if _, err := s.lstatRaw(p); err == nil {
		return Classify("mkdir", path, &os.PathError{Op: "mkdir", Path: path, Err: os.ErrExist})
	}
	if err := s.copyUp(filepath.Dir(p)); err != nil {
		return Classify("mkdir", path, err)
	}
	return Classify("mkdir", path, s.layer.Mkdir(p, perm))
}

func (s *ScratchFS) MkdirAll(path string, perm os.FileMode) error {
	p, err := s.realPath(path, true)
	if err != nil {
		return Classify("mkdir", path, err)
	}
	if info, err := s.lstatRaw(p); err == nil {
		if info.IsDir() {
			return nil
		}
		return Classify("mkdir", path, &os.PathError{Op: "mkdir", Path: path, Err: syscall.ENOTDIR})
	}
	if parent := filepath.Dir(p); parent != p {
		if err := s.MkdirAll(parent, perm); err != nil {
			return err
		}
	}
	return s.Mkdir(p, perm)
}

func (s *ScratchFS) Remove(path string) error {
	p, err := s.realPath(path, false)
	if err != nil {
		return Classify("remove", path, err)
	}
	info, err := s.lstatRaw(p)
	if err != nil {
		return Classify("remove", path, err)
	}
	if info.IsDir() {
		entries, err := s.ReadDir(p)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return Classify("remove", path, &os.PathError{Op: "remove", Path: path, Err: syscall.ENOTEMPTY})
		}
	}
	return Classify("remove", path, s.drop(p))
}

func (s *ScratchFS) RemoveAll(path string) error {
	p, err := s.realPath(path, false)
	if err != nil {
		return Classify("remove", path, err)
	}
	if _, err := s.lstatRaw(p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return Classify("remove", path, err)
	}
	return Classify("remove", path, s.drop(p))
}

func (s *ScratchFS) Rename(oldpath, newpath string) error {
	op, err := s.realPath(oldpath, false)
	if err != nil {
		return Classify("rename", oldpath, err)
	}
	np, err := s.realPath(newpath, false)
	if err != nil {
		return Classify("rename", newpath, err)
	}
	if _, err := s.lstatRaw(op); err != nil {
		return Classify("rename", oldpath, err)
	}
	if op == np {
		return nil
	}

	if info, err := s.lstatRaw(np); err == nil {
		if info.IsDir() {
			entries, err := s.ReadDir(np)
			if err != nil {
				return err
			}
			if len(entries) > 0 {
				return Classify("rename", newpath, &os.PathError{Op: "rename", Path: newpath, Err: syscall.ENOTEMPTY})
			}
		}
		if err := s.drop(np); err != nil {
			return Classify("rename", newpath, err)
		}
	}
	if _, err := s.Stat(filepath.Dir(np)); err != nil {
		return Classify("rename", newpath, err)
	}

	if err := s.copyTree(op, np); err != nil {
		return Classify("rename", oldpath, err)
	}
	return Classify("rename", oldpath, s.drop(op))
}

// copyTree recreates src at dst inside the layer.
func (s *ScratchFS) copyTree(src, dst string) error {
	return s.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			link, err := s.readlinkRaw(path)
			if err != nil {
				return err
			}
			if err := s.copyUp(filepath.Dir(target)); err != nil {
				return err
			}
			s.links[target] = link
			return nil
		case info.IsDir():
			if err := s.copyUp(filepath.Dir(target)); err != nil {
				return err
			}
			return s.layer.Mkdir(target, info.Mode().Perm())
		default:
			data, err := s.readRaw(path)
			if err != nil {
				return err
			}
			return s.writeLayer(target, data, info.Mode().Perm(), info.ModTime())
		}
	})
}

func (s *ScratchFS) Symlink(oldname, newname string) error {
	np, err := s.realPath(newname, false)
	if err != nil {
		return Classify("symlink", newname, err)
	}
	if _, err := s.lstatRaw(np); err == nil {
		return Classify("symlink", newname, &os.PathError{Op: "symlink", Path: newname, Err: os.ErrExist})
	}
	if err := s.copyUp(filepath.Dir(np)); err != nil {
		return Classify("symlink", newname, err)
	}
	s.links[np] = oldname
	return nil
}

func (s *ScratchFS) CopyFile(src, dst string) error {
	sp, err := s.realPath(src, true)
	if err != nil {
		return Classify("copy", src, err)
	}
	info, err := s.lstatRaw(sp)
	if err != nil {
		return Classify("copy", src, err)
	}
	if info.IsDir() {
		return Classify("copy", src, &os.PathError{Op: "copy", Path: src, Err: syscall.EISDIR})
	}
	data, err := s.readRaw(sp)
	if err != nil {
		return Classify("copy", src, err)
	}

	dp, err := s.realPath(dst, true)
	if err != nil {
		return Classify("copy", dst, err)
	}
	if existing, err := s.lstatRaw(dp); err == nil && existing.IsDir() {
		return Classify("copy", dst, &os.PathError{Op: "copy", Path: dst, Err: syscall.EISDIR})
	}
	return Classify("copy", dst, s.writeLayer(dp, data, info.Mode().Perm(), info.ModTime()))
}

func (s *ScratchFS) AtomicWrite(path string, data []byte, perm os.FileMode) error {
	p, err := s.realPath(path, false)
	if err != nil {
		return Classify("write", path, err)
	}
	if err := s.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	if existing, err := s.lstatRaw(p); err == nil && existing.IsDir() {
		return Classify("write", path, &os.PathError{Op: "write", Path: path, Err: syscall.EISDIR})
	}
	// Renaming over a symlink replaces the link itself
	delete(s.links, p)
	return Classify("write", path, s.writeLayer(p, data, perm, time.Time{}))
}

func (s *ScratchFS) ReadFile(path string) ([]byte, error) {
	p, err := s.realPath(path, true)
	if err != nil {
		return nil, Classify("read", path, err)
	}
	info, err := s.lstatRaw(p)
	if err != nil {
		return nil, Classify("read", path, err)
	}
	if info.IsDir() {
		return nil, Classify("read", path, &os.PathError{Op: "read", Path: path, Err: syscall.EISDIR})
	}
	data, err := s.readRaw(p)
	if err != nil {
		return nil, Classify("read", path, err)
	}
	return data, nil
}

func (s *ScratchFS) AppendFile(path string, data []byte) error {
	p, err := s.realPath(path, true)
	if err != nil {
		return Classify("append", path, err)
	}
	info, err := s.lstatRaw(p)
	if err != nil {
		return Classify("append", path, err)
	}
	old, err := s.readRaw(p)
	if err != nil {
		return Classify("append", path, err)
	}
	return Classify("append", path, s.writeLayer(p, append(old, data...), info.Mode().Perm(), time.Time{}))
}

func (s *ScratchFS) Chmod(path string, mode os.FileMode) error {
	p, err := s.realPath(path, true)
	if err != nil {
		return Classify("chmod", path, err)
	}
	info, err := s.lstatRaw(p)
	if err != nil {
		return Classify("chmod", path, err)
	}
	if info.IsDir() {
		err = s.copyUp(p)
	} else if _, lerr := s.layer.Stat(p); lerr != nil {
		var data []byte
		if data, err = s.readRaw(p); err == nil {
			err = s.writeLayer(p, data, info.Mode().Perm(), info.ModTime())
		}
	}
	if err != nil {
		return Classify("chmod", path, err)
	}
	return Classify("chmod", path, s.layer.Chmod(p, mode))
}

// ReadDir merges the layer, the links and the visible base entries of a
// directory, sorted by name.
func (s *ScratchFS) ReadDir(path string) ([]os.FileInfo, error) {
	d, err := s.realPath(path, true)
	if err != nil {
		return nil, Classify("read directory", path, err)
	}
	info, err := s.lstatRaw(d)
	if err != nil {
		return nil, Classify("read directory", path, err)
	}
	if !info.IsDir() {
		return nil, Classify("read directory", path, &os.PathError{Op: "readdir", Path: path, Err: syscall.ENOTDIR})
	}

	names := map[string]bool{}
	if !s.hidden(d) {
		if bi, err := s.base.Lstat(d); err == nil && bi.IsDir() {
			entries, err := s.base.ReadDir(d)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				names[e.Name()] = true
			}
		}
	}
	if li, err := s.layer.Stat(d); err == nil && li.IsDir() {
		entries, err := afero.ReadDir(s.layer, d)
		if err != nil {
			return nil, Classify("read directory", path, err)
		}
		for _, e := range entries {
			names[e.Name()] = true
		}
	}
	for link := range s.links {
		if filepath.Dir(link) == d {
			names[filepath.Base(link)] = true
		}
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	entries := make([]os.FileInfo, 0, len(sorted))
	for _, name := range sorted {
		if e, err := s.lstatRaw(filepath.Join(d, name)); err == nil {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *ScratchFS) Glob(pattern string) ([]string, error) {
	return glob(s, pattern)
}

// Walk follows filepath.Walk: lexical order, no symlink following.
func (s *ScratchFS) Walk(root string, fn filepath.WalkFunc) error {
	info, err := s.Lstat(root)
	if err != nil {
		err = fn(root, nil, err)
	} else {
		err = s.walk(root, info, fn)
	}
	if err == filepath.SkipDir || err == filepath.SkipAll {
		return nil
	}
	return err
}

func (s *ScratchFS) walk(path string, info os.FileInfo, fn filepath.WalkFunc) error {
	if !info.IsDir() {
		return fn(path, info, nil)
	}

	entries, err := s.ReadDir(path)
	if walkErr := fn(path, info, err); err != nil || walkErr != nil {
		return walkErr
	}
	for _, e := range entries {
		if err := s.walk(filepath.Join(path, e.Name()), e, fn); err != nil {
			if !e.IsDir() || err != filepath.SkipDir {
				return err
			}
		}
	}
	return nil
}

func (s *ScratchFS) Exists(path string) (bool, error) {
	_, err := s.Lstat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *ScratchFS) ValidateIdentifier(id string) error {
	return s.base.ValidateIdentifier(id)
}

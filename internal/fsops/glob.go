package fsops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// lister is the part of FS that glob resolution reads.
type lister interface {
	Stat(path string) (os.FileInfo, error)
	Lstat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
}

// Glob returns the names of all files matching pattern, or nil if there is no
// matching file. Matching follows filepath.Match with one shell rule on top:
// a name starting with '.' only matches a pattern component that itself
// starts with '.'. The entries "." and ".." are never returned.
//
// Matches within one directory come back in the order the backend lists
// them (sorted for afero backends); callers must not rely on it.
func (a *AferoFS) Glob(pattern string) ([]string, error) {
	return glob(a, pattern)
}

func glob(fsys lister, pattern string) ([]string, error) {
	if !hasMeta(pattern) {
		if _, err := fsys.Lstat(pattern); err != nil {
			return nil, nil
		}
		return []string{pattern}, nil
	}

	dir, file := filepath.Split(pattern)
	dir = cleanGlobPath(dir)

	if !hasMeta(dir) {
		return globDir(fsys, dir, file, nil)
	}

	// Prevent infinite recursion on patterns like "[" that survive Split
	if dir == pattern {
		return nil, fmt.Errorf("glob %q: %w", pattern, filepath.ErrBadPattern)
	}

	dirs, err := glob(fsys, dir)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, d := range dirs {
		matches, err = globDir(fsys, d, file, matches)
		if err != nil {
			return nil, err
		}
	}
	return matches, nil
}

// globDir appends the entries of dir matching the single-component pattern.
// A dir that is missing or not a directory contributes nothing.
func globDir(fsys lister, dir, pattern string, matches []string) ([]string, error) {
	info, err := fsys.Stat(dir)
	if err != nil || !info.IsDir() {
		return matches, nil
	}

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return matches, err
	}

	wantHidden := strings.HasPrefix(pattern, ".")
	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		if strings.HasPrefix(name, ".") && !wantHidden {
			continue
		}
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			return matches, fmt.Errorf("glob %q: %w", pattern, err)
		}
		if ok {
			matches = append(matches, filepath.Join(dir, name))
		}
	}
	return matches, nil
}

// cleanGlobPath prepares the directory half of a split pattern.
func cleanGlobPath(path string) string {
	switch path {
	case "":
		return "."
	case string(filepath.Separator):
		return path
	default:
		return path[0 : len(path)-1]
	}
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, `*?[\`)
}

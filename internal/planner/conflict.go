package planner

import (
	"fmt"
	"os"

	"github.com/danieljhkim/bspstage/internal/fsops"
)

// destState describes what occupies a destination path.
type destState int

const (
	destAbsent destState = iota
	destDir
	destDirLink
	destLeaf
)

func (s destState) String() string {
	switch s {
	case destDir:
		return "directory"
	case destDirLink:
		return "symlink to directory"
	case destLeaf:
		return "file"
	default:
		return "nothing"
	}
}

// ConflictChecker inspects destination paths while a plan is built.
// It overlays the effect of operations already planned on top of what is on
// disk, so a second match with the same basename sees the first placement.
type ConflictChecker struct {
	fs      fsops.FS
	planned map[string]destState
}

// NewConflictChecker creates a new ConflictChecker.
func NewConflictChecker(fs fsops.FS) *ConflictChecker {
	return &ConflictChecker{
		fs:      fs,
		planned: make(map[string]destState),
	}
}

// inspect reports what occupies path, after planned operations.
func (c *ConflictChecker) inspect(path string) (destState, error) {
	if st, ok := c.planned[path]; ok {
		return st, nil
	}

	info, err := c.fs.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return destAbsent, nil
		}
		return destAbsent, fsops.Classify("lstat", path, err)
	}
	if info.IsDir() {
		return destDir, nil
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if target, err := c.fs.Stat(path); err == nil && target.IsDir() {
			return destDirLink, nil
		}
	}
	return destLeaf, nil
}

// CheckDir checks whether a directory can be ensured at path.
// exists reports whether the directory is already there; a symlink to a
// directory counts and is merged into through the link.
func (c *ConflictChecker) CheckDir(path string) (exists bool, conflict *Conflict, err error) {
	st, err := c.inspect(path)
	if err != nil {
		return false, nil, err
	}
	switch st {
	case destDir, destDirLink:
		return true, nil, nil
	case destLeaf:
		return false, &Conflict{
			Path:     path,
			Reason:   fmt.Sprintf("Type mismatch: existing is %s, incoming is directory", st),
			Existing: st.String(),
			Incoming: "directory",
		}, nil
	default:
		return false, nil, nil
	}
}

// CheckLeaf checks whether a file or symlink can be placed at path.
// occupied reports whether an existing entry must be removed first. A
// symlink to a directory is an entry of its own and is removable.
func (c *ConflictChecker) CheckLeaf(path string) (occupied bool, conflict *Conflict, err error) {
	st, err := c.inspect(path)
	if err != nil {
		return false, nil, err
	}
	switch st {
	case destDir:
		return false, &Conflict{
			Path:     path,
			Reason:   fmt.Sprintf("Type mismatch: existing is %s, incoming is file", st),
			Existing: st.String(),
			Incoming: "file",
		}, nil
	case destLeaf, destDirLink:
		return true, nil, nil
	default:
		return false, nil, nil
	}
}

// MarkDir records that path will be a directory once the plan runs.
func (c *ConflictChecker) MarkDir(path string) {
	c.planned[path] = destDir
}

// MarkLeaf records that path will hold a file or symlink once the plan runs.
func (c *ConflictChecker) MarkLeaf(path string) {
	c.planned[path] = destLeaf
}

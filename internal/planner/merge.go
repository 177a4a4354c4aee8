package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danieljhkim/bspstage/internal/fsops"
)

// MergeOptions controls how a merge plan is built.
type MergeOptions struct {
	// Mode selects copy or symlink placement of leaf files
	Mode Mode

	// IncludeHidden adds a dotfile pass when descending into matched directories
	IncludeHidden bool

	// AllowEmpty permits the top-level pattern to match nothing
	AllowEmpty bool

	// Link selects how symlink targets are written (symlink mode only)
	Link LinkTarget
}

// BuildMergePlan generates a deterministic plan to overlay every entry
// matched by pattern onto destination.
//
// Algorithm steps:
// 1. Resolve the pattern (top level only)
// 2. Ensure the destination directory exists or is planned
// 3. For each match: directories are ensured and descended into (visible
// entries first, then hidden ones); leaves are removed if occupied, then
// copied or linked
// 4. Record type conflicts instead of operations where they occur
func BuildMergePlan(fs fsops.FS, pattern, destination string, opts MergeOptions) (*Plan, error) {
	var kind string
	switch opts.Mode {
	case "", ModeCopy:
		opts.Mode = ModeCopy
		kind = KindMergeCopy
	case ModeSymlink:
		kind = KindMergeSymlink
	default:
		return nil, fmt.Errorf("unknown merge mode %q", opts.Mode)
	}
	if opts.Link == "" {
		opts.Link = LinkAbsolute
	}

	plan := NewPlan(kind, pattern, destination)

	matches, err := fs.Glob(pattern)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 && !opts.AllowEmpty {
		return nil, fmt.Errorf("%w: pattern %q matched nothing", fsops.ErrMissingPath, pattern)
	}
	plan.Matches = append(plan.Matches, matches...)

	b := &mergeBuilder{
		fs:      fs,
		opts:    opts,
		plan:    plan,
		checker: NewConflictChecker(fs),
		root:    destination,
	}

	ok, err := b.ensureDir(destination, destination)
	if err != nil {
		return nil, err
	}
	if !ok {
		return plan, nil
	}

	for _, match := range matches {
		if err := b.place(match, destination); err != nil {
			return nil, err
		}
	}

	return plan, nil
}

// mergeBuilder carries the per-plan state of a merge walk.
type mergeBuilder struct {
	fs      fsops.FS
	opts    MergeOptions
	plan    *Plan
	checker *ConflictChecker
	root    string
}

// place plans the overlay of src into the directory destDir.
func (b *mergeBuilder) place(src, destDir string) error {
	// Stat follows symlinks: a link to a directory is merged as a directory
	info, err := b.fs.Stat(src)
	if err != nil {
		return fsops.Classify("stat", src, err)
	}

	target := filepath.Join(destDir, filepath.Base(src))

	if info.IsDir() {
		ok, err := b.ensureDir(target, src)
		if err != nil || !ok {
			return err
		}
		return b.descend(src, target)
	}

	occupied, conflict, err := b.checker.CheckLeaf(target)
	if err != nil {
		return err
	}
	if conflict != nil {
		b.plan.AddConflict(*conflict)
		return nil
	}
	if occupied {
		b.add(Operation{Type: OpRemove, DestPath: target})
	}

	if b.opts.Mode == ModeSymlink {
		linkTarget, err := b.linkTarget(src, destDir)
		if err != nil {
			return err
		}
		b.add(Operation{
			Type:       OpCreateSymlink,
			SourcePath: src,
			DestPath:   target,
			LinkTarget: linkTarget,
		})
	} else {
		b.add(Operation{
			Type:       OpCopy,
			SourcePath: src,
			DestPath:   target,
		})
	}
	b.checker.MarkLeaf(target)
	return nil
}

// descend plans the children of the source directory src into target.
// Visible entries are placed first, then hidden ones when requested.
func (b *mergeBuilder) descend(src, target string) error {
	entries, err := b.fs.ReadDir(src)
	if err != nil {
		return err
	}

	var hidden []string
	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		if strings.HasPrefix(name, ".") {
			hidden = append(hidden, name)
			continue
		}
		if err := b.place(filepath.Join(src, name), target); err != nil {
			return err
		}
	}

	if !b.opts.IncludeHidden {
		return nil
	}
	for _, name := range hidden {
		if err := b.place(filepath.Join(src, name), target); err != nil {
			return err
		}
	}
	return nil
}

// ensureDir plans a directory at path unless one is there already.
// Returns false when a conflict was recorded instead.
func (b *mergeBuilder) ensureDir(path, source string) (bool, error) {
	exists, conflict, err := b.checker.CheckDir(path)
	if err != nil {
		return false, err
	}
	if conflict != nil {
		b.plan.AddConflict(*conflict)
		return false, nil
	}
	if !exists {
		op := Operation{Type: OpMkdir, DestPath: path}
		if source != path {
			op.SourcePath = source
		}
		b.add(op)
		b.checker.MarkDir(path)
	}
	return true, nil
}

// linkTarget computes the symlink content for src placed in destDir.
func (b *mergeBuilder) linkTarget(src, destDir string) (string, error) {
	switch b.opts.Link {
	case LinkAsGiven:
		return src, nil
	case LinkRelative:
		absSrc, err := filepath.Abs(src)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", src, err)
		}
		absDir, err := filepath.Abs(destDir)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", destDir, err)
		}
		rel, err := filepath.Rel(absDir, absSrc)
		if err != nil {
			return "", fmt.Errorf("failed to relativize %s: %w", src, err)
		}
		return rel, nil
	default:
		abs, err := filepath.Abs(src)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", src, err)
		}
		return abs, nil
	}
}

func (b *mergeBuilder) add(op Operation) {
	if rel, err := filepath.Rel(b.root, op.DestPath); err == nil {
		op.RelPath = rel
	}
	b.plan.AddOperation(op)
}

// BuildRemovePlan plans the removal of every non-directory entry matched by
// pattern. Directory matches are skipped, never descended into.
func BuildRemovePlan(fs fsops.FS, pattern string) (*Plan, error) {
	plan := NewPlan(KindRemove, pattern, "")

	matches, err := fs.Glob(pattern)
	if err != nil {
		return nil, err
	}
	plan.Matches = append(plan.Matches, matches...)

	for _, match := range matches {
		info, err := fs.Lstat(match)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fsops.Classify("lstat", match, err)
		}
		if info.IsDir() {
			continue
		}
		plan.AddOperation(Operation{Type: OpRemove, DestPath: match})
	}
	return plan, nil
}

// BuildResetPlan plans the recursive removal and empty re-creation of path.
func BuildResetPlan(fs fsops.FS, path string) (*Plan, error) {
	plan := NewPlan(KindReset, path, path)

	exists, err := fs.Exists(path)
	if err != nil {
		return nil, fsops.Classify("lstat", path, err)
	}
	if exists {
		plan.Matches = append(plan.Matches, path)
		plan.AddOperation(Operation{Type: OpRemoveTree, DestPath: path, RelPath: "."})
	}
	plan.AddOperation(Operation{Type: OpMkdir, DestPath: path, RelPath: "."})
	return plan, nil
}

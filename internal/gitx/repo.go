// Package gitx reads the git revision of the tree a board is staged from.
package gitx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danieljhkim/bspstage/internal/runner"
)

// ErrNotInRepo indicates a directory outside any git work tree.
var ErrNotInRepo = errors.New("not in a git repository")

// Revision identifies the commit a work tree is at.
type Revision struct {
	// Root is the work tree root
	Root string `json:"root"`

	// Commit is the full HEAD commit hash
	Commit string `json:"commit"`

	// Dirty reports uncommitted changes in the work tree
	Dirty bool `json:"dirty"`
}

// GitRepo provides an abstraction for git repository operations.
type GitRepo interface {
	// Discover finds the git repository root starting from dir.
	Discover(dir string) (root string, err error)

	// Revision returns the HEAD revision of the repository containing dir.
	Revision(ctx context.Context, dir string) (*Revision, error)
}

// RealGitRepo implements GitRepo by running git through a runner.
type RealGitRepo struct {
	runner runner.Runner
}

// NewRealGitRepo creates a new RealGitRepo.
func NewRealGitRepo(r runner.Runner) *RealGitRepo {
	return &RealGitRepo{runner: r}
}

// Discover finds the git repository root by walking up from dir looking for .git.
func (g *RealGitRepo) Discover(dir string) (string, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	current := absPath
	for {
		gitDir := filepath.Join(current, ".git")
		if info, err := os.Stat(gitDir); err == nil {
			// .git can be a directory or a file (for worktrees/submodules)
			if info.IsDir() || info.Mode().IsRegular() {
				return current, nil
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("%w: %s", ErrNotInRepo, absPath)
		}
		current = parent
	}
}

// Revision runs git rev-parse and git status in the repository root.
func (g *RealGitRepo) Revision(ctx context.Context, dir string) (*Revision, error) {
	root, err := g.Discover(dir)
	if err != nil {
		return nil, err
	}

	head, err := g.runner.Run(ctx, runner.Command{Name: "git", Args: []string{"rev-parse", "HEAD"}, Dir: root})
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}
	commit := strings.TrimSpace(string(head.Stdout))
	if commit == "" {
		return nil, fmt.Errorf("failed to read HEAD: empty output")
	}

	status, err := g.runner.Run(ctx, runner.Command{Name: "git", Args: []string{"status", "--porcelain"}, Dir: root})
	if err != nil {
		return nil, fmt.Errorf("failed to read work tree status: %w", err)
	}

	return &Revision{
		Root:   root,
		Commit: commit,
		Dirty:  strings.TrimSpace(string(status.Stdout)) != "",
	}, nil
}

// FakeGitRepo implements GitRepo with predetermined values for testing.
type FakeGitRepo struct {
	revision *Revision
	err      error
}

// NewFakeGitRepo creates a new FakeGitRepo answering with rev.
func NewFakeGitRepo(rev *Revision) *FakeGitRepo {
	return &FakeGitRepo{revision: rev}
}

// SetError sets an error to be returned by all methods.
func (g *FakeGitRepo) SetError(err error) {
	g.err = err
}

// Discover returns the predetermined root.
func (g *FakeGitRepo) Discover(dir string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.revision.Root, nil
}

// Revision returns the predetermined revision.
func (g *FakeGitRepo) Revision(ctx context.Context, dir string) (*Revision, error) {
	if g.err != nil {
		return nil, g.err
	}
	rev := *g.revision
	return &rev, nil
}

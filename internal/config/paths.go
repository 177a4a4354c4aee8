// Package config manages bspstage configuration and filesystem paths.
//
// Three things are configured here: where bspstage keeps its state (Paths),
// how the CLI behaves (Settings, layered from defaults, a settings file and
// BSPSTAGE_* environment variables), and what each board pipeline does
// (Pipeline, read from bspstage.yaml or bspstage.toml).
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvRoot overrides the project root when no --root flag is given.
const EnvRoot = "BSPSTAGE_ROOT"

// Paths contains all the filesystem paths used by bspstage.
type Paths struct {
	// Root is the project directory holding the pipeline file
	Root string

	// State is the directory for bspstage's own data (<root>/.bspstage)
	State string

	// Records is the directory containing board run records
	Records string
}

// DefaultPaths returns the paths for the project rooted at root.
// An empty root falls back to BSPSTAGE_ROOT, then the current directory.
func DefaultPaths(root string) (*Paths, error) {
	if root == "" {
		root = os.Getenv(EnvRoot)
	}
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		root = cwd
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	state := filepath.Join(abs, ".bspstage")
	return &Paths{
		Root:    abs,
		State:   state,
		Records: filepath.Join(state, "records"),
	}, nil
}

// EnsureDirectories creates all necessary directories if they don't exist.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.State, p.Records} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Resolve returns path joined to Root unless it is absolute.
func (p *Paths) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.Root, path)
}

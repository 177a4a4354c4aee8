package planner

import (
	"errors"
	"fmt"
)

// ErrTypeConflict indicates a source entry and an existing destination entry
// disagree on being a directory.
var ErrTypeConflict = errors.New("type conflict")

// Mode selects how leaf files are placed at the destination.
type Mode string

const (
	// ModeCopy copies file contents and metadata.
	ModeCopy Mode = "copy"

	// ModeSymlink places a symbolic link to the source.
	ModeSymlink Mode = "symlink"
)

// LinkTarget selects how symlink targets are written.
type LinkTarget string

const (
	// LinkAbsolute points links at the absolute source path.
	LinkAbsolute LinkTarget = "absolute"

	// LinkAsGiven points links at the source path as resolved from the pattern.
	LinkAsGiven LinkTarget = "as-given"

	// LinkRelative points links at the source path relative to the link's directory.
	LinkRelative LinkTarget = "relative"
)

// ParseLinkTarget converts a configuration value to a LinkTarget.
// The empty string selects LinkAbsolute.
func ParseLinkTarget(s string) (LinkTarget, error) {
	switch LinkTarget(s) {
	case "", LinkAbsolute:
		return LinkAbsolute, nil
	case LinkAsGiven, LinkRelative:
		return LinkTarget(s), nil
	default:
		return "", fmt.Errorf("unknown link target %q (want absolute, as-given or relative)", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *LinkTarget) UnmarshalText(text []byte) error {
	parsed, err := ParseLinkTarget(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Plan represents an ordered set of filesystem operations.
type Plan struct {
	// Kind names the composer operation that produced the plan
	Kind string `json:"kind" yaml:"kind"`

	// Pattern is the glob or path the plan was built from
	Pattern string `json:"pattern" yaml:"pattern"`

	// Destination is the destination directory (empty for remove/reset plans)
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Matches are the top-level paths the pattern resolved to
	Matches []string `json:"matches" yaml:"matches"`

	// Operations is the ordered list of operations to execute
	Operations []Operation `json:"operations" yaml:"operations"`

	// Conflicts is a list of detected conflicts (empty if no conflicts)
	Conflicts []Conflict `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
}

// Operation represents a single filesystem operation to execute.
type Operation struct {
	// Type is the operation type: "mkdir", "remove", "remove_tree", "copy", "create_symlink"
	Type string `json:"type" yaml:"type"`

	// SourcePath is the source path (absolute or as matched), empty for mkdir/remove
	SourcePath string `json:"source,omitempty" yaml:"source,omitempty"`

	// DestPath is the path the operation acts on
	DestPath string `json:"dest" yaml:"dest"`

	// LinkTarget is the link content for create_symlink
	LinkTarget string `json:"linkTarget,omitempty" yaml:"linkTarget,omitempty"`

	// RelPath is DestPath relative to the plan destination (for display)
	RelPath string `json:"relPath,omitempty" yaml:"relPath,omitempty"`
}

// Conflict represents a conflict detected during planning.
type Conflict struct {
	// Path is the destination path where the conflict was detected
	Path string `json:"path" yaml:"path"`

	// Reason is a human-readable explanation of the conflict
	Reason string `json:"reason" yaml:"reason"`

	// Existing describes what currently exists at the path
	Existing string `json:"existing" yaml:"existing"`

	// Incoming describes what the plan wants to create
	Incoming string `json:"incoming" yaml:"incoming"`
}

// Operation type constants
const (
	OpMkdir         = "mkdir"
	OpRemove        = "remove"
	OpRemoveTree    = "remove_tree"
	OpCopy          = "copy"
	OpCreateSymlink = "create_symlink"
)

// Plan kinds
const (
	KindMergeCopy    = "merge-copy"
	KindMergeSymlink = "merge-symlink"
	KindRemove       = "remove-matches"
	KindReset        = "reset-directory"
)

// NewPlan creates a new empty Plan.
func NewPlan(kind, pattern, destination string) *Plan {
	return &Plan{
		Kind:        kind,
		Pattern:     pattern,
		Destination: destination,
		Matches:     []string{},
		Operations:  []Operation{},
		Conflicts:   []Conflict{},
	}
}

// HasConflicts returns true if the plan has any conflicts.
func (p *Plan) HasConflicts() bool {
	return len(p.Conflicts) > 0
}

// AddOperation adds an operation to the plan.
func (p *Plan) AddOperation(op Operation) {
	p.Operations = append(p.Operations, op)
}

// AddConflict adds a conflict to the plan.
func (p *Plan) AddConflict(conflict Conflict) {
	p.Conflicts = append(p.Conflicts, conflict)
}

// ConflictError summarizes the plan's conflicts as an error wrapping
// ErrTypeConflict, or returns nil when there are none.
func (p *Plan) ConflictError() error {
	if !p.HasConflicts() {
		return nil
	}
	first := p.Conflicts[0]
	if len(p.Conflicts) == 1 {
		return fmt.Errorf("%w: %s: %s", ErrTypeConflict, first.Path, first.Reason)
	}
	return fmt.Errorf("%w: %s: %s (and %d more)", ErrTypeConflict, first.Path, first.Reason, len(p.Conflicts)-1)
}

// Count returns the number of operations of the given type.
func (p *Plan) Count(opType string) int {
	n := 0
	for _, op := range p.Operations {
		if op.Type == opType {
			n++
		}
	}
	return n
}

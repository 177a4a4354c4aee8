package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/danieljhkim/bspstage/internal/planner"
)

// DefaultPipelineFile is looked up in the project root.
const DefaultPipelineFile = "bspstage.yaml"

// keyDelim separates koanf key paths. Board and variable names are map keys
// and may contain ".", so the delimiter is a byte no key can hold.
const keyDelim = "\x00"

// pipelineFallbacks are tried when the default pipeline file is absent.
var pipelineFallbacks = []string{"bspstage.yml", "bspstage.toml"}

var (
	// ErrUnknownBoard indicates a board name the pipeline file does not define.
	ErrUnknownBoard = errors.New("unknown board")

	// ErrMissingEnv indicates required environment variables are unset.
	ErrMissingEnv = errors.New("missing required environment variables")
)

// Pipeline is the parsed pipeline file.
type Pipeline struct {
	// Vars are visible to every board
	Vars map[string]string `koanf:"vars" json:"vars,omitempty" yaml:"vars,omitempty"`

	// Env lists process environment requirements
	Env EnvSpec `koanf:"env" json:"env,omitempty" yaml:"env,omitempty"`

	// Boards maps board names to their pipelines
	Boards map[string]*Board `koanf:"boards" json:"boards" yaml:"boards"`

	// Path is the file the pipeline was read from
	Path string `koanf:"-" json:"-" yaml:"-"`
}

// EnvSpec lists environment variables a pipeline depends on.
type EnvSpec struct {
	// Required must be set and non-empty before any step runs
	Required []string `koanf:"required" json:"required,omitempty" yaml:"required,omitempty"`
}

// Board is the pipeline of a single board.
type Board struct {
	Description string `koanf:"description" json:"description,omitempty" yaml:"description,omitempty"`

	// Dir is the staged board tree (expanded; default ${BSP_ROOT}/${BOARD})
	Dir string `koanf:"dir" json:"dir,omitempty" yaml:"dir,omitempty"`

	// Vars override the global vars for this board
	Vars map[string]string `koanf:"vars" json:"vars,omitempty" yaml:"vars,omitempty"`

	// Env adds requirements to the global ones
	Env EnvSpec `koanf:"env" json:"env,omitempty" yaml:"env,omitempty"`

	// Steps run in order
	Steps []Step `koanf:"steps" json:"steps" yaml:"steps"`
}

// Step is one pipeline step. Which fields apply depends on Op.
type Step struct {
	Op   string `koanf:"op" json:"op" yaml:"op"`
	Name string `koanf:"name" json:"name,omitempty" yaml:"name,omitempty"`

	// Paths and patterns
	Path    string `koanf:"path" json:"path,omitempty" yaml:"path,omitempty"`
	Pattern string `koanf:"pattern" json:"pattern,omitempty" yaml:"pattern,omitempty"`
	From    string `koanf:"from" json:"from,omitempty" yaml:"from,omitempty"`
	To      string `koanf:"to" json:"to,omitempty" yaml:"to,omitempty"`

	// Merge options
	Hidden     *bool              `koanf:"hidden" json:"hidden,omitempty" yaml:"hidden,omitempty"`
	AllowEmpty bool               `koanf:"allow_empty" json:"allow_empty,omitempty" yaml:"allow_empty,omitempty"`
	Link       planner.LinkTarget `koanf:"link" json:"link,omitempty" yaml:"link,omitempty"`

	// Subprocess
	Command []string          `koanf:"command" json:"command,omitempty" yaml:"command,omitempty"`
	Dir     string            `koanf:"dir" json:"dir,omitempty" yaml:"dir,omitempty"`
	Env     map[string]string `koanf:"env" json:"env,omitempty" yaml:"env,omitempty"`

	// Lookups
	Find  string `koanf:"find" json:"find,omitempty" yaml:"find,omitempty"`
	Under string `koanf:"under" json:"under,omitempty" yaml:"under,omitempty"`
	As    string `koanf:"as" json:"as,omitempty" yaml:"as,omitempty"`

	// Text patches
	Needle      string   `koanf:"needle" json:"needle,omitempty" yaml:"needle,omitempty"`
	Needles     []string `koanf:"needles" json:"needles,omitempty" yaml:"needles,omitempty"`
	Replacement string   `koanf:"replacement" json:"replacement,omitempty" yaml:"replacement,omitempty"`
	Lines       []string `koanf:"lines" json:"lines,omitempty" yaml:"lines,omitempty"`
	Text        string   `koanf:"text" json:"text,omitempty" yaml:"text,omitempty"`

	// Manifest
	File  string   `koanf:"file" json:"file,omitempty" yaml:"file,omitempty"`
	Extra []string `koanf:"extra" json:"extra,omitempty" yaml:"extra,omitempty"`
}

// IncludeHidden reports the hidden flag, defaulting to true.
func (s Step) IncludeHidden() bool {
	return s.Hidden == nil || *s.Hidden
}

// Label names the step for messages.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Op
}

// FindPipelineFile returns the pipeline file to use. An explicit path is
// resolved against root; otherwise the default name and its fallbacks are
// looked up in root.
func FindPipelineFile(root, explicit string) (string, error) {
	if explicit != "" && explicit != DefaultPipelineFile {
		path := explicit
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		return path, nil
	}

	for _, name := range append([]string{DefaultPipelineFile}, pipelineFallbacks...) {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no pipeline file (%s) in %s: %w", DefaultPipelineFile, root, os.ErrNotExist)
}

// LoadPipeline reads a pipeline file. The format follows the extension.
func LoadPipeline(path string) (*Pipeline, error) {
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}

	k := koanf.New(keyDelim)
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load pipeline from %s: %w", path, err)
	}

	var p Pipeline
	if err := k.UnmarshalWithConf("", &p, unmarshalConf(&p)); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline %s: %w", path, err)
	}
	p.Path = path

	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline %s: %w", path, err)
	}
	return &p, nil
}

func (p *Pipeline) validate() error {
	if len(p.Boards) == 0 {
		return fmt.Errorf("no boards defined")
	}
	for name, board := range p.Boards {
		if name == "" || strings.ContainsAny(name, `/\.`) {
			return fmt.Errorf("invalid board name %q", name)
		}
		if board == nil {
			return fmt.Errorf("board %s: empty definition", name)
		}
		for i, step := range board.Steps {
			if step.Op == "" {
				return fmt.Errorf("board %s: step %d has no op", name, i+1)
			}
		}
	}
	return nil
}

// Board returns the board called name.
func (p *Pipeline) Board(name string) (*Board, error) {
	board, ok := p.Boards[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownBoard, name, strings.Join(p.BoardNames(), ", "))
	}
	return board, nil
}

// BoardNames returns the defined board names, sorted.
func (p *Pipeline) BoardNames() []string {
	names := make([]string, 0, len(p.Boards))
	for name := range p.Boards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiredEnv returns the global and board requirements, deduplicated in
// order.
func (p *Pipeline) RequiredEnv(board *Board) []string {
	seen := map[string]bool{}
	var out []string
	lists := [][]string{p.Env.Required}
	if board != nil {
		lists = append(lists, board.Env.Required)
	}
	for _, list := range lists {
		for _, name := range list {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// CheckEnv verifies every required variable is set and non-empty.
// lookup is os.LookupEnv outside tests.
func (p *Pipeline) CheckEnv(board *Board, lookup func(string) (string, bool)) error {
	var missing []string
	for _, name := range p.RequiredEnv(board) {
		if v, ok := lookup(name); !ok || v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return nil
}

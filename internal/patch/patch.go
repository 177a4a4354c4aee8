// Package patch rewrites text files line by line.
//
// File contents are treated as opaque bytes: only line terminators are
// interpreted, and the terminators of untouched lines are preserved exactly.
// Every rule is a full read-modify-write of the file, and rewrites land
// atomically on the file a symlink points to.
package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danieljhkim/bspstage/internal/fsops"
	"github.com/danieljhkim/bspstage/internal/logging"
)

// maxLinkHops bounds symlink resolution.
const maxLinkHops = 40

// Result reports what a rule did to a file.
type Result struct {
	Path         string `json:"path" yaml:"path"`
	Rule         string `json:"rule" yaml:"rule"`
	LinesRemoved int    `json:"lines_removed,omitempty" yaml:"lines_removed,omitempty"`
	LinesChanged int    `json:"lines_changed,omitempty" yaml:"lines_changed,omitempty"`
	Replacements int    `json:"replacements,omitempty" yaml:"replacements,omitempty"`
	BytesWritten int    `json:"bytes_written" yaml:"bytes_written"`
}

// Patcher applies rules to files.
type Patcher struct {
	fs     fsops.FS
	logger zerolog.Logger
	dryRun bool
}

// Option configures a Patcher.
type Option func(*Patcher)

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Patcher) {
		p.logger = logger
	}
}

// WithDryRun computes results without writing.
func WithDryRun(dryRun bool) Option {
	return func(p *Patcher) {
		p.dryRun = dryRun
	}
}

// New creates a Patcher over fs.
func New(fs fsops.FS, opts ...Option) *Patcher {
	p := &Patcher{
		fs:     fs,
		logger: logging.GetLogger("patch"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DeleteLinesContaining drops every line of path containing needle.
func (p *Patcher) DeleteLinesContaining(path, needle string) (*Result, error) {
	return p.apply(path, DeleteLines(needle))
}

// ReplaceInMatchingLines replaces every occurrence of needle within the
// lines of path that contain it. The line count does not change.
func (p *Patcher) ReplaceInMatchingLines(path, needle, replacement string) (*Result, error) {
	return p.apply(path, ReplaceInLines(needle, replacement))
}

// ReplaceAllOccurrences replaces every occurrence of needle in path.
func (p *Patcher) ReplaceAllOccurrences(path, needle, replacement string) (*Result, error) {
	return p.apply(path, ReplaceAll(needle, replacement))
}

// AppendLines appends lines to the existing file path, verbatim and in order.
// Callers supply the terminators.
func (p *Patcher) AppendLines(path string, lines ...string) (*Result, error) {
	return p.apply(path, Append(lines...))
}

// Apply runs rules against path in order. Each rule reads the content the
// previous one wrote. The first failure aborts; results of the rules that
// ran are returned with it.
func (p *Patcher) Apply(path string, rules ...Rule) ([]*Result, error) {
	results := make([]*Result, 0, len(rules))
	for _, rule := range rules {
		res, err := p.apply(path, rule)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// WriteLines creates or truncates path with lines joined verbatim.
func (p *Patcher) WriteLines(path string, lines ...string) (*Result, error) {
	data := []byte(strings.Join(lines, ""))
	res := &Result{Path: path, Rule: "write", BytesWritten: len(data)}

	p.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("Writing file")
	if p.dryRun {
		return res, nil
	}

	target, err := p.resolve(path)
	if err != nil {
		return nil, err
	}
	perm := os.FileMode(0644)
	if info, err := p.fs.Stat(target); err == nil {
		perm = info.Mode().Perm()
	}
	if err := p.fs.AtomicWrite(target, data, perm); err != nil {
		return nil, err
	}
	return res, nil
}

// MakeWritable adds the owner write bit to path.
func (p *Patcher) MakeWritable(path string) error {
	info, err := p.fs.Stat(path)
	if err != nil {
		return fsops.Classify("chmod", path, err)
	}
	mode := info.Mode().Perm()
	if mode&0200 != 0 {
		return nil
	}

	p.logger.Debug().Str("path", path).Msg("Adding owner write permission")
	if p.dryRun {
		return nil
	}
	return p.fs.Chmod(path, mode|0200)
}

func (p *Patcher) apply(path string, rule Rule) (*Result, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if rule.selfMatching() {
		p.logger.Warn().
			Str("path", path).
			Str("needle", rule.Needle).
			Str("replacement", rule.Replacement).
			Msg("Replacement contains its needle, reapplying will match again")
	}

	target, err := p.resolve(path)
	if err != nil {
		return nil, err
	}

	if rule.Kind == KindAppend {
		return p.appendText(path, target, rule)
	}

	info, err := p.fs.Stat(target)
	if err != nil {
		return nil, fsops.Classify("patch", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("patch %s: is a directory", path)
	}

	content, err := p.fs.ReadFile(target)
	if err != nil {
		return nil, err
	}

	out, res := rule.transform(content)
	res.Path = path
	res.Rule = rule.String()
	res.BytesWritten = len(out)

	p.logger.Debug().
		Str("path", path).
		Str("rule", res.Rule).
		Int("removed", res.LinesRemoved).
		Int("changed", res.LinesChanged).
		Int("replacements", res.Replacements).
		Msg("Patched file")

	if p.dryRun {
		return &res, nil
	}
	if err := p.fs.AtomicWrite(target, out, info.Mode().Perm()); err != nil {
		return nil, err
	}
	return &res, nil
}

func (p *Patcher) appendText(path, target string, rule Rule) (*Result, error) {
	if _, err := p.fs.Stat(target); err != nil {
		return nil, fsops.Classify("append", path, err)
	}

	res := &Result{Path: path, Rule: rule.String(), BytesWritten: len(rule.Text)}
	p.logger.Debug().Str("path", path).Int("bytes", len(rule.Text)).Msg("Appending to file")
	if p.dryRun || rule.Text == "" {
		return res, nil
	}
	if err := p.fs.AppendFile(target, []byte(rule.Text)); err != nil {
		return nil, err
	}
	return res, nil
}

// resolve follows symlinks at path to the file they point to. A path that
// does not exist resolves to itself.
func (p *Patcher) resolve(path string) (string, error) {
	current := path
	for hop := 0; hop < maxLinkHops; hop++ {
		info, err := p.fs.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				return current, nil
			}
			return "", fsops.Classify("lstat", current, err)
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return current, nil
		}

		target, err := p.fs.Readlink(current)
		if err != nil {
			return "", fsops.Classify("readlink", current, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(current), target)
		}
		current = target
	}
	return "", fmt.Errorf("patch %s: too many levels of symbolic links", path)
}

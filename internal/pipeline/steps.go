package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danieljhkim/bspstage/internal/config"
	"github.com/danieljhkim/bspstage/internal/fsops"
	"github.com/danieljhkim/bspstage/internal/overlay"
	"github.com/danieljhkim/bspstage/internal/patch"
	"github.com/danieljhkim/bspstage/internal/planner"
	"github.com/danieljhkim/bspstage/internal/runner"
)

// Step ops
const (
	OpReset          = "reset"
	OpCopy           = "copy"
	OpSymlink        = "symlink"
	OpRemove         = "remove"
	OpRemoveTree     = "remove-tree"
	OpCopyFile       = "copy-file"
	OpMove           = "move"
	OpRun            = "run"
	OpFindDir        = "find-dir"
	OpFindFile       = "find-file"
	OpResolve        = "resolve"
	OpDeleteLines    = "delete-lines"
	OpReplaceInLines = "replace-in-lines"
	OpReplaceAll     = "replace-all"
	OpAppend         = "append"
	OpWrite          = "write"
	OpMakeWritable   = "make-writable"
	OpManifest       = "manifest"
)

// execution carries the per-run collaborators a step handler needs.
type execution struct {
	ctx      context.Context
	composer *overlay.Composer
	patcher  *patch.Patcher
	runner   runner.Runner
	vars     *Vars
	root     string
	boardDir string
	dryRun   bool
	logger   zerolog.Logger
}

type stepHandler func(x *execution, s config.Step, out *StepOutcome) error

type opSpec struct {
	run stepHandler

	// required lists field keys; "a|b" means either will do
	required []string
}

var ops = map[string]opSpec{
	OpReset:          {run: runReset, required: []string{"path"}},
	OpCopy:           {run: runMerge(planner.ModeCopy), required: []string{"from", "to"}},
	OpSymlink:        {run: runMerge(planner.ModeSymlink), required: []string{"from", "to"}},
	OpRemove:         {run: runRemove, required: []string{"pattern"}},
	OpRemoveTree:     {run: runRemoveTree, required: []string{"path"}},
	OpCopyFile:       {run: runCopyFile, required: []string{"from", "to"}},
	OpMove:           {run: runMove, required: []string{"from", "to"}},
	OpRun:            {run: runCommand, required: []string{"command"}},
	OpFindDir:        {run: runFind(true), required: []string{"find", "under", "as"}},
	OpFindFile:       {run: runFind(false), required: []string{"find", "under", "as"}},
	OpResolve:        {run: runResolve, required: []string{"pattern", "as"}},
	OpDeleteLines:    {run: runDeleteLines, required: []string{"path", "needle|needles"}},
	OpReplaceInLines: {run: runReplace(patch.ReplaceInLines), required: []string{"path", "needle"}},
	OpReplaceAll:     {run: runReplace(patch.ReplaceAll), required: []string{"path", "needle"}},
	OpAppend:         {run: runAppend, required: []string{"path", "lines|text"}},
	OpWrite:          {run: runWrite, required: []string{"path"}},
	OpMakeWritable:   {run: runMakeWritable, required: []string{"path"}},
	OpManifest:       {run: runManifest, required: []string{"dir", "file"}},
}

// Ops returns the supported step ops, sorted.
func Ops() []string {
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateStep checks that s names a known op and sets the fields it needs.
func ValidateStep(s config.Step) error {
	spec, ok := ops[s.Op]
	if !ok {
		return fmt.Errorf("%w %q (supported: %s)", ErrUnknownOp, s.Op, strings.Join(Ops(), ", "))
	}

	var missing []string
	for _, req := range spec.required {
		found := false
		for _, key := range strings.Split(req, "|") {
			if fieldSet(s, key) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, strings.ReplaceAll(req, "|", " or "))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", ErrInvalidStep, s.Op, strings.Join(missing, ", "))
	}
	return nil
}

func fieldSet(s config.Step, key string) bool {
	switch key {
	case "path":
		return s.Path != ""
	case "pattern":
		return s.Pattern != ""
	case "from":
		return s.From != ""
	case "to":
		return s.To != ""
	case "command":
		return len(s.Command) > 0 && s.Command[0] != ""
	case "find":
		return s.Find != ""
	case "under":
		return s.Under != ""
	case "as":
		return s.As != ""
	case "needle":
		return s.Needle != ""
	case "needles":
		return len(s.Needles) > 0
	case "lines":
		return len(s.Lines) > 0
	case "text":
		return s.Text != ""
	case "dir":
		return s.Dir != ""
	case "file":
		return s.File != ""
	}
	return false
}

// expandStep returns s with every reference expanded and every path made
// absolute against the project root.
func (x *execution) expandStep(s config.Step) (config.Step, error) {
	out := s
	var err error

	str := func(dst *string, isPath bool) {
		if err != nil || *dst == "" {
			return
		}
		var v string
		if v, err = x.vars.Expand(*dst); err != nil {
			return
		}
		if isPath && !filepath.IsAbs(v) {
			v = filepath.Join(x.root, v)
		}
		*dst = v
	}

	for _, p := range []*string{&out.Path, &out.Pattern, &out.From, &out.To, &out.Dir, &out.Under} {
		str(p, true)
	}
	for _, p := range []*string{&out.Find, &out.Needle, &out.Replacement, &out.Text, &out.File} {
		str(p, false)
	}
	if err != nil {
		return out, err
	}

	for _, list := range []*[]string{&out.Needles, &out.Lines, &out.Extra, &out.Command} {
		if *list, err = x.vars.ExpandAll(*list); err != nil {
			return out, err
		}
	}

	if s.Env != nil {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			if out.Env[k], err = x.vars.Expand(v); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func recordOverlay(out *StepOutcome, res *overlay.Result) {
	if res == nil || res.Plan == nil {
		return
	}
	out.Operations = res.Plan.Operations
	out.Conflicts = res.Plan.Conflicts
	out.Detail = fmt.Sprintf("%d operations", len(res.Plan.Operations))
}

func runReset(x *execution, s config.Step, out *StepOutcome) error {
	res, err := x.composer.ResetDirectory(s.Path)
	recordOverlay(out, res)
	return err
}

func runMerge(mode planner.Mode) stepHandler {
	return func(x *execution, s config.Step, out *StepOutcome) error {
		opts := []overlay.MergeOption{overlay.WithHidden(s.IncludeHidden())}
		if s.AllowEmpty {
			opts = append(opts, overlay.AllowEmpty())
		}
		if s.Link != "" {
			opts = append(opts, overlay.WithLinkTarget(s.Link))
		}

		var res *overlay.Result
		var err error
		if mode == planner.ModeSymlink {
			res, err = x.composer.MergeSymlink(s.From, s.To, opts...)
		} else {
			res, err = x.composer.MergeCopy(s.From, s.To, opts...)
		}
		recordOverlay(out, res)
		return err
	}
}

func runRemove(x *execution, s config.Step, out *StepOutcome) error {
	res, err := x.composer.RemoveMatches(s.Pattern)
	recordOverlay(out, res)
	return err
}

func runRemoveTree(x *execution, s config.Step, out *StepOutcome) error {
	out.Detail = s.Path
	return x.composer.RemoveTree(s.Path)
}

func runCopyFile(x *execution, s config.Step, out *StepOutcome) error {
	target, err := x.composer.CopyFile(s.From, s.To)
	out.Detail = s.From + " -> " + target
	return err
}

func runMove(x *execution, s config.Step, out *StepOutcome) error {
	target, err := x.composer.Move(s.From, s.To)
	out.Detail = s.From + " -> " + target
	return err
}

func runCommand(x *execution, s config.Step, out *StepOutcome) error {
	dir := s.Dir
	if dir == "" {
		dir = x.boardDir
	}
	cmd := runner.Command{
		Name: s.Command[0],
		Args: s.Command[1:],
		Dir:  dir,
		Env:  s.Env,
	}
	out.Command = &cmd
	out.Detail = cmd.String()

	if x.dryRun {
		x.logger.Info().Str("command", cmd.String()).Str("dir", dir).Msg("Dry run, command not executed")
		return nil
	}

	res, err := x.runner.Run(x.ctx, cmd)
	if res != nil && err == nil {
		out.Detail = fmt.Sprintf("%s (exit %d)", cmd, res.ExitCode)
	}
	return err
}

func runFind(wantDir bool) stepHandler {
	return func(x *execution, s config.Step, out *StepOutcome) error {
		var found string
		var err error
		if wantDir {
			found, err = x.composer.FindDir(s.Under, s.Find)
		} else {
			found, err = x.composer.FindFile(s.Under, s.Find)
		}
		return x.setVar(s.As, found, err, out)
	}
}

func runResolve(x *execution, s config.Step, out *StepOutcome) error {
	found, err := x.composer.ResolveOne(s.Pattern)
	return x.setVar(s.As, found, err, out)
}

// setVar defines name from a lookup. A failed lookup in dry-run defines a
// placeholder so later steps can still be planned.
func (x *execution) setVar(name, value string, err error, out *StepOutcome) error {
	if err != nil {
		if !x.dryRun {
			return err
		}
		value = "<" + name + ">"
		x.vars.Set(name, value)
		return err
	}
	x.vars.Set(name, value)
	out.Detail = name + "=" + value
	x.logger.Debug().Str("var", name).Str("value", value).Msg("Variable set")
	return nil
}

func runDeleteLines(x *execution, s config.Step, out *StepOutcome) error {
	needles := s.Needles
	if s.Needle != "" {
		needles = append([]string{s.Needle}, needles...)
	}
	rules := make([]patch.Rule, 0, len(needles))
	for _, n := range needles {
		rules = append(rules, patch.DeleteLines(n))
	}
	results, err := x.patcher.Apply(s.Path, rules...)
	out.Patches = results
	out.Detail = patchDetail(s.Path, results)
	return err
}

func runReplace(rule func(needle, replacement string) patch.Rule) stepHandler {
	return func(x *execution, s config.Step, out *StepOutcome) error {
		results, err := x.patcher.Apply(s.Path, rule(s.Needle, s.Replacement))
		out.Patches = results
		out.Detail = patchDetail(s.Path, results)
		return err
	}
}

func runAppend(x *execution, s config.Step, out *StepOutcome) error {
	res, err := x.patcher.AppendLines(s.Path, chunks(s)...)
	if res != nil {
		out.Patches = []*patch.Result{res}
	}
	out.Detail = fmt.Sprintf("%s (+%d lines)", s.Path, len(s.Lines))
	return err
}

func runWrite(x *execution, s config.Step, out *StepOutcome) error {
	res, err := x.patcher.WriteLines(s.Path, chunks(s)...)
	if res != nil {
		out.Patches = []*patch.Result{res}
		out.Detail = fmt.Sprintf("%s (%d bytes)", s.Path, res.BytesWritten)
	}
	return err
}

func runMakeWritable(x *execution, s config.Step, out *StepOutcome) error {
	out.Detail = s.Path
	return x.patcher.MakeWritable(s.Path)
}

func runManifest(x *execution, s config.Step, out *StepOutcome) error {
	path, err := x.composer.WriteManifest(s.Dir, s.File, s.Extra...)
	out.Detail = path
	return err
}

// chunks returns lines with a newline each, then text verbatim.
func chunks(s config.Step) []string {
	out := make([]string, 0, len(s.Lines)+1)
	for _, line := range s.Lines {
		out = append(out, line+"\n")
	}
	if s.Text != "" {
		out = append(out, s.Text)
	}
	return out
}

func patchDetail(path string, results []*patch.Result) string {
	var removed, changed, replaced int
	for _, r := range results {
		removed += r.LinesRemoved
		changed += r.LinesChanged
		replaced += r.Replacements
	}
	return fmt.Sprintf("%s (-%d lines, ~%d lines, %d replacements)", path, removed, changed, replaced)
}

// unresolvable reports whether a dry-run step failed only because an earlier
// step that was not executed would have created what it needs.
func unresolvable(err error) bool {
	return errors.Is(err, fsops.ErrMissingPath) || errors.Is(err, fsops.ErrAmbiguousMatch)
}

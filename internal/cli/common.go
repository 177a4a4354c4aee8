package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/bspstage/internal/config"
	"github.com/danieljhkim/bspstage/internal/fsops"
	"github.com/danieljhkim/bspstage/internal/gitx"
	"github.com/danieljhkim/bspstage/internal/hash"
	"github.com/danieljhkim/bspstage/internal/journal"
	"github.com/danieljhkim/bspstage/internal/logging"
	"github.com/danieljhkim/bspstage/internal/overlay"
	"github.com/danieljhkim/bspstage/internal/patch"
	"github.com/danieljhkim/bspstage/internal/pipeline"
	"github.com/danieljhkim/bspstage/internal/runner"
)

// app holds what every command resolves before it runs.
type app struct {
	paths    *config.Paths
	settings *config.Settings
	fs       fsops.FS
}

var current *app

// setup resolves the root, layers settings under the command line flags and
// configures logging.
func setup(cmd *cobra.Command) error {
	paths, err := config.DefaultPaths(rootFlags.root)
	if err != nil {
		return fmt.Errorf("failed to get config paths: %w", err)
	}

	settings, err := config.LoadSettings(paths.Root)
	if err != nil {
		return err
	}
	if settings.Root != paths.Root {
		if paths, err = config.DefaultPaths(settings.Root); err != nil {
			return fmt.Errorf("failed to get config paths: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("pipeline") {
		settings.Pipeline = rootFlags.pipeline
	}
	if flags.Changed("log-file") {
		settings.LogFile = rootFlags.logFile
	}
	if flags.Changed("verbose") {
		settings.Verbosity = rootFlags.verbose
	}
	if flags.Changed("dry-run") {
		settings.DryRun = rootFlags.dryRun
	}
	if flags.Changed("no-color") {
		settings.NoColor = rootFlags.noColor
	}
	settings.Root = paths.Root

	if settings.NoColor {
		color.NoColor = true
	}
	logging.SetupLogger(settings.Verbosity, logging.Options{
		LogFile: settings.LogFile,
		NoColor: settings.NoColor,
		Console: cmd.ErrOrStderr(),
	})

	current = &app{
		paths:    paths,
		settings: settings,
		fs:       fsops.NewRealFS(),
	}
	return nil
}

func (a *app) loadPipeline() (*config.Pipeline, error) {
	path, err := config.FindPipelineFile(a.paths.Root, a.settings.Pipeline)
	if err != nil {
		return nil, err
	}
	return config.LoadPipeline(path)
}

// hasher digests staged trees, leaving out bspstage's own state directory.
func (a *app) hasher() *hash.SHA256Hasher {
	h := hash.NewSHA256Hasher(a.fs)
	h.Skip[".bspstage"] = true
	return h
}

func (a *app) store() *journal.FileRecordStore {
	return journal.NewFileRecordStore(a.fs, a.paths.Records)
}

// newDriver creates a pipeline driver with real implementations of all
// dependencies.
func (a *app) newDriver(dryRun bool) (*pipeline.Driver, error) {
	if !dryRun {
		if err := a.paths.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("failed to ensure directories: %w", err)
		}
	}
	git := gitx.NewRealGitRepo(runner.NewExecRunner().WithLogger(logging.GetLogger("gitx")))
	return pipeline.New(
		a.fs,
		runner.NewExecRunner(),
		a.store(),
		a.hasher(),
		journal.SystemClock{},
		pipeline.WithGitRepo(git),
	), nil
}

func (a *app) composer() *overlay.Composer {
	return overlay.New(a.fs, overlay.WithDryRun(a.settings.DryRun))
}

func (a *app) patcher() *patch.Patcher {
	return patch.New(a.fs, patch.WithDryRun(a.settings.DryRun))
}

// FormatError formats an error for display.
func FormatError(err error) string {
	return errorColor.Sprintf("Error: %v", err)
}

// outputJSON outputs a value as JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputYAML outputs a value as YAML.
func outputYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

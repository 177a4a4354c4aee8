package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read into Settings.
const EnvPrefix = "BSPSTAGE_"

// settingsFiles are tried in order inside the project root.
var settingsFiles = []string{".bspstage.toml", ".bspstage.yaml", ".bspstage.yml"}

// Settings holds the CLI behavior knobs.
type Settings struct {
	// Root is the project directory
	Root string `koanf:"root"`

	// Pipeline is the pipeline file, relative to Root unless absolute
	Pipeline string `koanf:"pipeline"`

	// Verbosity is the default -v count
	Verbosity int `koanf:"verbosity"`

	// DryRun plans without writing
	DryRun bool `koanf:"dry_run"`

	// LogFile overrides the log file location ("-" disables it)
	LogFile string `koanf:"log_file"`

	// NoColor disables colored output
	NoColor bool `koanf:"no_color"`

	// SettingsFile is the settings file that was loaded, if any
	SettingsFile string `koanf:"-"`
}

func defaultSettings() map[string]interface{} {
	return map[string]interface{}{
		"root":      "",
		"pipeline":  DefaultPipelineFile,
		"verbosity": 0,
		"dry_run":   false,
		"log_file":  "",
		"no_color":  false,
	}
}

// LoadSettings layers defaults, the first settings file found in root, and
// BSPSTAGE_* environment variables, later layers winning. Environment names
// map to keys by dropping the prefix and lowercasing (BSPSTAGE_DRY_RUN is
// dry_run).
func LoadSettings(root string) (*Settings, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaultSettings(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load default settings: %w", err)
	}

	// 2. Settings file
	var loadedFile string
	for _, name := range settingsFiles {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to load settings from %s: %w", path, err)
		}
		loadedFile = path
		break
	}

	// 3. Environment
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Unmarshal
	var s Settings
	if err := k.UnmarshalWithConf("", &s, unmarshalConf(&s)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	s.SettingsFile = loadedFile
	if s.Root == "" {
		s.Root = root
	}
	return &s, nil
}

// unmarshalConf is the decoder setup shared by settings and pipelines.
func unmarshalConf(result interface{}) koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           result,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
			),
		},
	}
}

// parserFor picks the koanf parser for a file by extension.
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
}

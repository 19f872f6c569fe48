// Package config resolves tasker settings.
//
// Values are layered in this order, later layers winning:
//   - built-in defaults
//   - a config file (<root>/config.yaml, config.yml or config.toml)
//   - environment variables
//
// Command-line flags are applied on top by the cli package.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"

	DefaultPrompt   = "tasker>> "
	DefaultLogLevel = "warn"
	StoreFileName   = "user_tasks.json"
	HistoryFileName = "history"
)

// candidate file names, checked in order under the root.
var configFileNames = []string{"config.yaml", "config.yml", "config.toml"}

type Config struct {
	Root string `yaml:"-" toml:"-"`
	// Source is the config file that was read, if any.
	Source string `yaml:"-" toml:"-"`

	Store StoreConfig `yaml:"store" toml:"store"`
	UI    UIConfig    `yaml:"ui" toml:"ui"`
	REPL  REPLConfig  `yaml:"repl" toml:"repl"`
	Log   LogConfig   `yaml:"log" toml:"log"`
}

type StoreConfig struct {
	Path      string `yaml:"path" toml:"path"`
	StableIDs bool   `yaml:"stable_ids" toml:"stable_ids"`
}

type UIConfig struct {
	Color       string `yaml:"color" toml:"color"` // auto|always|never
	Prompt      string `yaml:"prompt" toml:"prompt"`
	History     bool   `yaml:"history" toml:"history"`
	HistoryPath string `yaml:"history_path" toml:"history_path"`
}

type REPLConfig struct {
	// ContinueOnError reports failed commands and keeps the session alive
	// instead of exiting.
	ContinueOnError bool `yaml:"continue_on_error" toml:"continue_on_error"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level"` // debug|info|warn|error
}

type LoadOptions struct {
	// Root overrides TASKER_ROOT and the ~/.tasker default.
	Root string
	// File overrides TASKER_CONFIG and the files under Root.
	File string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func Defaults(root string) Config {
	return Config{
		Root: root,
		Store: StoreConfig{
			Path: filepath.Join(root, StoreFileName),
		},
		UI: UIConfig{
			Color:       ColorAuto,
			Prompt:      DefaultPrompt,
			History:     true,
			HistoryPath: filepath.Join(root, HistoryFileName),
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

func Load(opts LoadOptions) (*Config, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	root := strings.TrimSpace(opts.Root)
	if root == "" {
		root = strings.TrimSpace(getenv("TASKER_ROOT"))
	}
	if root == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			root = filepath.Join(home, ".tasker")
		} else {
			root = ".tasker"
		}
	}
	root = expandHome(root)

	cfg := Defaults(root)

	file := strings.TrimSpace(opts.File)
	if file == "" {
		file = strings.TrimSpace(getenv("TASKER_CONFIG"))
	}
	if file != "" {
		file = expandHome(file)
		if err := loadFile(&cfg, file); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", file, err)
		}
		cfg.Source = file
	} else if found := findConfigFile(root); found != "" {
		if err := loadFile(&cfg, found); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", found, err)
		}
		cfg.Source = found
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize resolves relative paths against Root and validates enumerations.
// It is safe to call again after flags have been applied.
func (c *Config) Finalize() error {
	c.Store.Path = c.resolvePath(c.Store.Path, StoreFileName)
	c.UI.HistoryPath = c.resolvePath(c.UI.HistoryPath, HistoryFileName)

	c.UI.Color = strings.ToLower(strings.TrimSpace(c.UI.Color))
	switch c.UI.Color {
	case "":
		c.UI.Color = ColorAuto
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("%w: ui.color %q (use auto|always|never)", ErrInvalid, c.UI.Color)
	}

	if c.UI.Prompt == "" {
		c.UI.Prompt = DefaultPrompt
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "":
		c.Log.Level = DefaultLogLevel
	case "warning":
		c.Log.Level = "warn"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q (use debug|info|warn|error)", ErrInvalid, c.Log.Level)
	}
	return nil
}

func (c *Config) resolvePath(p string, fallback string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return filepath.Join(c.Root, fallback)
	}
	p = expandHome(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Root, p)
}

func findConfigFile(root string) string {
	for _, name := range configFileNames {
		path := filepath.Join(root, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

func loadFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(b), cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
		}
		return nil
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported config format %q (use .yaml, .yml or .toml)", ErrInvalid, filepath.Ext(path))
	}
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("TASKER_FILE")); v != "" {
		path, err := AbsFromCwd(v)
		if err != nil {
			return fmt.Errorf("%w: TASKER_FILE %q: %v", ErrInvalid, v, err)
		}
		cfg.Store.Path = path
	}
	if v := strings.TrimSpace(getenv("TASKER_STABLE_IDS")); v != "" {
		b, ok := ParseBool(v)
		if !ok {
			return fmt.Errorf("%w: TASKER_STABLE_IDS %q", ErrInvalid, v)
		}
		cfg.Store.StableIDs = b
	}
	if v := strings.TrimSpace(getenv("TASKER_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	// NO_COLOR wins over FORCE_COLOR (https://no-color.org/).
	if getenv("NO_COLOR") != "" {
		cfg.UI.Color = ColorNever
	} else if getenv("FORCE_COLOR") != "" {
		cfg.UI.Color = ColorAlways
	}
	return nil
}

// AbsFromCwd resolves a path given on the command line or in the
// environment. Unlike config file values it is not anchored at the root.
func AbsFromCwd(path string) (string, error) {
	return filepath.Abs(expandHome(strings.TrimSpace(path)))
}

func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~"+string(os.PathSeparator)) || path == "~" {
		home, _ := os.UserHomeDir()
		if home != "" {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Package config loads bamlls.toml.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up from the workspace root.
const FileName = "bamlls.toml"

// ErrNotFound is returned by Find when no configuration file exists.
var ErrNotFound = errors.New("no " + FileName + " found")

// Duration is a time.Duration written as a string such as "400ms".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full server configuration.
type Config struct {
	Project    ProjectConfig  `toml:"project"`
	Validation DebounceConfig `toml:"validation"`
	CodeLens   DebounceConfig `toml:"codelens"`
	Build      BuildConfig    `toml:"build"`
	Compiler   CompilerConfig `toml:"compiler"`
	Log        LogConfig      `toml:"log"`
	Watch      WatchConfig    `toml:"watch"`
	Metrics    MetricsConfig  `toml:"metrics"`
}

type ProjectConfig struct {
	Marker        string   `toml:"marker"`
	Extensions    []string `toml:"extensions"`
	ResolverCache int      `toml:"resolver_cache"`
}

type DebounceConfig struct {
	Quiet   Duration `toml:"quiet"`
	MaxWait Duration `toml:"max_wait"`
}

type BuildConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Quiet   Duration `toml:"quiet"`
	Timeout Duration `toml:"timeout"`
}

type CompilerConfig struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	Codec          string   `toml:"codec"`
	Timeout        Duration `toml:"timeout"`
	CacheDir       string   `toml:"cache_dir"`
	MaxDiagnostics int      `toml:"max_diagnostics"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type WatchConfig struct {
	Enabled bool `toml:"enabled"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Project: ProjectConfig{
			Marker:        "baml_src",
			Extensions:    []string{".baml", ".json"},
			ResolverCache: 4096,
		},
		Validation: DebounceConfig{
			Quiet:   Duration{400 * time.Millisecond},
			MaxWait: Duration{4 * time.Second},
		},
		CodeLens: DebounceConfig{
			Quiet:   Duration{time.Second},
			MaxWait: Duration{4 * time.Second},
		},
		Build: BuildConfig{
			Command: "baml",
			Args:    []string{"build"},
			Quiet:   Duration{time.Second},
			Timeout: Duration{2 * time.Minute},
		},
		Compiler: CompilerConfig{
			Codec:          "json",
			Timeout:        Duration{30 * time.Second},
			MaxDiagnostics: 100,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Find walks up from startDir looking for FileName.
func Find(startDir string) (string, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

// Load decodes path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Discover finds and loads the configuration for startDir, falling back to
// Default when there is none.
func Discover(startDir string) (Config, string, error) {
	path, err := Find(startDir)
	if errors.Is(err, ErrNotFound) {
		return Default(), "", nil
	}
	if err != nil {
		return Config{}, "", err
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// Validate checks value ranges and normalizes extensions.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Project.Marker) == "" {
		return fmt.Errorf("[project].marker must not be empty")
	}
	if strings.ContainsRune(c.Project.Marker, filepath.Separator) {
		return fmt.Errorf("[project].marker must be a directory name, got %q", c.Project.Marker)
	}
	if len(c.Project.Extensions) == 0 {
		return fmt.Errorf("[project].extensions must not be empty")
	}
	for i, ext := range c.Project.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Project.Extensions[i] = ext
	}
	for name, d := range map[string]DebounceConfig{"validation": c.Validation, "codelens": c.CodeLens} {
		if d.Quiet.Duration < 0 || d.MaxWait.Duration < 0 {
			return fmt.Errorf("[%s] durations must not be negative", name)
		}
	}
	switch strings.ToLower(c.Compiler.Codec) {
	case "", "json", "msgpack":
	default:
		return fmt.Errorf("[compiler].codec must be json or msgpack, got %q", c.Compiler.Codec)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to slog.
func ParseLevel(name string) (slog.Level, error) {
	var lvl slog.Level
	if strings.TrimSpace(name) == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("[log].level: %w", err)
	}
	return lvl, nil
}

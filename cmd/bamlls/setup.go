package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"bamlls/internal/compiler"
	"bamlls/internal/config"
	"bamlls/internal/schedule"
	"bamlls/internal/workspace"
)

// autoCacheDir selects the per-user cache location for [compiler].cache_dir.
const autoCacheDir = "auto"

// loadConfig reads --config, or discovers bamlls.toml from the working
// directory, and applies the global flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, _, err = config.Discover(".")
	}
	if err != nil {
		return config.Config{}, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		if _, err := config.ParseLevel(level); err != nil {
			return config.Config{}, err
		}
		cfg.Log.Level = level
	}
	return cfg, nil
}

// newLogger writes text logs to stderr; stdout belongs to the protocol.
// The returned level can be adjusted at runtime.
func newLogger(cfg config.Config) (*slog.Logger, *slog.LevelVar) {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	lv := new(slog.LevelVar)
	lv.Set(level)
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

func applyColorMode(cmd *cobra.Command) error {
	mode, _ := cmd.Flags().GetString("color")
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		color.NoColor = !isTerminal(os.Stdout)
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", mode)
	}
	return nil
}

// newAdapter picks the external compiler when one is configured and the
// built-in outline compiler otherwise.
func newAdapter(cfg config.Config, logger *slog.Logger) (*compiler.Adapter, error) {
	dir := cfg.Compiler.CacheDir
	if dir == autoCacheDir {
		var err error
		if dir, err = compiler.DefaultCacheDir("bamlls"); err != nil {
			return nil, fmt.Errorf("failed to resolve cache dir: %w", err)
		}
	}
	cache, err := compiler.OpenDiskCache(dir)
	if err != nil {
		return nil, err
	}
	var c compiler.Compiler = compiler.Outline{}
	if cfg.Compiler.Command != "" {
		c = &compiler.Exec{
			Command: cfg.Compiler.Command,
			Args:    cfg.Compiler.Args,
			Codec:   cfg.Compiler.Codec,
			Timeout: cfg.Compiler.Timeout.Duration,
		}
	}
	return compiler.NewAdapter(c, compiler.Options{
		Cache:          cache,
		MaxDiagnostics: cfg.Compiler.MaxDiagnostics,
		Logger:         logger,
	}), nil
}

// workspaceOptions maps the configuration onto the workspace core.
func workspaceOptions(cfg config.Config) workspace.Options {
	return workspace.Options{
		Marker:        cfg.Project.Marker,
		Extensions:    cfg.Project.Extensions,
		ResolverCache: cfg.Project.ResolverCache,
		Validation:    schedule.Config{Quiet: cfg.Validation.Quiet.Duration, MaxWait: cfg.Validation.MaxWait.Duration},
		CodeLens:      schedule.Config{Quiet: cfg.CodeLens.Quiet.Duration, MaxWait: cfg.CodeLens.MaxWait.Duration},
		Build:         schedule.Config{Quiet: cfg.Build.Quiet.Duration},
	}
}

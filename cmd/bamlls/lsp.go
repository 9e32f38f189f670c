package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bamlls/internal/build"
	"bamlls/internal/fileuri"
	"bamlls/internal/lsp"
	"bamlls/internal/metrics"
	"bamlls/internal/version"
	"bamlls/internal/watch"
	"bamlls/internal/workspace"
)

var lspCmd = &cobra.Command{
	Use:          "lsp",
	Short:        "Run the BAML language server over stdio",
	SilenceUsage: true,
	RunE:         runLSP,
}

func init() {
	lspCmd.Flags().Bool("watch", false, "watch project roots on disk in addition to editor file events")
	lspCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (overrides [metrics].addr)")
}

func runLSP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("watch") {
		cfg.Watch.Enabled, _ = cmd.Flags().GetBool("watch")
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	logger, level := newLogger(cfg)

	adapter, err := newAdapter(cfg, logger)
	if err != nil {
		return err
	}
	runner := build.NewRunner(cfg.Build.Command, cfg.Build.Args, cfg.Build.Timeout.Duration)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New()
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Addr, logger) })
	}

	opts := workspaceOptions(cfg)
	opts.Compiler = adapter
	opts.Builder = runner
	opts.Metrics = m

	var server *lsp.Server
	if cfg.Watch.Enabled {
		watcher, err := watch.New(func(changes []watch.Change) {
			server.Workspace().FilesChanged(fileEvents(changes))
		}, watch.Options{Extensions: cfg.Project.Extensions, Logger: logger})
		if err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		watcher.Start(gctx)
		defer watcher.Stop()
		opts.OnRoot = func(root string) {
			if err := watcher.AddRoot(root); err != nil {
				logger.Warn("failed to watch root", "root", root, "err", err)
			}
		}
	}

	server, err = lsp.NewServer(os.Stdin, os.Stdout, lsp.ServerOptions{
		Workspace: opts,
		CLI:       runner,
		Logger:    logger,
		Level:     level,
		Version:   version.Version,
	})
	if err != nil {
		return err
	}

	g.Go(func() error {
		defer cancel()
		return server.Run(gctx)
	})
	err = g.Wait()
	if errors.Is(err, lsp.ErrExit) {
		return nil
	}
	if errors.Is(err, lsp.ErrExitWithoutShutdown) {
		return fmt.Errorf("lsp exit without shutdown")
	}
	return err
}

// fileEvents maps watcher changes onto workspace file events.
func fileEvents(changes []watch.Change) []workspace.FileEvent {
	out := make([]workspace.FileEvent, 0, len(changes))
	for _, ch := range changes {
		ev := workspace.FileEvent{URI: fileuri.FromPath(ch.Path), IsDir: ch.IsDir}
		switch ch.Op {
		case watch.Create:
			ev.Kind = workspace.FileCreated
		case watch.Remove:
			ev.Kind = workspace.FileDeleted
		default:
			ev.Kind = workspace.FileChanged
		}
		out = append(out, ev)
	}
	return out
}

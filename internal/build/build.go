// Package build runs the external generator CLI for a project root.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Runner invokes the CLI. The command can be swapped at runtime when the
// editor settings change.
type Runner struct {
	mu      sync.RWMutex
	command string
	args    []string
	timeout time.Duration
}

// NewRunner returns a runner for command with the build arguments args.
func NewRunner(command string, args []string, timeout time.Duration) *Runner {
	return &Runner{command: command, args: append([]string(nil), args...), timeout: timeout}
}

// SetCommand replaces the CLI path. An empty path is ignored.
func (r *Runner) SetCommand(path string) {
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}
	r.mu.Lock()
	r.command = path
	r.mu.Unlock()
}

// Command returns the current CLI path.
func (r *Runner) Command() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.command
}

// Build generates client code for root. It runs in the directory that
// contains root and returns the combined output.
func (r *Runner) Build(ctx context.Context, root string) (string, error) {
	r.mu.RLock()
	args := append([]string(nil), r.args...)
	r.mu.RUnlock()
	return r.run(ctx, filepath.Dir(root), args...)
}

// Version reports the CLI version string.
func (r *Runner) Version(ctx context.Context) (string, error) {
	return r.run(ctx, "", "--version")
}

func (r *Runner) run(ctx context.Context, dir string, args ...string) (string, error) {
	command := r.Command()
	if command == "" {
		return "", fmt.Errorf("build command is not configured")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	text := strings.TrimSpace(out.String())
	if err != nil {
		if text != "" {
			return text, fmt.Errorf("%s %s: %w: %s", command, strings.Join(args, " "), err, text)
		}
		return text, fmt.Errorf("%s %s: %w", command, strings.Join(args, " "), err)
	}
	return text, nil
}

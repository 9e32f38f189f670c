// Package watch reports file system changes under project roots.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of a change.
type Op uint8

const (
	Create Op = iota
	Write
	Remove
)

func (op Op) String() string {
	switch op {
	case Create:
		return "create"
	case Write:
		return "write"
	case Remove:
		return "remove"
	}
	return "unknown"
}

// Change is one file system change.
type Change struct {
	Path  string
	Op    Op
	IsDir bool
}

// Handler receives a debounced, deduplicated batch of changes.
type Handler func(changes []Change)

// Options configures a Watcher.
type Options struct {
	Debounce   time.Duration
	Extensions []string
	BufferSize int
	Logger     *slog.Logger
}

// Watcher watches directory trees recursively. Directories are always
// reported; files only when their extension is wanted.
type Watcher struct {
	fs       *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	exts     map[string]struct{}
	log      *slog.Logger

	changes  chan Change
	done     chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	roots map[string]struct{}
}

// New creates a watcher. Call Start before adding roots.
func New(handler Handler, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}
	return &Watcher{
		fs:       fw,
		handler:  handler,
		debounce: opts.Debounce,
		exts:     exts,
		log:      opts.Logger,
		changes:  make(chan Change, opts.BufferSize),
		done:     make(chan struct{}),
		roots:    make(map[string]struct{}),
	}, nil
}

// Start runs the event loops until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
}

// Stop closes the underlying watcher. Pending changes are flushed.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fs.Close()
	})
}

// AddRoot watches dir and every directory below it. Adding a root twice is
// a no-op.
func (w *Watcher) AddRoot(dir string) error {
	w.mu.Lock()
	if _, ok := w.roots[dir]; ok {
		w.mu.Unlock()
		return nil
	}
	w.roots[dir] = struct{}{}
	w.mu.Unlock()
	return w.addRecursive(dir)
}

// Roots lists watched roots.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.roots))
	for r := range w.roots {
		out = append(out, r)
	}
	return out
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func (w *Watcher) wanted(path string, isDir bool) bool {
	if isDir {
		return true
	}
	if len(w.exts) == 0 {
		return true
	}
	_, ok := w.exts[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			change := Change{Path: event.Name, Op: convertOp(event.Op)}
			if change.Op != Remove {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					change.IsDir = true
					if event.Has(fsnotify.Create) {
						if err := w.addRecursive(event.Name); err != nil {
							w.log.Debug("watch add failed", "path", event.Name, "err", err)
						}
					}
				}
			} else if filepath.Ext(event.Name) == "" {
				// a removed path without extension is most likely a directory
				change.IsDir = true
			}
			if !w.wanted(change.Path, change.IsDir) {
				continue
			}
			select {
			case w.changes <- change:
			default:
				w.log.Warn("watch buffer full, dropping change", "path", change.Path)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log.Warn("watch error", "err", err)
			}
		}
	}
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return Create
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return Remove
	default:
		return Write
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	var batch []Change
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			if deduped := dedup(batch); len(deduped) > 0 && w.handler != nil {
				w.handler(deduped)
			}
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// dedup keeps the last change per path, in first-seen order.
func dedup(changes []Change) []Change {
	seen := make(map[string]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if idx, ok := seen[c.Path]; ok {
			out[idx] = c
			continue
		}
		seen[c.Path] = len(out)
		out = append(out, c)
	}
	return out
}

// Package workspace ties the document store, root resolver, registry,
// compiler adapter and schedulers into the editor-facing core. It never
// talks to a transport directly: results leave through a Sink.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"bamlls/internal/compiler"
	"bamlls/internal/diag"
	"bamlls/internal/docstore"
	"bamlls/internal/metrics"
	"bamlls/internal/model"
	"bamlls/internal/project"
	"bamlls/internal/registry"
	"bamlls/internal/schedule"
)

// Sink receives everything the core publishes. Calls for one root arrive in
// commit order. Implementations must not call back into the Workspace
// synchronously.
type Sink interface {
	DiagnosticsUpdated(uri string, diags []diag.Diagnostic)
	ModelUpdated(root string, m *model.Model)
	ModelRemoved(root string)
	UserMessage(sev diag.Severity, text string)
}

// Builder runs the out-of-band build for a root after a save.
type Builder interface {
	Build(ctx context.Context, root string) (string, error)
}

// Scheduler names, also used as metric labels.
const (
	CadenceValidation = "validation"
	CadenceCodeLens   = "codelens"
	CadenceBuild      = "build"
)

// Options configures a Workspace.
type Options struct {
	Marker        string
	Extensions    []string
	ResolverCache int

	Validation schedule.Config
	CodeLens   schedule.Config
	Build      schedule.Config

	Compiler *compiler.Adapter
	Builder  Builder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// OnRoot is called once for every newly discovered root.
	OnRoot func(root string)
}

// Workspace is the per-session core. It is safe for concurrent use; events
// from one caller are applied in call order.
type Workspace struct {
	docs     *docstore.Store
	resolver *project.Resolver
	reg      *registry.Registry
	adapter  *compiler.Adapter
	builder  Builder
	sink     Sink
	metrics  *metrics.Metrics
	log      *slog.Logger
	exts     map[string]struct{}
	extList  []string
	onRoot   func(string)

	validate *schedule.Scheduler
	codelens *schedule.Scheduler
	build    *schedule.Scheduler

	mu        sync.Mutex
	warned    map[string]struct{}
	rootLocks map[string]*sync.Mutex
}

// New builds a workspace publishing to sink.
func New(sink Sink, opts Options) (*Workspace, error) {
	if sink == nil {
		return nil, fmt.Errorf("workspace: nil sink")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Compiler == nil {
		opts.Compiler = compiler.NewAdapter(compiler.Outline{}, compiler.Options{Logger: opts.Logger})
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".baml", ".json"}
	}
	resolver, err := project.NewResolver(opts.Marker, opts.ResolverCache)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	w := &Workspace{
		docs:      docstore.New(),
		resolver:  resolver,
		reg:       registry.New(),
		adapter:   opts.Compiler,
		builder:   opts.Builder,
		sink:      sink,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		exts:      make(map[string]struct{}, len(opts.Extensions)),
		onRoot:    opts.OnRoot,
		warned:    make(map[string]struct{}),
		rootLocks: make(map[string]*sync.Mutex),
	}
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(ext)
		w.exts[ext] = struct{}{}
		w.extList = append(w.extList, ext)
	}
	hook := func(name string) schedule.Option {
		return schedule.WithFireHook(func(_ string, leading bool) {
			w.metrics.Scheduled(name, leading)
		})
	}
	w.validate = schedule.New(CadenceValidation, opts.Validation, w.runValidation, schedule.WithLogger(w.log), hook(CadenceValidation))
	w.codelens = schedule.New(CadenceCodeLens, opts.CodeLens, w.runValidation, schedule.WithLogger(w.log), hook(CadenceCodeLens))
	w.build = schedule.New(CadenceBuild, opts.Build, w.runBuild, schedule.WithLogger(w.log), hook(CadenceBuild))
	return w, nil
}

// Shutdown stops all schedulers and waits for running work.
func (w *Workspace) Shutdown() {
	w.validate.Close()
	w.codelens.Close()
	w.build.Close()
}

// Wait blocks until no validation, code-lens or build work is pending.
func (w *Workspace) Wait(ctx context.Context) error {
	for _, s := range []*schedule.Scheduler{w.validate, w.codelens, w.build} {
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Documents exposes the document store.
func (w *Workspace) Documents() *docstore.Store {
	return w.docs
}

// Registry exposes the root registry.
func (w *Workspace) Registry() *registry.Registry {
	return w.reg
}

// Extensions lists the member file extensions.
func (w *Workspace) Extensions() []string {
	return append([]string(nil), w.extList...)
}

func (w *Workspace) wanted(path string) bool {
	_, ok := w.exts[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (w *Workspace) rootLock(root string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.rootLocks[root]
	if !ok {
		l = &sync.Mutex{}
		w.rootLocks[root] = l
	}
	return l
}

func (w *Workspace) userMessage(sev diag.Severity, text string) {
	w.metrics.UserMessage(sev.String())
	w.sink.UserMessage(sev, text)
}

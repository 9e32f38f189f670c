package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"bamlls/internal/diag"
	"bamlls/internal/model"
	"bamlls/internal/source"
)

// DefaultMaxDiagnostics caps diagnostics kept per file.
const DefaultMaxDiagnostics = 100

// CodeFault marks the synthetic diagnostic produced for a compiler fault.
const CodeFault = "compiler-fault"

// Options configures an Adapter.
type Options struct {
	Cache          *DiskCache
	MaxDiagnostics int
	Logger         *slog.Logger
}

// Result is a shaped compile result. Every diagnostic carries a Range
// computed from the text in Lines.
type Result struct {
	Diagnostics []diag.Diagnostic
	Model       *model.Model
	Lines       map[string]*source.LineIndex
	Cached      bool
	Fault       bool
}

// Adapter turns any Compiler into a total, deterministic function.
type Adapter struct {
	compiler Compiler
	cache    *DiskCache
	max      int
	log      *slog.Logger
}

// NewAdapter wraps c.
func NewAdapter(c Compiler, opts Options) *Adapter {
	max := opts.MaxDiagnostics
	if max == 0 {
		max = DefaultMaxDiagnostics
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{compiler: c, cache: opts.Cache, max: max, log: logger}
}

// Compile compiles files for root. It never fails: compiler errors and
// panics become a single error diagnostic and a nil model. files is not
// modified.
func (a *Adapter) Compile(ctx context.Context, root string, files []File) Result {
	sorted := append([]File(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	lines := make(map[string]*source.LineIndex, len(sorted))
	for _, f := range sorted {
		lines[f.Path] = source.NewLineIndex(f.Text)
	}

	key := Key(root, sorted)
	var payload Payload
	if ok, err := a.cache.Get(key, &payload); err != nil {
		a.log.Warn("compile cache read failed", "root", root, "err", err)
	} else if ok {
		res := Result{Diagnostics: payload.Diagnostics, Lines: lines, Cached: true}
		if payload.HasModel {
			res.Model = model.New(payload.Model)
		}
		return res
	}

	out, err := a.run(ctx, root, sorted)
	if err != nil {
		a.log.Warn("compiler fault", "root", root, "err", err)
		return Result{Diagnostics: []diag.Diagnostic{faultDiagnostic(root, sorted, lines, err)}, Lines: lines, Fault: true}
	}

	res := Result{Diagnostics: a.shape(root, out.Diagnostics, lines), Model: out.Model, Lines: lines}
	if ctx.Err() == nil {
		payload = Payload{Root: root, Diagnostics: res.Diagnostics}
		if res.Model != nil {
			payload.HasModel = true
			payload.Model = res.Model.Data()
		}
		if err := a.cache.Put(key, &payload); err != nil {
			a.log.Warn("compile cache write failed", "root", root, "err", err)
		}
	}
	return res
}

// GenerateTests renders a test file for root through the wrapped compiler.
// It returns ErrNoTestGenerator when the compiler has no such capability.
func (a *Adapter) GenerateTests(ctx context.Context, root string, files []File, request any) (string, error) {
	gen, ok := a.compiler.(TestGenerator)
	if !ok {
		return "", ErrNoTestGenerator
	}
	sorted := append([]File(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	return gen.GenerateTests(ctx, root, sorted, request)
}

func (a *Adapter) run(ctx context.Context, root string, files []File) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compiler panic: %v", r)
		}
	}()
	if a.compiler == nil {
		return Output{}, fmt.Errorf("no compiler configured")
	}
	// the compiler gets its own copy so it cannot reorder ours
	return a.compiler.Compile(ctx, root, append([]File(nil), files...))
}

func (a *Adapter) shape(root string, list []diag.Diagnostic, lines map[string]*source.LineIndex) []diag.Diagnostic {
	bag := diag.NewBag(a.max)
	for _, d := range list {
		li, ok := lines[d.Path]
		if !ok {
			a.log.Debug("dropping diagnostic for unknown path", "root", root, "path", d.Path, "message", d.Message)
			continue
		}
		d.Span = d.Span.Clamp(li.Len())
		d.Range = li.Range(d.Span)
		bag.Add(d)
	}
	if n := bag.Dropped(); n > 0 {
		a.log.Debug("diagnostics truncated", "root", root, "dropped", n)
	}
	bag.Sort()
	bag.Dedup()
	return bag.Items()
}

func faultDiagnostic(root string, files []File, lines map[string]*source.LineIndex, err error) diag.Diagnostic {
	d := diag.Errorf(root, source.Span{}, CodeFault, "internal compiler error: "+err.Error())
	if len(files) > 0 {
		d.Path = files[0].Path
		d.Range = lines[d.Path].Range(d.Span)
	}
	return d
}

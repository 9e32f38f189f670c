// Package registry owns per-root state: membership, the committed model and
// the diagnostics last published for each member.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"bamlls/internal/diag"
	"bamlls/internal/model"
	"bamlls/internal/source"
)

// Snapshot pairs a model with the position indexes of the exact texts it was
// compiled from. Snapshots are immutable once published.
type Snapshot struct {
	Root  string
	Model *model.Model
	Lines map[string]*source.LineIndex
	Seq   uint64
	// Failed is set when the latest compile was fatal and Model is the
	// last good one.
	Failed bool
}

// LineIndex returns the index for path, or nil.
func (s *Snapshot) LineIndex(path string) *source.LineIndex {
	if s == nil {
		return nil
	}
	return s.Lines[path]
}

// DiscardReason says why a commit was not applied.
type DiscardReason string

const (
	// Superseded: a newer snapshot already committed.
	Superseded DiscardReason = "superseded"
	// Stale: a member changed after the snapshot was taken.
	Stale DiscardReason = "stale"
)

// Commit is the result of one compile of a root.
type Commit struct {
	Seq         uint64
	Model       *model.Model
	Lines       map[string]*source.LineIndex
	Diagnostics map[string][]diag.Diagnostic // by member uri
}

// Outcome tells the caller what to publish after a commit.
type Outcome struct {
	Applied bool
	Reason  DiscardReason
	// Publish holds the new diagnostics for every affected uri, including
	// empty lists for uris that must be cleared.
	Publish      map[string][]diag.Diagnostic
	Updated      *model.Model
	ModelRemoved bool
}

// EmptyOutcome reports the effect of marking a root empty.
type EmptyOutcome struct {
	// Transition is true only on the first call after the root had members
	// or was created.
	Transition   bool
	Cleared      []string
	ModelRemoved bool
}

type entry struct {
	path string

	mu          sync.Mutex
	members     map[string]struct{}
	diagnostics map[string][]diag.Diagnostic
	committed   uint64
	touched     uint64
	empty       bool

	snap atomic.Pointer[Snapshot]
}

// Registry is safe for concurrent use. Commits to one root are serialized;
// different roots never contend beyond the map lookup.
type Registry struct {
	mu    sync.RWMutex
	roots map[string]*entry
	last  atomic.Pointer[string]
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{roots: make(map[string]*entry)}
}

// Ensure registers root and reports whether it was new.
func (r *Registry) Ensure(root string) bool {
	_, created := r.ensure(root)
	return created
}

func (r *Registry) ensure(root string) (*entry, bool) {
	r.mu.RLock()
	e, ok := r.roots[root]
	r.mu.RUnlock()
	if ok {
		return e, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.roots[root]; ok {
		return e, false
	}
	e = &entry{
		path:        root,
		members:     make(map[string]struct{}),
		diagnostics: make(map[string][]diag.Diagnostic),
	}
	r.roots[root] = e
	return e, true
}

func (r *Registry) lookup(root string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roots[root]
}

// Has reports whether root is registered.
func (r *Registry) Has(root string) bool {
	return r.lookup(root) != nil
}

// Roots lists registered roots in sorted order.
func (r *Registry) Roots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.roots))
	for root := range r.roots {
		out = append(out, root)
	}
	sort.Strings(out)
	return out
}

// AddDocument adds uri to root, registering root if needed. It reports
// whether membership changed. It never triggers a compile.
func (r *Registry) AddDocument(root, uri string) bool {
	e, _ := r.ensure(root)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.members[uri]; ok {
		return false
	}
	e.members[uri] = struct{}{}
	e.empty = false
	return true
}

// RemoveDocument drops uri from root. Its published diagnostics are kept
// until the next commit clears them.
func (r *Registry) RemoveDocument(root, uri string) bool {
	e := r.lookup(root)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.members[uri]; !ok {
		return false
	}
	delete(e.members, uri)
	return true
}

// Members lists the member uris of root in sorted order.
func (r *Registry) Members(root string) []string {
	e := r.lookup(root)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.members))
	for uri := range e.members {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// IsMember reports whether uri belongs to root.
func (r *Registry) IsMember(root, uri string) bool {
	e := r.lookup(root)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.members[uri]
	return ok
}

// Touch records that a member of root changed at seq. Any commit of a
// snapshot taken before seq will be discarded.
func (r *Registry) Touch(root string, seq uint64) {
	e := r.lookup(root)
	if e == nil {
		return
	}
	e.mu.Lock()
	if seq > e.touched {
		e.touched = seq
	}
	e.mu.Unlock()
}

// Snapshot returns the last committed snapshot of root, or nil.
func (r *Registry) Snapshot(root string) *Snapshot {
	e := r.lookup(root)
	if e == nil {
		return nil
	}
	return e.snap.Load()
}

// Model returns the model queries should use for root: the latest one that
// compiled successfully, even if a later compile failed.
func (r *Registry) Model(root string) *model.Model {
	if s := r.Snapshot(root); s != nil {
		return s.Model
	}
	return nil
}

// Failed reports whether the latest commit for root was fatal.
func (r *Registry) Failed(root string) bool {
	s := r.Snapshot(root)
	return s != nil && s.Failed
}

// Diagnostics returns the diagnostics last published for uri in root.
func (r *Registry) Diagnostics(root, uri string) []diag.Diagnostic {
	e := r.lookup(root)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.diagnostics[uri]
}

// LastCommitted returns the root that most recently accepted a commit.
func (r *Registry) LastCommitted() (string, bool) {
	p := r.last.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// Commit applies a compile result to root unless it is out of date.
func (r *Registry) Commit(root string, c Commit) Outcome {
	e, _ := r.ensure(root)
	e.mu.Lock()
	defer e.mu.Unlock()

	if c.Seq <= e.committed {
		return Outcome{Reason: Superseded}
	}
	if e.touched > c.Seq {
		return Outcome{Reason: Stale}
	}
	e.committed = c.Seq

	out := Outcome{Applied: true, Publish: make(map[string][]diag.Diagnostic)}
	next := make(map[string][]diag.Diagnostic, len(e.members))
	for uri := range e.members {
		list := c.Diagnostics[uri]
		next[uri] = list
		out.Publish[uri] = list
	}
	for uri, prev := range e.diagnostics {
		if _, ok := next[uri]; !ok && len(prev) > 0 {
			out.Publish[uri] = nil
		}
	}
	e.diagnostics = next

	prev := e.snap.Load()
	if c.Model != nil {
		e.snap.Store(&Snapshot{Root: root, Model: c.Model, Lines: c.Lines, Seq: c.Seq})
		out.Updated = c.Model
	} else {
		kept := &Snapshot{Root: root, Seq: c.Seq, Failed: true}
		if prev != nil {
			kept.Model = prev.Model
			kept.Lines = prev.Lines
		}
		e.snap.Store(kept)
		out.ModelRemoved = prev == nil || !prev.Failed
	}
	name := root
	r.last.Store(&name)
	return out
}

// MarkEmpty records that root has no member files at seq: diagnostics are
// cleared and the model is dropped.
func (r *Registry) MarkEmpty(root string, seq uint64) EmptyOutcome {
	e, _ := r.ensure(root)
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq > e.committed {
		e.committed = seq
	}
	var out EmptyOutcome
	out.Transition = !e.empty
	e.empty = true
	for uri, list := range e.diagnostics {
		if len(list) > 0 {
			out.Cleared = append(out.Cleared, uri)
		}
	}
	sort.Strings(out.Cleared)
	e.diagnostics = make(map[string][]diag.Diagnostic)
	if prev := e.snap.Swap(nil); prev != nil && prev.Model != nil {
		out.ModelRemoved = true
	}
	return out
}

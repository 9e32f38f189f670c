package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"bamlls/internal/diag"
	"bamlls/internal/fileuri"
	"bamlls/internal/project"
)

// ChangeKind classifies an on-disk change.
type ChangeKind uint8

const (
	FileCreated ChangeKind = iota + 1
	FileChanged
	FileDeleted
)

// FileEvent is one on-disk change reported by the editor or a watcher.
type FileEvent struct {
	URI   string
	Kind  ChangeKind
	IsDir bool
}

// Open records a document opened by the editor and schedules validation.
func (w *Workspace) Open(uri, languageID, text string, version int) {
	uri = fileuri.Canonical(uri)
	if uri == "" {
		return
	}
	doc := w.docs.Open(uri, languageID, text, version)
	w.track(uri, doc.Seq)
}

// Change replaces the full text of uri and schedules validation.
func (w *Workspace) Change(uri, text string) {
	uri = fileuri.Canonical(uri)
	if uri == "" {
		return
	}
	doc := w.docs.Update(uri, text)
	w.track(uri, doc.Seq)
}

// Save schedules the out-of-band build for the root owning uri.
func (w *Workspace) Save(uri string) {
	uri = fileuri.Canonical(uri)
	root, ok := w.resolver.Resolve(fileuri.ToPath(uri))
	if !ok {
		w.log.Debug("save outside any project", "uri", uri)
		return
	}
	if w.builder != nil {
		w.build.Trigger(root)
	}
}

// Close forgets the editor text of uri. A member that still exists on disk
// stays in its root and is revalidated from disk.
func (w *Workspace) Close(uri string) {
	uri = fileuri.Canonical(uri)
	if !w.docs.Close(uri) {
		return
	}
	path := fileuri.ToPath(uri)
	root, ok := w.resolver.Resolve(path)
	if !ok || !w.reg.IsMember(root, uri) {
		return
	}
	if _, err := os.Stat(path); err != nil {
		w.reg.RemoveDocument(root, uri)
	}
	w.reg.Touch(root, w.docs.Seq())
	w.validate.Trigger(fileuri.FromPath(root))
}

// FilesChanged applies on-disk changes: membership is updated, cached root
// resolutions under changed directories are dropped and affected roots are
// revalidated.
func (w *Workspace) FilesChanged(events []FileEvent) {
	affected := make(map[string]struct{})
	for _, ev := range events {
		path := fileuri.ToPath(ev.URI)
		if path == "" {
			continue
		}
		isDir := ev.IsDir || filepath.Base(path) == w.resolver.Marker()
		if !isDir {
			if ev.Kind == FileDeleted {
				// a deleted path can no longer be stat'ed
				isDir = filepath.Ext(path) == ""
			} else if info, err := os.Stat(path); err == nil && info.IsDir() {
				isDir = true
			}
		}
		if isDir {
			w.dirChanged(path, ev.Kind, affected)
			continue
		}
		if !w.wanted(path) {
			continue
		}
		root, ok := w.resolver.Resolve(path)
		if !ok {
			continue
		}
		if created := w.ensureRoot(root); created {
			affected[root] = struct{}{}
			continue
		}
		uri := fileuri.FromPath(path)
		switch ev.Kind {
		case FileCreated:
			w.reg.AddDocument(root, uri)
		case FileDeleted:
			if _, open := w.docs.Get(uri); !open {
				w.reg.RemoveDocument(root, uri)
			}
		case FileChanged:
			if !w.reg.IsMember(root, uri) {
				w.reg.AddDocument(root, uri)
			}
			if _, open := w.docs.Get(uri); open {
				// the editor text wins over the disk copy
				continue
			}
		}
		affected[root] = struct{}{}
	}
	if len(affected) == 0 {
		return
	}
	seq := w.docs.Bump()
	for root := range affected {
		w.reg.Touch(root, seq)
		w.validate.Trigger(fileuri.FromPath(root))
	}
}

func (w *Workspace) dirChanged(dir string, kind ChangeKind, affected map[string]struct{}) {
	if n := w.resolver.Invalidate(dir); n > 0 {
		w.log.Debug("root cache invalidated", "dir", dir, "entries", n)
	}
	w.mu.Lock()
	for uri := range w.warned {
		if fileuri.WithinRoot(dir, fileuri.ToPath(uri)) {
			delete(w.warned, uri)
		}
	}
	w.mu.Unlock()

	for _, root := range w.reg.Roots() {
		rootGone := kind == FileDeleted && fileuri.WithinRoot(dir, root)
		if !rootGone && !fileuri.WithinRoot(root, dir) {
			continue
		}
		for _, uri := range w.reg.Members(root) {
			path := fileuri.ToPath(uri)
			if !fileuri.WithinRoot(dir, path) {
				continue
			}
			if _, open := w.docs.Get(uri); open && !rootGone {
				continue
			}
			if _, err := os.Stat(path); err != nil || rootGone {
				w.reg.RemoveDocument(root, uri)
			}
		}
		if !rootGone && kind != FileDeleted {
			w.discover(root)
		}
		affected[root] = struct{}{}
	}

	// open documents may now resolve to a different root
	for _, uri := range w.docs.URIs() {
		if !fileuri.WithinRoot(dir, fileuri.ToPath(uri)) {
			continue
		}
		if root, _, ok := w.attach(uri); ok {
			affected[root] = struct{}{}
		}
	}
}

// RevalidateAll schedules validation of every known root.
func (w *Workspace) RevalidateAll() {
	seq := w.docs.Bump()
	for _, root := range w.reg.Roots() {
		w.reg.Touch(root, seq)
		w.validate.Trigger(fileuri.FromPath(root))
	}
}

// Persist writes the editor text of uri back to disk.
func (w *Workspace) Persist(uri string) error {
	uri = fileuri.Canonical(uri)
	doc, ok := w.docs.Get(uri)
	if !ok {
		return fmt.Errorf("document %s is not open", uri)
	}
	if err := os.WriteFile(doc.Path, []byte(doc.Text), 0o644); err != nil {
		return fmt.Errorf("failed to save %s: %w", doc.Path, err)
	}
	return nil
}

// track attaches uri to its root and schedules validation.
func (w *Workspace) track(uri string, seq uint64) {
	root, added, ok := w.attach(uri)
	if !ok {
		return
	}
	if added {
		// compiles that already read the old member set must lose
		seq = w.docs.Bump()
	}
	w.reg.Touch(root, seq)
	w.validate.Trigger(uri)
}

// attach resolves uri to a root, discovering the root on first sight and
// adding uri as a member. added reports whether membership changed. Files of
// other languages never join a root.
func (w *Workspace) attach(uri string) (root string, added, ok bool) {
	path := fileuri.ToPath(uri)
	if !w.wanted(path) {
		return "", false, false
	}
	root, ok = w.resolver.Resolve(path)
	if !ok {
		w.warnNoRoot(uri)
		return "", false, false
	}
	w.ensureRoot(root)
	added = w.reg.AddDocument(root, uri)
	return root, added, true
}

// ensureRoot registers root and loads its members from disk the first time
// it is seen.
func (w *Workspace) ensureRoot(root string) bool {
	if !w.reg.Ensure(root) {
		return false
	}
	w.log.Info("project root discovered", "root", root)
	w.discover(root)
	w.metrics.SetRoots(len(w.reg.Roots()))
	if w.onRoot != nil {
		w.onRoot(root)
	}
	return true
}

func (w *Workspace) discover(root string) {
	paths, err := project.DiscoverFiles(root, w.extList)
	if err != nil {
		w.log.Warn("failed to list project files", "root", root, "err", err)
		return
	}
	for _, p := range paths {
		w.reg.AddDocument(root, fileuri.FromPath(p))
	}
}

func (w *Workspace) warnNoRoot(uri string) {
	w.mu.Lock()
	_, seen := w.warned[uri]
	w.warned[uri] = struct{}{}
	w.mu.Unlock()
	if seen {
		return
	}
	w.log.Warn("document outside any project", "uri", uri)
	w.userMessage(diag.SevError, fmt.Sprintf(msgNoRoot, w.resolver.Marker(), uri))
}

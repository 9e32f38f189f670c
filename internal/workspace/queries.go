package workspace

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"bamlls/internal/diag"
	"bamlls/internal/fileuri"
	"bamlls/internal/model"
	"bamlls/internal/query"
	"bamlls/internal/registry"
	"bamlls/internal/source"
)

// snapshotFor returns the committed snapshot of the root owning uri.
func (w *Workspace) snapshotFor(uri string) (*registry.Snapshot, string) {
	path := fileuri.ToPath(uri)
	root, ok := w.resolver.Resolve(path)
	if !ok {
		return nil, path
	}
	return w.reg.Snapshot(root), path
}

// fallbackSnapshot is used for documents that belong to no root: the most
// recently committed root answers for them.
func (w *Workspace) fallbackSnapshot() *registry.Snapshot {
	root, ok := w.reg.LastCommitted()
	if !ok {
		return nil
	}
	return w.reg.Snapshot(root)
}

// Definition resolves the symbol at pos in uri. Documents outside every root
// (host-language files) look the word under the cursor up in the most
// recently committed root.
func (w *Workspace) Definition(uri string, pos source.Position) []query.Location {
	uri = fileuri.Canonical(uri)
	snap, path := w.snapshotFor(uri)
	if snap != nil {
		if loc, ok := query.DefinitionAt(snap, path, pos); ok {
			return []query.Location{loc}
		}
		return nil
	}
	doc, ok := w.docs.Get(uri)
	if !ok {
		return nil
	}
	word := norm.NFC.String(wordAt(doc.Text, int(doc.Lines().Offset(pos))))
	if word == "" {
		return nil
	}
	if loc, ok := query.Definition(w.fallbackSnapshot(), word); ok {
		return []query.Location{loc}
	}
	return nil
}

// DefinitionByName looks name up in the root owning sourceFile, or in the
// most recently committed root when sourceFile belongs to none. Names from
// host-language files are NFC-normalized first.
func (w *Workspace) DefinitionByName(sourceFile, name string) []query.Location {
	name = norm.NFC.String(name)
	snap, _ := w.snapshotFor(fileuri.Canonical(sourceFile))
	if snap == nil {
		snap = w.fallbackSnapshot()
	}
	if loc, ok := query.Definition(snap, name); ok {
		return []query.Location{loc}
	}
	return nil
}

// Hover describes the symbol at pos in uri.
func (w *Workspace) Hover(uri string, pos source.Position) (query.Hover, bool) {
	snap, path := w.snapshotFor(fileuri.Canonical(uri))
	return query.HoverAt(snap, path, pos)
}

// DocumentSymbols lists declarations in uri.
func (w *Workspace) DocumentSymbols(uri string) []query.DocumentSymbol {
	snap, path := w.snapshotFor(fileuri.Canonical(uri))
	return query.DocumentSymbols(snap, path)
}

// CodeLenses returns lenses for uri from the committed snapshot and schedules
// a refresh on the code-lens cadence.
func (w *Workspace) CodeLenses(uri string) []query.CodeLens {
	uri = fileuri.Canonical(uri)
	snap, path := w.snapshotFor(uri)
	if snap == nil {
		return nil
	}
	w.codelens.Trigger(uri)
	return query.CodeLenses(snap, path)
}

// Model returns the last good model of root.
func (w *Workspace) Model(root string) *model.Model {
	return w.reg.Model(fileuri.CanonicalPath(root))
}

// RootOf returns the root owning uri.
func (w *Workspace) RootOf(uri string) (string, bool) {
	return w.resolver.Resolve(fileuri.ToPath(uri))
}

// Diagnostics returns the diagnostics last published for uri.
func (w *Workspace) Diagnostics(uri string) []diag.Diagnostic {
	uri = fileuri.Canonical(uri)
	root, ok := w.RootOf(uri)
	if !ok {
		return nil
	}
	return w.reg.Diagnostics(root, uri)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// wordAt returns the identifier touching byte offset in text.
func wordAt(text string, offset int) string {
	if offset < 0 || offset > len(text) {
		return ""
	}
	start := offset
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !isWordRune(r) {
			break
		}
		start -= size
	}
	end := offset
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !isWordRune(r) {
			break
		}
		end += size
	}
	return text[start:end]
}

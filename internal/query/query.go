// Package query answers editor queries from a committed root snapshot.
// Every function is a pure read of the snapshot and returns an empty result
// when nothing matches.
package query

import (
	"strings"

	"bamlls/internal/fileuri"
	"bamlls/internal/model"
	"bamlls/internal/registry"
	"bamlls/internal/source"
)

// Location is a range inside a document.
type Location struct {
	URI   string       `json:"uri"`
	Range source.Range `json:"range"`
}

// Hover is the text shown for a symbol under the cursor.
type Hover struct {
	Markdown string
	Range    source.Range
}

// Definition returns where name is declared in the snapshot's model.
func Definition(snap *registry.Snapshot, name string) (Location, bool) {
	if snap == nil || snap.Model == nil {
		return Location{}, false
	}
	sym, ok := snap.Model.Lookup(name)
	if !ok {
		return Location{}, false
	}
	return locate(snap, sym.Name.Path, sym.Name.Span)
}

// DefinitionAt resolves the identifier at pos in path and returns its declaration.
func DefinitionAt(snap *registry.Snapshot, path string, pos source.Position) (Location, bool) {
	sym, _, ok := SymbolAt(snap, path, pos)
	if !ok {
		return Location{}, false
	}
	return locate(snap, sym.Name.Path, sym.Name.Span)
}

// HoverAt describes the innermost symbol at pos in path.
func HoverAt(snap *registry.Snapshot, path string, pos source.Position) (Hover, bool) {
	sym, span, ok := SymbolAt(snap, path, pos)
	if !ok {
		return Hover{}, false
	}
	var b strings.Builder
	b.WriteString("```baml\n")
	b.WriteString(sym.Detail)
	b.WriteString("\n```")
	if sym.Doc != "" {
		b.WriteString("\n\n")
		b.WriteString(sym.Doc)
	}
	return Hover{Markdown: b.String(), Range: snap.LineIndex(path).Range(span)}, true
}

// SymbolAt finds the innermost declaration or reference whose span contains
// pos. A declaration resolves to itself, so impls and tests sharing a name
// under different functions stay distinct; a reference resolves by name.
// The returned span is the one under the cursor.
func SymbolAt(snap *registry.Snapshot, path string, pos source.Position) (model.Symbol, source.Span, bool) {
	if snap == nil || snap.Model == nil {
		return model.Symbol{}, source.Span{}, false
	}
	li := snap.LineIndex(path)
	if li == nil {
		return model.Symbol{}, source.Span{}, false
	}
	offset := li.Offset(pos)

	var (
		best   model.Symbol
		bestS  source.Span
		target string
		isRef  bool
		found  bool
	)
	better := func(p string, s source.Span) bool {
		return p == path && s.Contains(offset) && (!found || s.Len() < bestS.Len())
	}
	for _, sym := range declarations(snap.Model) {
		if better(sym.Name.Path, sym.Name.Span) {
			best, bestS, isRef, found = sym, sym.Name.Span, false, true
		}
	}
	for _, ref := range snap.Model.Refs() {
		if better(ref.Path, ref.Span) {
			target, bestS, isRef, found = ref.Target, ref.Span, true, true
		}
	}
	if !found {
		return model.Symbol{}, source.Span{}, false
	}
	if isRef {
		sym, ok := snap.Model.Lookup(target)
		if !ok {
			return model.Symbol{}, source.Span{}, false
		}
		return sym, bestS, true
	}
	return best, bestS, true
}

func declarations(m *model.Model) []model.Symbol {
	var out []model.Symbol
	for _, fn := range m.Functions() {
		out = append(out, model.FunctionSymbol(fn))
		for _, impl := range fn.Impls {
			out = append(out, model.ImplSymbol(impl))
		}
		for _, tc := range fn.Tests {
			out = append(out, model.TestSymbol(tc))
		}
	}
	for _, t := range m.Types() {
		out = append(out, model.TypeSymbol(t))
	}
	return out
}

func locate(snap *registry.Snapshot, path string, span source.Span) (Location, bool) {
	li := snap.LineIndex(path)
	if li == nil {
		return Location{}, false
	}
	return Location{URI: fileuri.FromPath(path), Range: li.Range(span)}, true
}

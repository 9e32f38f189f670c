package query

import (
	"sort"

	"bamlls/internal/model"
	"bamlls/internal/registry"
	"bamlls/internal/source"
)

// DocumentSymbol is one outline entry.
type DocumentSymbol struct {
	Name           string
	Detail         string
	Kind           model.SymbolKind
	Range          source.Range
	SelectionRange source.Range
}

// DocumentSymbols lists every declaration in path ordered by position.
func DocumentSymbols(snap *registry.Snapshot, path string) []DocumentSymbol {
	if snap == nil || snap.Model == nil {
		return nil
	}
	li := snap.LineIndex(path)
	if li == nil {
		return nil
	}
	type entry struct {
		sym  model.Symbol
		span source.Span
	}
	var entries []entry
	for _, fn := range snap.Model.Functions() {
		if fn.Name.Path == path {
			entries = append(entries, entry{model.FunctionSymbol(fn), fn.Span})
		}
		for _, impl := range fn.Impls {
			if impl.Name.Path == path {
				entries = append(entries, entry{model.ImplSymbol(impl), impl.Span})
			}
		}
		for _, tc := range fn.Tests {
			if tc.Name.Path == path {
				entries = append(entries, entry{model.TestSymbol(tc), tc.Span})
			}
		}
	}
	for _, t := range snap.Model.Types() {
		if t.Name.Path == path {
			entries = append(entries, entry{model.TypeSymbol(t), t.Span})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].sym.Name.Span.Start < entries[j].sym.Name.Span.Start
	})

	out := make([]DocumentSymbol, 0, len(entries))
	for _, e := range entries {
		full := e.span.Cover(e.sym.Name.Span)
		out = append(out, DocumentSymbol{
			Name:           e.sym.Name.Value,
			Detail:         e.sym.Detail,
			Kind:           e.sym.Kind,
			Range:          li.Range(full),
			SelectionRange: li.Range(e.sym.Name.Span),
		})
	}
	return out
}

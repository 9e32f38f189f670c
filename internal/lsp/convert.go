package lsp

import (
	"bamlls/internal/diag"
	"bamlls/internal/model"
	"bamlls/internal/source"
)

const diagnosticSource = "baml"

// LSP SymbolKind values.
const (
	symbolKindClass    = 5
	symbolKindMethod   = 6
	symbolKindEnum     = 10
	symbolKindFunction = 12
	symbolKindEvent    = 24
)

func toPosition(p position) source.Position {
	return source.Position{Line: p.Line, Character: p.Character}
}

func fromPosition(p source.Position) position {
	return position{Line: p.Line, Character: p.Character}
}

func fromRange(r source.Range) lspRange {
	return lspRange{Start: fromPosition(r.Start), End: fromPosition(r.End)}
}

func toLSPDiagnostics(list []diag.Diagnostic) []lspDiagnostic {
	out := make([]lspDiagnostic, 0, len(list))
	for _, d := range list {
		out = append(out, lspDiagnostic{
			Range:    fromRange(d.Range),
			Severity: d.Severity.LSP(),
			Code:     d.Code,
			Source:   diagnosticSource,
			Message:  d.Message,
		})
	}
	return out
}

func symbolKind(k model.SymbolKind) int {
	switch k {
	case model.SymFunction:
		return symbolKindFunction
	case model.SymImpl:
		return symbolKindMethod
	case model.SymClass:
		return symbolKindClass
	case model.SymEnum:
		return symbolKindEnum
	default:
		return symbolKindEvent
	}
}

// messageType names a severity the way baml/message expects it.
func messageType(sev diag.Severity) string {
	switch sev {
	case diag.SevError:
		return "error"
	case diag.SevWarning:
		return "warn"
	default:
		return "info"
	}
}

package diag

import (
	"bamlls/internal/source"
)

// Diagnostic is one finding of a compile attempt, owned by the document at Path.
// Range is filled by the compiler adapter from the exact text that was compiled.
type Diagnostic struct {
	Severity Severity     `json:"severity" msgpack:"severity"`
	Code     string       `json:"code,omitempty" msgpack:"code,omitempty"`
	Message  string       `json:"message" msgpack:"message"`
	Path     string       `json:"path" msgpack:"path"`
	Span     source.Span  `json:"span" msgpack:"span"`
	Range    source.Range `json:"range" msgpack:"range"`
}

// Errorf builds an error diagnostic without a range.
func Errorf(path string, span source.Span, code, msg string) Diagnostic {
	return Diagnostic{Severity: SevError, Code: code, Message: msg, Path: path, Span: span}
}

// Warningf builds a warning diagnostic without a range.
func Warningf(path string, span source.Span, code, msg string) Diagnostic {
	return Diagnostic{Severity: SevWarning, Code: code, Message: msg, Path: path, Span: span}
}

// HasErrors reports whether any diagnostic has error severity.
func HasErrors(list []Diagnostic) bool {
	for i := range list {
		if list[i].Severity >= SevError {
			return true
		}
	}
	return false
}

// GroupByPath splits diagnostics per owning path, keeping order.
func GroupByPath(list []Diagnostic) map[string][]Diagnostic {
	out := make(map[string][]Diagnostic)
	for _, d := range list {
		out[d.Path] = append(out[d.Path], d)
	}
	return out
}

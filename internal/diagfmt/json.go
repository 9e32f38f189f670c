package diagfmt

import (
	"encoding/json"
	"io"

	"bamlls/internal/diag"
)

// LocationJSON is a diagnostic location. Lines and columns are 1-based.
type LocationJSON struct {
	File      string `json:"file"`
	StartByte uint32 `json:"start_byte"`
	EndByte   uint32 `json:"end_byte"`
	StartLine int    `json:"start_line,omitempty"`
	StartCol  int    `json:"start_col,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	EndCol    int    `json:"end_col,omitempty"`
}

// DiagnosticJSON is one diagnostic.
type DiagnosticJSON struct {
	Severity string       `json:"severity"`
	Code     string       `json:"code,omitempty"`
	Message  string       `json:"message"`
	Location LocationJSON `json:"location"`
}

// DiagnosticsOutput is the root of the JSON document.
type DiagnosticsOutput struct {
	Diagnostics []DiagnosticJSON `json:"diagnostics"`
	Count       int              `json:"count"`
	Dropped     int              `json:"dropped,omitempty"`
}

// BuildDiagnosticsOutput builds the JSON structure without serializing it.
func BuildDiagnosticsOutput(bag *diag.Bag, opts JSONOpts) DiagnosticsOutput {
	items := bag.Items()
	n := len(items)
	if opts.Max > 0 && opts.Max < n {
		n = opts.Max
	}
	out := make([]DiagnosticJSON, 0, n)
	for _, d := range items[:n] {
		loc := LocationJSON{
			File:      formatPath(d.Path, opts.PathMode, opts.BaseDir),
			StartByte: d.Span.Start,
			EndByte:   d.Span.End,
		}
		if opts.IncludePositions {
			loc.StartLine = d.Range.Start.Line + 1
			loc.StartCol = d.Range.Start.Character + 1
			loc.EndLine = d.Range.End.Line + 1
			loc.EndCol = d.Range.End.Character + 1
		}
		out = append(out, DiagnosticJSON{
			Severity: d.Severity.String(),
			Code:     d.Code,
			Message:  d.Message,
			Location: loc,
		})
	}
	return DiagnosticsOutput{
		Diagnostics: out,
		Count:       len(out),
		Dropped:     bag.Dropped() + len(items) - n,
	}
}

// JSON writes the diagnostics in bag as an indented JSON document.
func JSON(w io.Writer, bag *diag.Bag, opts JSONOpts) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(BuildDiagnosticsOutput(bag, opts))
}

package query

import (
	"bamlls/internal/registry"
	"bamlls/internal/source"
)

// Editor command and titles carried by code lenses.
const (
	OpenPanelCommand = "baml.openBamlPanel"
	PlaygroundTitle  = "▶️ Open Playground"
	PreviewTitle     = "▶️ Open Live Preview"
)

// LensPayload is the argument handed to the lens command.
type LensPayload struct {
	ProjectID    string `json:"projectId"`
	FunctionName string `json:"functionName"`
	ImplName     string `json:"implName,omitempty"`
	TestCaseName string `json:"testCaseName,omitempty"`
	ShowTests    bool   `json:"showTests"`
}

// CodeLens is an actionable annotation anchored at a range.
type CodeLens struct {
	Range   source.Range
	Title   string
	Command string
	Payload LensPayload
}

// CodeLenses emits, for declarations in path: one lens per function, two per
// impl (its name and its prompt key) and one per test case.
func CodeLenses(snap *registry.Snapshot, path string) []CodeLens {
	if snap == nil || snap.Model == nil {
		return nil
	}
	li := snap.LineIndex(path)
	if li == nil {
		return nil
	}
	lens := func(span source.Span, title string, p LensPayload) CodeLens {
		p.ProjectID = snap.Root
		return CodeLens{Range: li.Range(span), Title: title, Command: OpenPanelCommand, Payload: p}
	}

	var out []CodeLens
	fns := snap.Model.Functions()
	for _, fn := range fns {
		if fn.Name.Path == path {
			out = append(out, lens(fn.Name.Span, PlaygroundTitle, LensPayload{FunctionName: fn.Name.Value, ShowTests: true}))
		}
	}
	for _, fn := range fns {
		for _, impl := range fn.Impls {
			if impl.Name.Path != path {
				continue
			}
			p := LensPayload{FunctionName: fn.Name.Value, ImplName: impl.Name.Value}
			withTests := p
			withTests.ShowTests = true
			out = append(out, lens(impl.Name.Span, PlaygroundTitle, withTests))
			if impl.PromptKey.Value != "" {
				out = append(out, lens(impl.PromptKey.Span, PreviewTitle, p))
			}
		}
	}
	for _, fn := range fns {
		for _, tc := range fn.Tests {
			if tc.Name.Path == path {
				out = append(out, lens(tc.Name.Span, PlaygroundTitle, LensPayload{FunctionName: fn.Name.Value, TestCaseName: tc.Name.Value, ShowTests: true}))
			}
		}
	}
	return out
}

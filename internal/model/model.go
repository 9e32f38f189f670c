// Package model holds the compiled semantic database of one project root.
//
// A Model is built once from a successful compile and never mutated
// afterwards: replacing the whole value is the only update operation.
// Accessors hand out read-only views; callers must not modify returned slices.
package model

import (
	"encoding/json"
	"sort"

	"bamlls/internal/source"
)

// Name is an identifier together with the file and span that declared it.
type Name struct {
	Value string      `json:"value" msgpack:"value"`
	Path  string      `json:"source_file" msgpack:"source_file"`
	Span  source.Span `json:"span" msgpack:"span"`
}

// Shape describes a function input or output type expression.
type Shape struct {
	Type string      `json:"type" msgpack:"type"`
	Span source.Span `json:"span" msgpack:"span"`
}

// Impl is a named implementation of a function.
type Impl struct {
	Name      Name        `json:"name" msgpack:"name"`
	Function  string      `json:"function" msgpack:"function"`
	Kind      string      `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Client    string      `json:"client,omitempty" msgpack:"client,omitempty"`
	PromptKey Name        `json:"prompt_key" msgpack:"prompt_key"`
	Span      source.Span `json:"span" msgpack:"span"`
}

// TestCase is a named test of a function.
type TestCase struct {
	Name     Name        `json:"name" msgpack:"name"`
	Function string      `json:"function" msgpack:"function"`
	Span     source.Span `json:"span" msgpack:"span"`
}

// Function is a declared function with its implementations and tests.
type Function struct {
	Name   Name        `json:"name" msgpack:"name"`
	Input  Shape       `json:"input" msgpack:"input"`
	Output Shape       `json:"output" msgpack:"output"`
	Span   source.Span `json:"span" msgpack:"span"`
	Doc    string      `json:"doc,omitempty" msgpack:"doc,omitempty"`
	Impls  []Impl      `json:"impls" msgpack:"impls"`
	Tests  []TestCase  `json:"test_cases" msgpack:"test_cases"`
}

// TypeKind distinguishes declared data types.
type TypeKind string

const (
	KindClass TypeKind = "class"
	KindEnum  TypeKind = "enum"
)

// Type is a declared class or enum.
type Type struct {
	Name    Name        `json:"name" msgpack:"name"`
	Kind    TypeKind    `json:"kind" msgpack:"kind"`
	Span    source.Span `json:"span" msgpack:"span"`
	Doc     string      `json:"doc,omitempty" msgpack:"doc,omitempty"`
	Members []string    `json:"members,omitempty" msgpack:"members,omitempty"`
}

// Ref is a use of a declared name somewhere in the sources.
type Ref struct {
	Target string      `json:"target" msgpack:"target"`
	Path   string      `json:"path" msgpack:"path"`
	Span   source.Span `json:"span" msgpack:"span"`
}

// Data is the serializable content of a Model.
type Data struct {
	Root      string     `json:"root" msgpack:"root"`
	Functions []Function `json:"functions" msgpack:"functions"`
	Types     []Type     `json:"types" msgpack:"types"`
	Refs      []Ref      `json:"refs" msgpack:"refs"`
}

// Model is an immutable snapshot of one root's declarations.
type Model struct {
	data      Data
	functions map[string]int
	types     map[string]int
}

// New copies data, orders it deterministically and indexes it.
func New(data Data) *Model {
	d := Data{
		Root:      data.Root,
		Functions: make([]Function, len(data.Functions)),
		Types:     append([]Type(nil), data.Types...),
		Refs:      append([]Ref(nil), data.Refs...),
	}
	for i, fn := range data.Functions {
		fn.Impls = append([]Impl(nil), fn.Impls...)
		fn.Tests = append([]TestCase(nil), fn.Tests...)
		d.Functions[i] = fn
	}
	sort.SliceStable(d.Functions, func(i, j int) bool { return d.Functions[i].Name.Value < d.Functions[j].Name.Value })
	sort.SliceStable(d.Types, func(i, j int) bool { return d.Types[i].Name.Value < d.Types[j].Name.Value })
	sort.SliceStable(d.Refs, func(i, j int) bool {
		if d.Refs[i].Path != d.Refs[j].Path {
			return d.Refs[i].Path < d.Refs[j].Path
		}
		return d.Refs[i].Span.Start < d.Refs[j].Span.Start
	})
	m := &Model{
		data:      d,
		functions: make(map[string]int, len(d.Functions)),
		types:     make(map[string]int, len(d.Types)),
	}
	for i, fn := range d.Functions {
		if _, dup := m.functions[fn.Name.Value]; !dup {
			m.functions[fn.Name.Value] = i
		}
	}
	for i, t := range d.Types {
		if _, dup := m.types[t.Name.Value]; !dup {
			m.types[t.Name.Value] = i
		}
	}
	return m
}

// Root returns the project root the model was compiled for.
func (m *Model) Root() string {
	if m == nil {
		return ""
	}
	return m.data.Root
}

// Functions returns all functions ordered by name.
func (m *Model) Functions() []Function {
	if m == nil {
		return nil
	}
	return m.data.Functions
}

// Types returns all declared types ordered by name.
func (m *Model) Types() []Type {
	if m == nil {
		return nil
	}
	return m.data.Types
}

// Refs returns all recorded name uses ordered by path and offset.
func (m *Model) Refs() []Ref {
	if m == nil {
		return nil
	}
	return m.data.Refs
}

// Function looks a function up by name.
func (m *Model) Function(name string) (Function, bool) {
	if m == nil {
		return Function{}, false
	}
	idx, ok := m.functions[name]
	if !ok {
		return Function{}, false
	}
	return m.data.Functions[idx], true
}

// Type looks a class or enum up by name.
func (m *Model) Type(name string) (Type, bool) {
	if m == nil {
		return Type{}, false
	}
	idx, ok := m.types[name]
	if !ok {
		return Type{}, false
	}
	return m.data.Types[idx], true
}

// Data returns a deep copy of the model content.
func (m *Model) Data() Data {
	if m == nil {
		return Data{}
	}
	return New(m.data).data
}

// MarshalJSON encodes the model content.
func (m *Model) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return json.Marshal(m.data)
}

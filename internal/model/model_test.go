package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bamlls/internal/source"
)

func sampleData() Data {
	return Data{
		Root: "/p/baml_src",
		Functions: []Function{
			{
				Name:   Name{Value: "Zed", Path: "/p/baml_src/b.baml", Span: source.NewSpan(9, 12)},
				Input:  Shape{Type: "string"},
				Output: Shape{Type: "int"},
			},
			{
				Name:   Name{Value: "Foo", Path: "/p/baml_src/a.baml", Span: source.NewSpan(9, 12)},
				Input:  Shape{Type: "Resume"},
				Output: Shape{Type: "string"},
				Impls: []Impl{{
					Name:     Name{Value: "bar", Path: "/p/baml_src/a.baml", Span: source.NewSpan(60, 63)},
					Function: "Foo",
					Client:   "GPT4",
				}},
				Tests: []TestCase{{
					Name:     Name{Value: "case1", Path: "/p/baml_src/t.baml", Span: source.NewSpan(5, 10)},
					Function: "Foo",
				}},
			},
		},
		Types: []Type{{
			Name: Name{Value: "Resume", Path: "/p/baml_src/types.baml", Span: source.NewSpan(6, 12)},
			Kind: KindClass,
		}},
	}
}

func TestNewOrdersAndIndexes(t *testing.T) {
	m := New(sampleData())
	fns := m.Functions()
	require.Len(t, fns, 2)
	assert.Equal(t, "Foo", fns[0].Name.Value)
	assert.Equal(t, "Zed", fns[1].Name.Value)

	fn, ok := m.Function("Foo")
	require.True(t, ok)
	assert.Equal(t, "bar", fn.Impls[0].Name.Value)

	_, ok = m.Function("Missing")
	assert.False(t, ok)
}

func TestNewCopiesInput(t *testing.T) {
	data := sampleData()
	m := New(data)
	data.Functions[1].Impls[0].Name.Value = "mutated"
	fn, _ := m.Function("Foo")
	assert.Equal(t, "bar", fn.Impls[0].Name.Value)
}

func TestLookupOrder(t *testing.T) {
	m := New(sampleData())

	sym, ok := m.Lookup("Resume")
	require.True(t, ok)
	assert.Equal(t, SymClass, sym.Kind)

	sym, ok = m.Lookup("bar")
	require.True(t, ok)
	assert.Equal(t, SymImpl, sym.Kind)
	assert.Equal(t, "Foo", sym.Function)
	assert.Contains(t, sym.Detail, "using GPT4")

	sym, ok = m.Lookup("Foo")
	require.True(t, ok)
	assert.Equal(t, "function Foo(Resume) -> string", sym.Detail)

	_, ok = m.Lookup("nope")
	assert.False(t, ok)
}

func TestDeclarationsByPath(t *testing.T) {
	m := New(sampleData())
	decls := m.Declarations("/p/baml_src/a.baml")
	require.Len(t, decls, 2)
	assert.Equal(t, SymFunction, decls[0].Kind)
	assert.Equal(t, SymImpl, decls[1].Kind)
}

func TestNilModelIsEmpty(t *testing.T) {
	var m *Model
	assert.Empty(t, m.Functions())
	_, ok := m.Lookup("Foo")
	assert.False(t, ok)
	b, err := m.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

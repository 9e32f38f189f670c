package model

import (
	"fmt"
	"strings"
)

// SymbolKind classifies a declaration.
type SymbolKind uint8

const (
	SymFunction SymbolKind = iota + 1
	SymImpl
	SymTest
	SymClass
	SymEnum
)

func (k SymbolKind) String() string {
	switch k {
	case SymFunction:
		return "function"
	case SymImpl:
		return "impl"
	case SymTest:
		return "test"
	case SymClass:
		return "class"
	case SymEnum:
		return "enum"
	}
	return "unknown"
}

// Symbol is a resolved declaration.
type Symbol struct {
	Kind     SymbolKind
	Name     Name
	Function string // owning function for impls and tests
	Detail   string // one-line signature
	Doc      string
}

// Lookup resolves a name: functions first, then types, then impls and tests.
func (m *Model) Lookup(name string) (Symbol, bool) {
	if m == nil || name == "" {
		return Symbol{}, false
	}
	if fn, ok := m.Function(name); ok {
		return FunctionSymbol(fn), true
	}
	if t, ok := m.Type(name); ok {
		return TypeSymbol(t), true
	}
	for _, fn := range m.data.Functions {
		for _, impl := range fn.Impls {
			if impl.Name.Value == name {
				return ImplSymbol(impl), true
			}
		}
		for _, tc := range fn.Tests {
			if tc.Name.Value == name {
				return TestSymbol(tc), true
			}
		}
	}
	return Symbol{}, false
}

// Declarations lists every declaration whose name lives in path.
func (m *Model) Declarations(path string) []Symbol {
	if m == nil {
		return nil
	}
	var out []Symbol
	for _, fn := range m.data.Functions {
		if fn.Name.Path == path {
			out = append(out, FunctionSymbol(fn))
		}
		for _, impl := range fn.Impls {
			if impl.Name.Path == path {
				out = append(out, ImplSymbol(impl))
			}
		}
		for _, tc := range fn.Tests {
			if tc.Name.Path == path {
				out = append(out, TestSymbol(tc))
			}
		}
	}
	for _, t := range m.data.Types {
		if t.Name.Path == path {
			out = append(out, TypeSymbol(t))
		}
	}
	return out
}

// FunctionSymbol describes a function declaration.
func FunctionSymbol(fn Function) Symbol {
	return Symbol{
		Kind:   SymFunction,
		Name:   fn.Name,
		Detail: fmt.Sprintf("function %s(%s) -> %s", fn.Name.Value, fn.Input.Type, fn.Output.Type),
		Doc:    fn.Doc,
	}
}

// ImplSymbol describes an implementation declaration.
func ImplSymbol(impl Impl) Symbol {
	kind := impl.Kind
	if kind == "" {
		kind = "llm"
	}
	detail := fmt.Sprintf("impl<%s, %s> %s", kind, impl.Function, impl.Name.Value)
	if impl.Client != "" {
		detail += " using " + impl.Client
	}
	return Symbol{Kind: SymImpl, Name: impl.Name, Function: impl.Function, Detail: detail}
}

// TestSymbol describes a test declaration.
func TestSymbol(tc TestCase) Symbol {
	return Symbol{
		Kind:     SymTest,
		Name:     tc.Name,
		Function: tc.Function,
		Detail:   fmt.Sprintf("test %s for %s", tc.Name.Value, tc.Function),
	}
}

// TypeSymbol describes a class or enum declaration.
func TypeSymbol(t Type) Symbol {
	kind := SymClass
	if t.Kind == KindEnum {
		kind = SymEnum
	}
	detail := fmt.Sprintf("%s %s", t.Kind, t.Name.Value)
	if len(t.Members) > 0 {
		detail += " { " + strings.Join(t.Members, ", ") + " }"
	}
	return Symbol{Kind: kind, Name: t.Name, Detail: detail, Doc: t.Doc}
}

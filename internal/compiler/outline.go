package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"bamlls/internal/diag"
	"bamlls/internal/model"
	"bamlls/internal/source"
)

// Diagnostic codes produced by the outline compiler.
const (
	CodeSyntax        = "syntax"
	CodeDuplicate     = "duplicate"
	CodeUnknownFunc   = "unknown-function"
	CodeUnknownType   = "unknown-type"
	CodeMissingField  = "missing-field"
	CodeNoImpls       = "no-impls"
	CodeInvalidJSON   = "invalid-json"
	maxErrorsPerFile  = 50
	promptField       = "prompt"
	clientField       = "client"
	functionInputKey  = "input"
	functionOutputKey = "output"
)

var primitiveTypes = map[string]struct{}{
	"string": {}, "int": {}, "float": {}, "bool": {}, "null": {},
	"image": {}, "audio": {}, "map": {}, "char": {},
}

// Outline is the built-in compiler. It understands the declaration level of
// the language: functions, implementations, tests, classes and enums. Any
// error makes the compile fatal; warnings keep the model.
type Outline struct{}

type fileDecls struct {
	functions []model.Function
	impls     []model.Impl
	tests     []model.TestCase
	types     []model.Type
	refs      []model.Ref
	// funcRefs are impl and test headers naming their function; they are
	// reported as unknown-function rather than unknown-type.
	funcRefs []model.Ref
}

// Compile implements Compiler.
func (Outline) Compile(ctx context.Context, root string, files []File) (Output, error) {
	var (
		diags []diag.Diagnostic
		all   fileDecls
	)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		switch strings.ToLower(filepath.Ext(f.Path)) {
		case ".json":
			diags = append(diags, checkJSON(f)...)
		default:
			decls, ds := parseFile(f)
			diags = append(diags, ds...)
			all.functions = append(all.functions, decls.functions...)
			all.impls = append(all.impls, decls.impls...)
			all.tests = append(all.tests, decls.tests...)
			all.types = append(all.types, decls.types...)
			all.refs = append(all.refs, decls.refs...)
			all.funcRefs = append(all.funcRefs, decls.funcRefs...)
		}
	}
	if diag.HasErrors(diags) {
		return Output{Diagnostics: diags}, nil
	}
	data, ds := link(root, all)
	diags = append(diags, ds...)
	if diag.HasErrors(diags) {
		return Output{Diagnostics: diags}, nil
	}
	return Output{Diagnostics: diags, Model: model.New(data)}, nil
}

func link(root string, all fileDecls) (model.Data, []diag.Diagnostic) {
	var diags []diag.Diagnostic
	dupf := func(n model.Name, what string) {
		diags = append(diags, diag.Errorf(n.Path, n.Span, CodeDuplicate, fmt.Sprintf("%s %q is declared more than once", what, n.Value)))
	}

	functions := make(map[string]int, len(all.functions))
	types := make(map[string]struct{}, len(all.types))
	for i, fn := range all.functions {
		if _, ok := functions[fn.Name.Value]; ok {
			dupf(fn.Name, "function")
			continue
		}
		functions[fn.Name.Value] = i
	}
	for _, t := range all.types {
		if _, ok := types[t.Name.Value]; ok {
			dupf(t.Name, string(t.Kind))
			continue
		}
		if _, ok := functions[t.Name.Value]; ok {
			dupf(t.Name, string(t.Kind))
			continue
		}
		types[t.Name.Value] = struct{}{}
	}

	for _, impl := range all.impls {
		idx, ok := functions[impl.Function]
		if !ok {
			diags = append(diags, diag.Errorf(impl.Name.Path, impl.Name.Span, CodeUnknownFunc, fmt.Sprintf("impl %q refers to unknown function %q", impl.Name.Value, impl.Function)))
			continue
		}
		fn := &all.functions[idx]
		for _, prev := range fn.Impls {
			if prev.Name.Value == impl.Name.Value {
				dupf(impl.Name, "impl")
			}
		}
		fn.Impls = append(fn.Impls, impl)
	}
	for _, tc := range all.tests {
		idx, ok := functions[tc.Function]
		if !ok {
			diags = append(diags, diag.Errorf(tc.Name.Path, tc.Name.Span, CodeUnknownFunc, fmt.Sprintf("test %q refers to unknown function %q", tc.Name.Value, tc.Function)))
			continue
		}
		fn := &all.functions[idx]
		for _, prev := range fn.Tests {
			if prev.Name.Value == tc.Name.Value {
				dupf(tc.Name, "test")
			}
		}
		fn.Tests = append(fn.Tests, tc)
	}

	for _, ref := range all.refs {
		if _, ok := types[ref.Target]; ok {
			continue
		}
		if _, ok := functions[ref.Target]; ok {
			continue
		}
		if _, ok := primitiveTypes[ref.Target]; ok {
			continue
		}
		diags = append(diags, diag.Errorf(ref.Path, ref.Span, CodeUnknownType, fmt.Sprintf("unknown type %q", ref.Target)))
	}

	for _, ref := range all.funcRefs {
		if _, ok := functions[ref.Target]; ok {
			all.refs = append(all.refs, ref)
		}
	}

	data := model.Data{Root: root, Types: all.types, Refs: all.refs}
	for i, fn := range all.functions {
		if idx := functions[fn.Name.Value]; idx != i {
			continue
		}
		if len(fn.Impls) == 0 {
			diags = append(diags, diag.Warningf(fn.Name.Path, fn.Name.Span, CodeNoImpls, fmt.Sprintf("function %q has no implementations", fn.Name.Value)))
		}
		data.Functions = append(data.Functions, fn)
	}
	return data, diags
}

func checkJSON(f File) []diag.Diagnostic {
	if strings.TrimSpace(f.Text) == "" {
		return nil
	}
	var v any
	err := json.Unmarshal([]byte(f.Text), &v)
	if err == nil {
		return nil
	}
	span := source.NewSpan(0, len(f.Text))
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		off := int(syn.Offset)
		if off > 0 {
			off--
		}
		span = source.NewSpan(off, off+1)
	}
	return []diag.Diagnostic{diag.Errorf(f.Path, span, CodeInvalidJSON, "invalid JSON: "+err.Error())}
}

type parser struct {
	file  File
	toks  []token
	pos   int
	decls fileDecls
	diags []diag.Diagnostic
}

func parseFile(f File) (fileDecls, []diag.Diagnostic) {
	toks, errs := scan(f.Text)
	p := &parser{file: f, toks: toks}
	for _, e := range errs {
		p.diags = append(p.diags, diag.Errorf(f.Path, e.span, CodeSyntax, e.msg))
	}
	p.parse()
	return p.decls, p.diags
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(span source.Span, format string, args ...any) {
	p.diags = append(p.diags, diag.Errorf(p.file.Path, span, CodeSyntax, fmt.Sprintf(format, args...)))
}

func (p *parser) expect(kind tokKind, what string) (token, bool) {
	t := p.peek()
	if t.kind != kind {
		p.errorf(t.span, "expected %s, found %s", what, describe(t))
		return t, false
	}
	return p.next(), true
}

func describe(t token) string {
	if t.kind == tokIdent || t.kind == tokPunct {
		return fmt.Sprintf("%q", t.text)
	}
	return t.kind.String()
}

func (p *parser) name(t token) model.Name {
	return model.Name{Value: t.text, Path: p.file.Path, Span: t.span}
}

func (p *parser) ref(t token) {
	p.decls.refs = append(p.decls.refs, model.Ref{Target: t.text, Path: p.file.Path, Span: t.span})
}

func (p *parser) funcRef(t token) {
	p.decls.funcRefs = append(p.decls.funcRefs, model.Ref{Target: t.text, Path: p.file.Path, Span: t.span})
}

func (p *parser) parse() {
	for len(p.diags) < maxErrorsPerFile {
		t := p.peek()
		if t.kind == tokEOF {
			return
		}
		if t.kind != tokIdent {
			p.errorf(t.span, "unexpected %s at top level", describe(t))
			p.recover()
			continue
		}
		var ok bool
		switch t.text {
		case "function":
			ok = p.function()
		case "impl":
			ok = p.impl()
		case "test":
			ok = p.test()
		case "class":
			ok = p.typeDecl(model.KindClass)
		case "enum":
			ok = p.typeDecl(model.KindEnum)
		case "client", "generator", "retry_policy", "template_string", "printer":
			ok = p.opaque()
		default:
			p.errorf(t.span, "unexpected %s at top level", describe(t))
		}
		if !ok {
			p.recover()
		}
	}
}

// recover skips to the next token that starts a line at brace depth zero.
func (p *parser) recover() {
	start := p.next()
	depth := 0
	if start.kind == tokLBrace {
		depth++
	}
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			return
		case t.kind == tokLBrace:
			depth++
		case t.kind == tokRBrace:
			if depth > 0 {
				depth--
			}
			if depth == 0 {
				p.next()
				return
			}
		case depth == 0 && t.kind == tokIdent && t.line != start.line:
			return
		}
		p.next()
	}
}

// block consumes a balanced { ... } starting at the current token and
// returns the closing brace.
func (p *parser) block() (token, bool) {
	open, ok := p.expect(tokLBrace, "'{'")
	if !ok {
		return open, false
	}
	depth := 1
	for {
		t := p.next()
		switch t.kind {
		case tokEOF:
			p.errorf(open.span, "unclosed block")
			return t, false
		case tokLBrace:
			depth++
		case tokRBrace:
			depth--
			if depth == 0 {
				return t, true
			}
		}
	}
}

// restOfLine consumes the tokens on line, stopping at a closing brace.
func (p *parser) restOfLine(line int) []token {
	var out []token
	for {
		t := p.peek()
		if t.kind == tokEOF || t.kind == tokRBrace || t.line != line {
			return out
		}
		if t.kind == tokLBrace {
			end, _ := p.block()
			out = append(out, t, end)
			continue
		}
		out = append(out, p.next())
	}
}

func (p *parser) shape(key token, toks []token) model.Shape {
	if len(toks) == 0 {
		p.errorf(key.span, "%s is missing a type", key.text)
		return model.Shape{}
	}
	span := toks[0].span.Cover(toks[len(toks)-1].span)
	for _, t := range toks {
		if t.kind == tokIdent {
			p.ref(t)
		}
	}
	return model.Shape{Type: p.file.Text[span.Start:span.End], Span: span}
}

func (p *parser) function() bool {
	kw := p.next()
	nameTok, ok := p.expect(tokIdent, "function name")
	if !ok {
		return false
	}
	fn := model.Function{Name: p.name(nameTok), Doc: kw.doc}
	open, ok := p.expect(tokLBrace, "'{'")
	if !ok {
		return false
	}
	var haveInput, haveOutput bool
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			p.errorf(open.span, "unclosed block")
			return false
		case t.kind == tokRBrace:
			p.next()
			fn.Span = kw.span.Cover(t.span)
			if !haveInput {
				p.missing(fn.Name, functionInputKey)
			}
			if !haveOutput {
				p.missing(fn.Name, functionOutputKey)
			}
			p.decls.functions = append(p.decls.functions, fn)
			return true
		case t.kind == tokIdent && t.text == functionInputKey:
			p.next()
			fn.Input = p.shape(t, p.restOfLine(t.line))
			haveInput = true
		case t.kind == tokIdent && t.text == functionOutputKey:
			p.next()
			fn.Output = p.shape(t, p.restOfLine(t.line))
			haveOutput = true
		default:
			p.errorf(t.span, "unexpected %s in function %q", describe(t), fn.Name.Value)
			p.next()
			p.restOfLine(t.line)
		}
	}
}

func (p *parser) missing(n model.Name, field string) {
	p.diags = append(p.diags, diag.Errorf(n.Path, n.Span, CodeMissingField, fmt.Sprintf("%q is missing %s", n.Value, field)))
}

// impl<kind, Function> name { client X prompt #"..."# }
func (p *parser) impl() bool {
	kw := p.next()
	if _, ok := p.expect(tokLAngle, "'<'"); !ok {
		return false
	}
	kind, ok := p.expect(tokIdent, "impl kind")
	if !ok {
		return false
	}
	if _, ok := p.expect(tokComma, "','"); !ok {
		return false
	}
	fnTok, ok := p.expect(tokIdent, "function name")
	if !ok {
		return false
	}
	if _, ok := p.expect(tokRAngle, "'>'"); !ok {
		return false
	}
	nameTok, ok := p.expect(tokIdent, "impl name")
	if !ok {
		return false
	}
	p.funcRef(fnTok)
	impl := model.Impl{Name: p.name(nameTok), Function: fnTok.text, Kind: kind.text}
	open, ok := p.expect(tokLBrace, "'{'")
	if !ok {
		return false
	}
	havePrompt := false
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			p.errorf(open.span, "unclosed block")
			return false
		case t.kind == tokRBrace:
			p.next()
			impl.Span = kw.span.Cover(t.span)
			if impl.Client == "" {
				p.missing(impl.Name, clientField)
			}
			if !havePrompt {
				p.missing(impl.Name, promptField)
			}
			p.decls.impls = append(p.decls.impls, impl)
			return true
		case t.kind == tokIdent && t.text == clientField:
			p.next()
			if c, ok := p.expect(tokIdent, "client name"); ok {
				impl.Client = c.text
			}
			p.restOfLine(t.line)
		case t.kind == tokIdent && t.text == promptField:
			p.next()
			v := p.peek()
			if v.kind != tokRawString && v.kind != tokString {
				p.errorf(v.span, "expected prompt string, found %s", describe(v))
				return false
			}
			p.next()
			impl.PromptKey = p.name(t)
			havePrompt = true
		case t.kind == tokIdent:
			// override, __output__ and similar fields
			p.next()
			p.restOfLine(t.line)
		default:
			p.errorf(t.span, "unexpected %s in impl %q", describe(t), impl.Name.Value)
			return false
		}
	}
}

// test name for Function { ... }
func (p *parser) test() bool {
	kw := p.next()
	nameTok, ok := p.expect(tokIdent, "test name")
	if !ok {
		return false
	}
	forTok, ok := p.expect(tokIdent, "'for'")
	if !ok {
		return false
	}
	if forTok.text != "for" {
		p.errorf(forTok.span, "expected 'for', found %q", forTok.text)
		return false
	}
	fnTok, ok := p.expect(tokIdent, "function name")
	if !ok {
		return false
	}
	p.funcRef(fnTok)
	end, ok := p.block()
	if !ok {
		return false
	}
	p.decls.tests = append(p.decls.tests, model.TestCase{
		Name:     p.name(nameTok),
		Function: fnTok.text,
		Span:     kw.span.Cover(end.span),
	})
	return true
}

func (p *parser) typeDecl(kind model.TypeKind) bool {
	kw := p.next()
	nameTok, ok := p.expect(tokIdent, string(kind)+" name")
	if !ok {
		return false
	}
	t := model.Type{Name: p.name(nameTok), Kind: kind, Doc: kw.doc}
	open, ok := p.expect(tokLBrace, "'{'")
	if !ok {
		return false
	}
	for {
		tok := p.peek()
		switch {
		case tok.kind == tokEOF:
			p.errorf(open.span, "unclosed block")
			return false
		case tok.kind == tokRBrace:
			p.next()
			t.Span = kw.span.Cover(tok.span)
			p.decls.types = append(p.decls.types, t)
			return true
		case tok.kind == tokIdent:
			p.next()
			t.Members = append(t.Members, tok.text)
			rest := p.restOfLine(tok.line)
			if kind == model.KindClass {
				p.fieldRefs(rest)
			}
		default:
			// attributes such as @alias or @@dynamic
			p.next()
			p.restOfLine(tok.line)
		}
	}
}

// fieldRefs records type identifiers in a class field, stopping at the first
// attribute.
func (p *parser) fieldRefs(toks []token) {
	for i, t := range toks {
		if t.kind == tokPunct && t.text == "@" {
			return
		}
		if t.kind != tokIdent {
			continue
		}
		if i > 0 && toks[i-1].kind == tokPunct && toks[i-1].text == "@" {
			return
		}
		p.ref(t)
	}
}

// opaque skips a declaration whose body carries no symbols we index.
func (p *parser) opaque() bool {
	p.next()
	for {
		t := p.peek()
		switch t.kind {
		case tokEOF:
			p.errorf(t.span, "expected '{', found end of file")
			return false
		case tokLBrace:
			_, ok := p.block()
			return ok
		}
		p.next()
	}
}

package diagfmt

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"bamlls/internal/diag"
	"bamlls/internal/source"
)

// Pretty writes each diagnostic in bag as
//
//	<path>:<line>:<col>: <SEV> <CODE>: <message>
//
// followed by the source line with a ^~~~ underline when sources holds the
// file text. Items are printed in bag order; call bag.Sort first.
func Pretty(w io.Writer, bag *diag.Bag, sources map[string]string, opts PrettyOpts) {
	p := newPalette(opts.Color)
	lines := make(map[string]*source.LineIndex)
	for _, d := range bag.Items() {
		path := formatPath(d.Path, opts.PathMode, opts.BaseDir)
		start := d.Range.Start
		header := fmt.Sprintf("%s:%d:%d: ", path, start.Line+1, start.Character+1)
		sev := p.severity(d.Severity).Sprint(strings.ToUpper(d.Severity.String()))
		code := ""
		if d.Code != "" {
			code = " " + p.code.Sprint(d.Code)
		}
		fmt.Fprintf(w, "%s%s%s: %s\n", p.path.Sprint(header), sev, code, clipWidth(d.Message, opts.Width))

		text, ok := sources[d.Path]
		if !ok {
			continue
		}
		li := lines[d.Path]
		if li == nil {
			li = source.NewLineIndex(text)
			lines[d.Path] = li
		}
		writeSnippet(w, li, d, opts, p)
	}
	if dropped := bag.Dropped(); dropped > 0 {
		fmt.Fprintf(w, "... %d more diagnostics not shown\n", dropped)
	}
}

func writeSnippet(w io.Writer, li *source.LineIndex, d diag.Diagnostic, opts PrettyOpts, p palette) {
	line := d.Range.Start.Line
	if line >= li.LineCount() {
		return
	}
	first := max(line-opts.Context, 0)
	gutter := len(fmt.Sprint(line + 1))
	for n := first; n <= line; n++ {
		fmt.Fprintf(w, " %s | %s\n", p.gutter.Sprintf("%*d", gutter, n+1), clipWidth(lineText(li, n), opts.Width))
	}

	text := lineText(li, line)
	lineStart := li.Offset(source.Position{Line: line})
	from := int(li.Offset(d.Range.Start) - lineStart)
	to := len(text)
	if d.Range.End.Line == line {
		to = int(li.Offset(d.Range.End) - lineStart)
	}
	from = min(from, len(text))
	to = min(max(to, from), len(text))

	pad := padding(text[:from])
	width := max(runewidth.StringWidth(text[from:to]), 1)
	marker := "^" + strings.Repeat("~", width-1)
	fmt.Fprintf(w, " %s | %s%s\n", strings.Repeat(" ", gutter), pad, p.severity(d.Severity).Sprint(marker))
}

func lineText(li *source.LineIndex, line int) string {
	start := li.Offset(source.Position{Line: line})
	end := li.Len()
	if line+1 < li.LineCount() {
		end = li.Offset(source.Position{Line: line + 1})
	}
	return strings.TrimRight(li.Text()[start:end], "\r\n")
}

// padding reproduces the visual width of prefix, keeping tabs as tabs.
func padding(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		if r == '\t' {
			b.WriteByte('\t')
			continue
		}
		b.WriteString(strings.Repeat(" ", runewidth.RuneWidth(r)))
	}
	return b.String()
}

func clipWidth(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}

type palette struct {
	path, code, gutter *color.Color
	err, warning, info *color.Color
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		path:    mk(color.Bold),
		code:    mk(color.FgMagenta),
		gutter:  mk(color.FgBlue),
		err:     mk(color.FgRed, color.Bold),
		warning: mk(color.FgYellow, color.Bold),
		info:    mk(color.FgCyan),
	}
}

func (p palette) severity(s diag.Severity) *color.Color {
	switch s {
	case diag.SevError:
		return p.err
	case diag.SevWarning:
		return p.warning
	default:
		return p.info
	}
}

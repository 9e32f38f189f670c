package compiler

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"bamlls/internal/source"
)

type tokKind uint8

const (
	tokEOF tokKind = iota
	tokIdent
	tokLBrace
	tokRBrace
	tokLAngle
	tokRAngle
	tokComma
	tokRawString
	tokString
	tokPunct
)

func (k tokKind) String() string {
	switch k {
	case tokEOF:
		return "end of file"
	case tokIdent:
		return "identifier"
	case tokLBrace:
		return "'{'"
	case tokRBrace:
		return "'}'"
	case tokLAngle:
		return "'<'"
	case tokRAngle:
		return "'>'"
	case tokComma:
		return "','"
	case tokRawString:
		return "raw string"
	case tokString:
		return "string"
	}
	return "symbol"
}

type token struct {
	kind tokKind
	text string
	span source.Span
	line int
	// doc holds the /// comment lines directly above the token.
	doc string
}

type scanError struct {
	span source.Span
	msg  string
}

type scanner struct {
	src   string
	off   int
	line  int
	doc   []string
	toks  []token
	errs  []scanError
	blank bool
}

func scan(src string) ([]token, []scanError) {
	s := &scanner{src: src}
	s.run()
	return s.toks, s.errs
}

func (s *scanner) emit(kind tokKind, start, line int) {
	t := token{kind: kind, text: s.src[start:s.off], span: source.NewSpan(start, s.off), line: line}
	if len(s.doc) > 0 {
		t.doc = strings.Join(s.doc, "\n")
		s.doc = nil
	}
	s.toks = append(s.toks, t)
}

func (s *scanner) errorf(start int, msg string) {
	s.errs = append(s.errs, scanError{span: source.NewSpan(start, s.off), msg: msg})
}

func (s *scanner) run() {
	for s.off < len(s.src) {
		c := s.src[s.off]
		start, line := s.off, s.line
		switch {
		case c == '\n':
			s.off++
			s.line++
			if s.blank {
				s.doc = nil
			}
			s.blank = true
			continue
		case c == ' ' || c == '\t' || c == '\r':
			s.off++
			continue
		case c == '/' && strings.HasPrefix(s.src[s.off:], "//"):
			end := strings.IndexByte(s.src[s.off:], '\n')
			if end < 0 {
				end = len(s.src) - s.off
			}
			text := s.src[s.off : s.off+end]
			if strings.HasPrefix(text, "///") {
				s.doc = append(s.doc, strings.TrimSpace(strings.TrimPrefix(text, "///")))
			}
			s.off += end
			s.blank = false
			continue
		}
		s.blank = false
		switch {
		case c == '#':
			s.rawString()
			continue
		case c == '"':
			s.quoted()
			continue
		case c == '{':
			s.off++
			s.emit(tokLBrace, start, line)
		case c == '}':
			s.off++
			s.emit(tokRBrace, start, line)
		case c == '<':
			s.off++
			s.emit(tokLAngle, start, line)
		case c == '>':
			s.off++
			s.emit(tokRAngle, start, line)
		case c == ',':
			s.off++
			s.emit(tokComma, start, line)
		case isIdentStart(s.src[s.off:]):
			for s.off < len(s.src) {
				r, size := utf8.DecodeRuneInString(s.src[s.off:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				s.off += size
			}
			s.emit(tokIdent, start, line)
		default:
			_, size := utf8.DecodeRuneInString(s.src[s.off:])
			s.off += size
			s.emit(tokPunct, start, line)
		}
	}
	s.toks = append(s.toks, token{kind: tokEOF, span: source.NewSpan(len(s.src), len(s.src)), line: s.line})
}

func isIdentStart(rest string) bool {
	r, _ := utf8.DecodeRuneInString(rest)
	return r == '_' || unicode.IsLetter(r)
}

// rawString scans #"..."# with any number of hashes.
func (s *scanner) rawString() {
	start, line := s.off, s.line
	hashes := 0
	for s.off < len(s.src) && s.src[s.off] == '#' {
		hashes++
		s.off++
	}
	if s.off >= len(s.src) || s.src[s.off] != '"' {
		s.emit(tokPunct, start, line)
		return
	}
	s.off++
	closing := "\"" + strings.Repeat("#", hashes)
	end := strings.Index(s.src[s.off:], closing)
	if end < 0 {
		s.line += strings.Count(s.src[s.off:], "\n")
		s.off = len(s.src)
		s.errorf(start, "unterminated raw string")
		return
	}
	s.line += strings.Count(s.src[s.off:s.off+end], "\n")
	s.off += end + len(closing)
	s.emit(tokRawString, start, line)
}

func (s *scanner) quoted() {
	start, line := s.off, s.line
	s.off++
	for s.off < len(s.src) {
		switch s.src[s.off] {
		case '\\':
			s.off += 2
			continue
		case '"':
			s.off++
			s.emit(tokString, start, line)
			return
		case '\n':
			s.errorf(start, "unterminated string")
			return
		}
		s.off++
	}
	if s.off > len(s.src) {
		s.off = len(s.src)
	}
	s.errorf(start, "unterminated string")
}

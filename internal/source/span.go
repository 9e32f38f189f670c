package source

import "fmt"

// Span is a half-open byte range [Start, End) inside one document's text.
type Span struct {
	Start uint32 `json:"start" msgpack:"start"` // в байтах включительно
	End   uint32 `json:"end" msgpack:"end"`     // в байтах не включительно
}

// NewSpan builds a span from int offsets, clamping negatives to zero.
func NewSpan(start, end int) Span {
	s := Span{Start: ToUint32(start), End: ToUint32(end)}
	if s.End < s.Start {
		s.End = s.Start
	}
	return s
}

func (s Span) Empty() bool {
	return s.Start == s.End
}

func (s Span) Len() uint32 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// Contains reports whether offset falls inside the span. The end offset is
// accepted too so that a cursor placed right after an identifier still hits it.
func (s Span) Contains(offset uint32) bool {
	return s.Start <= offset && offset <= s.End
}

func (s Span) String() string {
	return fmt.Sprintf("%d-%d", s.Start, s.End)
}

func (s Span) Cover(other Span) Span {
	if other.Start < s.Start {
		s.Start = other.Start
	}
	if other.End > s.End {
		s.End = other.End
	}
	return s
}

// Clamp limits the span to [0, n].
func (s Span) Clamp(n uint32) Span {
	if s.Start > n {
		s.Start = n
	}
	if s.End > n {
		s.End = n
	}
	if s.End < s.Start {
		s.End = s.Start
	}
	return s
}

// Position is a zero-based line and UTF-16 code unit column.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a pair of positions, end exclusive.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

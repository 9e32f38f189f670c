package source

import (
	"sort"
	"unicode/utf8"

	"fortio.org/safecast"
)

const maxUint32 = ^uint32(0)

// ToUint32 converts an int offset, clamping to the uint32 range.
func ToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		return maxUint32
	}
	return v
}

// LineIndex maps byte offsets of one text snapshot to editor positions and
// back. It never outlives the text it was built from.
type LineIndex struct {
	text    string
	lineIdx []uint32 // offsets of '\n'
}

// NewLineIndex scans text once and records every line break.
func NewLineIndex(text string) *LineIndex {
	idx := make([]uint32, 0, 64)
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			idx = append(idx, ToUint32(i))
		}
	}
	return &LineIndex{text: text, lineIdx: idx}
}

// Text returns the snapshot text the index was built from.
func (li *LineIndex) Text() string {
	if li == nil {
		return ""
	}
	return li.text
}

// Len returns the text length in bytes.
func (li *LineIndex) Len() uint32 {
	if li == nil {
		return 0
	}
	return ToUint32(len(li.text))
}

// LineCount returns the number of lines, counting a trailing empty line.
func (li *LineIndex) LineCount() int {
	if li == nil {
		return 0
	}
	return len(li.lineIdx) + 1
}

// Position converts a byte offset to a line/UTF-16 column pair. Offsets
// past the end clamp to the end of text; offsets inside a multi-byte rune
// resolve to the rune start.
func (li *LineIndex) Position(offset uint32) Position {
	if li == nil {
		return Position{}
	}
	contentLen := li.Len()
	if offset > contentLen {
		offset = contentLen
	}
	offset = li.runeStart(offset)
	idx := sort.Search(len(li.lineIdx), func(i int) bool { return li.lineIdx[i] >= offset })
	var lineStart uint32
	if idx > 0 {
		lineStart = li.lineIdx[idx-1] + 1
	}
	if lineStart > offset {
		lineStart = offset
	}
	units := 0
	for off := lineStart; off < offset; {
		r, size := utf8.DecodeRuneInString(li.text[off:offset])
		if r == utf8.RuneError && size <= 1 {
			size = 1
		}
		if off+ToUint32(size) > offset {
			break
		}
		if r > 0xFFFF {
			units += 2
		} else {
			units++
		}
		off += ToUint32(size)
	}
	return Position{Line: idx, Character: units}
}

// runeStart moves offset back to the start of the rune containing it.
// Invalid bytes count as one-byte runes.
func (li *LineIndex) runeStart(offset uint32) uint32 {
	for back := uint32(1); back < utf8.UTFMax && back <= offset; back++ {
		start := offset - back
		if !utf8.RuneStart(li.text[start]) {
			continue
		}
		if _, size := utf8.DecodeRuneInString(li.text[start:]); ToUint32(size) > back {
			return start
		}
		break
	}
	return offset
}

// Offset converts a line/UTF-16 column pair back to a byte offset. Lines past
// the end map to the end of text, columns past the line end map to the line end.
func (li *LineIndex) Offset(pos Position) uint32 {
	if li == nil || pos.Line < 0 || pos.Character < 0 {
		return 0
	}
	contentLen := li.Len()
	if pos.Line >= li.LineCount() {
		return contentLen
	}
	var lineStart uint32
	if pos.Line > 0 {
		lineStart = li.lineIdx[pos.Line-1] + 1
	}
	lineEnd := contentLen
	if pos.Line < len(li.lineIdx) {
		lineEnd = li.lineIdx[pos.Line]
	}
	units := 0
	off := lineStart
	for off < lineEnd && units < pos.Character {
		r, size := utf8.DecodeRuneInString(li.text[off:lineEnd])
		if r == utf8.RuneError && size <= 1 {
			size = 1
		}
		need := 1
		if r > 0xFFFF {
			need = 2
		}
		if units+need > pos.Character {
			break
		}
		units += need
		off += ToUint32(size)
	}
	return off
}

// Range converts a span to an editor range.
func (li *LineIndex) Range(span Span) Range {
	return Range{
		Start: li.Position(span.Start),
		End:   li.Position(span.End),
	}
}

// OffsetToPosition is the stateless form of LineIndex.Position.
func OffsetToPosition(text string, offset int) Position {
	return NewLineIndex(text).Position(ToUint32(offset))
}

// PositionToOffset is the stateless form of LineIndex.Offset.
func PositionToOffset(text string, line, column int) int {
	return int(NewLineIndex(text).Offset(Position{Line: line, Character: column}))
}

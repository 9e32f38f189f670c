package diag

import (
	"fmt"
	"sort"
)

// Bag accumulates diagnostics with a per-path limit.
type Bag struct {
	items   []Diagnostic
	max     int
	perPath map[string]int
	dropped int
}

// NewBag returns a bag keeping at most max diagnostics per path; max <= 0 means unlimited.
func NewBag(max int) *Bag {
	return &Bag{
		items:   make([]Diagnostic, 0, 8),
		max:     max,
		perPath: make(map[string]int),
	}
}

// Add records d unless its path already reached the limit.
func (b *Bag) Add(d Diagnostic) bool {
	if b.max > 0 && b.perPath[d.Path] >= b.max {
		b.dropped++
		return false
	}
	b.perPath[d.Path]++
	b.items = append(b.items, d)
	return true
}

func (b *Bag) Len() int {
	return len(b.items)
}

// Dropped returns how many diagnostics were refused by the limit.
func (b *Bag) Dropped() int {
	return b.dropped
}

// Items returns the collected diagnostics. Callers must not modify them.
func (b *Bag) Items() []Diagnostic {
	return b.items
}

// Sort orders by path, start, end, severity (desc), message
// for a deterministic publication order.
func (b *Bag) Sort() {
	sort.SliceStable(b.items, func(i, j int) bool {
		di, dj := b.items[i], b.items[j]
		if di.Path != dj.Path {
			return di.Path < dj.Path
		}
		if di.Span.Start != dj.Span.Start {
			return di.Span.Start < dj.Span.Start
		}
		if di.Span.End != dj.Span.End {
			return di.Span.End < dj.Span.End
		}
		if di.Severity != dj.Severity {
			return di.Severity > dj.Severity
		}
		return di.Message < dj.Message
	})
}

// Dedup drops repeats of the same path, span and message.
func (b *Bag) Dedup() {
	seen := make(map[string]bool, len(b.items))
	newitems := make([]Diagnostic, 0, len(b.items))
	for _, d := range b.items {
		key := fmt.Sprintf("%s:%s:%s", d.Path, d.Span.String(), d.Message)
		if seen[key] {
			continue
		}
		seen[key] = true
		newitems = append(newitems, d)
	}
	b.items = newitems
}

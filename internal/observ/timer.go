// Package observ records wall-clock timings of named phases.
package observ

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Phase is one timed step. Phases may overlap.
type Phase struct {
	Name  string
	Start time.Time
	Dur   time.Duration
	Note  string
	done  bool
}

// Timer collects phases. It is safe for concurrent use.
type Timer struct {
	mu     sync.Mutex
	now    func() time.Time
	phases []Phase
}

// NewTimer creates an empty Timer.
func NewTimer() *Timer {
	return &Timer{now: time.Now, phases: make([]Phase, 0, 8)}
}

// Begin starts a phase and returns its index.
func (t *Timer) Begin(name string) int {
	if t == nil {
		return -1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases = append(t.phases, Phase{Name: name, Start: t.now()})
	return len(t.phases) - 1
}

// End finishes the phase at idx. Ending a phase twice keeps the first end.
func (t *Timer) End(idx int, note string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.phases) || t.phases[idx].done {
		return
	}
	p := &t.phases[idx]
	p.Dur = t.now().Sub(p.Start)
	p.Note = note
	p.done = true
}

// Track starts a phase and returns the function that ends it.
func (t *Timer) Track(name string) func(note string) {
	idx := t.Begin(name)
	return func(note string) { t.End(idx, note) }
}

// PhaseReport is the serializable form of a finished phase.
type PhaseReport struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	Note       string  `json:"note,omitempty"`
}

// Report lists finished phases in start order. TotalMS is the wall time
// from the first start to the last end, so overlapping phases are not
// double counted.
type Report struct {
	TotalMS float64       `json:"total_ms"`
	Phases  []PhaseReport `json:"phases"`
}

// Report snapshots the finished phases.
func (t *Timer) Report() Report {
	if t == nil {
		return Report{}
	}
	t.mu.Lock()
	phases := make([]Phase, 0, len(t.phases))
	for _, p := range t.phases {
		if p.done {
			phases = append(phases, p)
		}
	}
	t.mu.Unlock()
	if len(phases) == 0 {
		return Report{}
	}
	sort.SliceStable(phases, func(i, j int) bool { return phases[i].Start.Before(phases[j].Start) })

	report := Report{Phases: make([]PhaseReport, len(phases))}
	first, last := phases[0].Start, phases[0].Start
	for i, p := range phases {
		if end := p.Start.Add(p.Dur); end.After(last) {
			last = end
		}
		report.Phases[i] = PhaseReport{Name: p.Name, DurationMS: durationToMillis(p.Dur), Note: p.Note}
	}
	report.TotalMS = durationToMillis(last.Sub(first))
	return report
}

// Summary renders the report as an aligned table.
func (t *Timer) Summary() string {
	report := t.Report()
	width := len("total")
	for _, p := range report.Phases {
		width = max(width, len(p.Name))
	}
	var b strings.Builder
	b.WriteString("timings:\n")
	for _, p := range report.Phases {
		fmt.Fprintf(&b, "  %-*s %9.2f ms", width, p.Name, p.DurationMS)
		if p.Note != "" {
			b.WriteString("  // " + p.Note)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "  %-*s %9.2f ms\n", width, "total", report.TotalMS)
	return b.String()
}

func durationToMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

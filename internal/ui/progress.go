// Package ui renders interactive terminal progress for batch checks.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Status is the lifecycle of one root during a check.
type Status uint8

const (
	StatusQueued Status = iota
	StatusCompiling
	StatusOK
	StatusWarnings
	StatusFailed
	StatusEmpty
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusCompiling:
		return "compiling"
	case StatusOK:
		return "ok"
	case StatusWarnings:
		return "warnings"
	case StatusFailed:
		return "failed"
	case StatusEmpty:
		return "empty"
	}
	return ""
}

func (s Status) finished() bool {
	return s >= StatusOK
}

// Event reports a status change for a root. Files is set once known.
type Event struct {
	Root   string
	Status Status
	Files  int
}

type progressModel struct {
	title   string
	events  <-chan Event
	spinner spinner.Model
	prog    progress.Model
	items   []rootItem
	index   map[string]int
	width   int
	done    bool
}

type rootItem struct {
	root   string
	status Status
	files  int
}

type eventMsg Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders per-root progress
// until events is closed.
func NewProgressModel(title string, roots []string, events <-chan Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	items := make([]rootItem, 0, len(roots))
	index := make(map[string]int, len(roots))
	for i, root := range roots {
		items = append(items, rootItem{root: root})
		index[root] = i
	}
	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		items:   items,
		index:   index,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		next, cmd := m.prog.Update(msg)
		m.prog = next.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := fmt.Sprintf("%s %s", m.spinner.View(), m.title)
	if m.done {
		header = fmt.Sprintf("done: %s", m.title)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	statusWidth := 10
	nameWidth := m.width - statusWidth - 14
	if nameWidth < 20 {
		nameWidth = 20
	}
	for _, item := range m.items {
		status := styleStatus(item.status).Render(fmt.Sprintf("%10s", item.status))
		files := ""
		if item.files > 0 {
			files = fmt.Sprintf(" (%d files)", item.files)
		}
		fmt.Fprintf(&b, "  %s %s%s\n", status, truncate(item.root, nameWidth), files)
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev Event) tea.Cmd {
	idx, ok := m.index[ev.Root]
	if !ok {
		return nil
	}
	m.items[idx].status = ev.Status
	if ev.Files > 0 {
		m.items[idx].files = ev.Files
	}
	return m.prog.SetPercent(m.fraction())
}

// fraction counts a compiling root as half done.
func (m *progressModel) fraction() float64 {
	if len(m.items) == 0 {
		return 0
	}
	total := 0.0
	for _, item := range m.items {
		switch {
		case item.status.finished():
			total += 1.0
		case item.status == StatusCompiling:
			total += 0.5
		}
	}
	return total / float64(len(m.items))
}

func styleStatus(status Status) lipgloss.Style {
	switch status {
	case StatusOK:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case StatusFailed:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case StatusWarnings, StatusEmpty:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	case StatusCompiling:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}

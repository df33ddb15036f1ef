// Package ui renders pipeline progress in the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"pea/internal/pipeline"
)

// chrome is the number of lines the view uses besides function rows.
const chrome = 6

type row struct {
	name        string
	status      pipeline.Status
	cached      bool
	virtualized int
	elapsed     time.Duration
	err         string
}

func (r row) label() string {
	switch {
	case r.status == pipeline.StatusWorking:
		return "optimizing"
	case r.status == pipeline.StatusDone && r.cached:
		return "cached"
	}
	return r.status.String()
}

type palette struct {
	title  lipgloss.Style
	dim    lipgloss.Style
	status [4]lipgloss.Style
}

func newPalette() palette {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return palette{
		title: lipgloss.NewStyle().Bold(true),
		dim:   fg("8"),
		status: [4]lipgloss.Style{
			pipeline.StatusQueued:  fg("7"),
			pipeline.StatusWorking: fg("6"),
			pipeline.StatusDone:    fg("2"),
			pipeline.StatusFailed:  fg("1"),
		},
	}
}

type model struct {
	title  string
	events <-chan pipeline.Event
	rows   []row
	byName map[string]int
	spin   spinner.Model
	bar    progress.Model
	colors palette
	width  int
	height int
	closed bool
}

type (
	eventMsg  pipeline.Event
	closedMsg struct{}
)

// NewProgressModel returns a Bubble Tea model with one row per function. It quits once
// events is closed.
func NewProgressModel(title string, funcs []string, events <-chan pipeline.Event) tea.Model {
	m := &model{
		title:  title,
		events: events,
		rows:   make([]row, len(funcs)),
		byName: make(map[string]int, len(funcs)),
		spin:   spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(60)),
		colors: newPalette(),
		width:  80,
	}
	m.spin.Style = m.colors.status[pipeline.StatusWorking]
	for i, name := range funcs {
		m.rows[i] = row{name: name}
		m.byName[name] = i
	}
	return m
}

func (m *model) Init() tea.Cmd { return tea.Batch(m.spin.Tick, m.next()) }

// next waits for the following pipeline event.
func (m *model) next() tea.Cmd {
	return func() tea.Msg {
		if ev, ok := <-m.events; ok {
			return eventMsg(ev)
		}
		return closedMsg{}
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		return m, tea.Batch(m.apply(pipeline.Event(msg)), m.next())
	case closedMsg:
		m.closed = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
	case spinner.TickMsg:
		if !m.closed {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			return m, cmd
		}
	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *model) resize(w, h int) {
	if w > 0 {
		m.width = w
		m.bar.Width = max(w-4, 10)
	}
	m.height = h
}

func (m *model) apply(ev pipeline.Event) tea.Cmd {
	i, ok := m.byName[ev.Func]
	if !ok {
		return nil
	}
	r := &m.rows[i]
	r.status = ev.Status
	if ev.Status.Finished() {
		r.cached, r.virtualized, r.elapsed = ev.Cached, ev.Virtualized, ev.Elapsed
		if ev.Err != nil {
			r.err = ev.Err.Error()
		}
	}
	return m.bar.SetPercent(m.fraction())
}

func (m *model) fraction() float64 {
	if len(m.rows) == 0 {
		return 1
	}
	var done float64
	for _, r := range m.rows {
		switch {
		case r.status.Finished():
			done++
		case r.status == pipeline.StatusWorking:
			done += 0.5
		}
	}
	return done / float64(len(m.rows))
}

func (m *model) count(pred func(row) bool) int {
	n := 0
	for _, r := range m.rows {
		if pred(r) {
			n++
		}
	}
	return n
}

func (m *model) header() string {
	finished := m.count(func(r row) bool { return r.status.Finished() })
	h := fmt.Sprintf("%s %d/%d", m.title, finished, len(m.rows))
	if n := m.count(func(r row) bool { return r.cached }); n > 0 {
		h += fmt.Sprintf(" · %d cached", n)
	}
	if n := m.count(func(r row) bool { return r.status == pipeline.StatusFailed }); n > 0 {
		h += fmt.Sprintf(" · %d failed", n)
	}
	if m.closed {
		return "done: " + h
	}
	return m.spin.View() + " " + h
}

// visible picks the rows that fit the terminal. Running and failed functions come
// first, then the rest in module order.
func (m *model) visible() (shown []row, hidden int) {
	limit := len(m.rows)
	if m.height > chrome {
		limit = min(limit, m.height-chrome)
	}
	if limit == len(m.rows) {
		return m.rows, 0
	}
	urgent := func(r row) bool { return r.status == pipeline.StatusWorking || r.status == pipeline.StatusFailed }
	for _, pass := range []bool{true, false} {
		for _, r := range m.rows {
			if len(shown) < limit && urgent(r) == pass {
				shown = append(shown, r)
			}
		}
	}
	return shown, len(m.rows) - len(shown)
}

func (m *model) View() string {
	if len(m.rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.colors.title.Render(m.header()))
	b.WriteString("\n\n")

	nameWidth := max(m.width-30, 16)
	shown, hidden := m.visible()
	for _, r := range shown {
		fmt.Fprintf(&b, "  %s %s", m.colors.status[r.status].Render(fmt.Sprintf("%10s", r.label())), truncate(r.name, nameWidth))
		if r.status.Finished() && r.err == "" {
			stats := fmt.Sprintf("  %.1f ms", float64(r.elapsed.Microseconds())/1000)
			if r.virtualized > 0 {
				stats += fmt.Sprintf(", %d removed", r.virtualized)
			}
			b.WriteString(m.colors.dim.Render(stats))
		}
		if r.err != "" {
			b.WriteString("\n             " + m.colors.status[pipeline.StatusFailed].Render(truncate(r.err, m.width-13)))
		}
		b.WriteByte('\n')
	}
	if hidden > 0 {
		b.WriteString(m.colors.dim.Render(fmt.Sprintf("  … %d more", hidden)))
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	if m.closed {
		b.WriteString(m.bar.ViewAs(1))
	} else {
		b.WriteString(m.bar.View())
	}
	b.WriteByte('\n')
	return b.String()
}

// truncate shortens value to width display cells, marking the cut with an ellipsis when
// there is room for one.
func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}

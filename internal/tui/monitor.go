// internal/tui/monitor.go
//
// Live progress board for interactive batch runs. The pool emits events on a
// channel; this model renders running tasks, a completion bar, and the
// outcome tally. Quitting the board only stops the display - the batch keeps
// running to completion.

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kingrea/unwarp/internal/ledger"
	"github.com/kingrea/unwarp/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	taskStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E"))
	skipStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EAB308"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

type eventMsg pipeline.Event

type doneMsg struct{}

// Model is the bubbletea model for the progress board.
type Model struct {
	total   int
	events  <-chan pipeline.Event
	spin    spinner.Model
	bar     progress.Model
	running []string
	tally   ledger.Tally
}

// New builds a board expecting total task completions from events.
func New(total int, events <-chan pipeline.Event) Model {
	spin := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(titleStyle))
	return Model{
		total:  total,
		events: events,
		spin:   spin,
		bar:    progress.New(progress.WithDefaultGradient()),
	}
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitForEvent())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case eventMsg:
		ev := pipeline.Event(msg)
		switch ev.Type {
		case pipeline.EventStarted:
			m.running = append(m.running, ev.Task.String())
		case pipeline.EventFinished:
			m.running = removeFirst(m.running, ev.Task.String())
			if ev.Result != nil {
				m.tally.Add(ev.Result.Outcome)
			}
		}
		return m, m.waitForEvent()
	case doneMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("unwarp") + dimStyle.Render(fmt.Sprintf("  %d tasks", m.total)) + "\n\n")
	if len(m.running) == 0 && m.tally.Total() < m.total {
		b.WriteString(m.spin.View() + taskStyle.Render("waiting for workers...") + "\n")
	}
	for _, task := range m.running {
		b.WriteString(m.spin.View() + taskStyle.Render(task) + "\n")
	}
	var frac float64
	if m.total > 0 {
		frac = float64(m.tally.Total()) / float64(m.total)
	}
	b.WriteString("\n" + m.bar.ViewAs(frac) + "\n\n")
	b.WriteString(RenderTally(m.tally) + "\n")
	b.WriteString(dimStyle.Render("q to close the board (the batch keeps running)") + "\n")
	return b.String()
}

func removeFirst(items []string, item string) []string {
	for i, v := range items {
		if v == item {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}

// Show runs the board until the event channel closes or the user quits.
func Show(total int, events <-chan pipeline.Event) error {
	_, err := tea.NewProgram(New(total, events)).Run()
	return err
}

// RenderTally formats the final outcome counts with one color per outcome.
func RenderTally(t ledger.Tally) string {
	return fmt.Sprintf("%s  %s  %s",
		okStyle.Render(fmt.Sprintf("%d ok", t.OK)),
		skipStyle.Render(fmt.Sprintf("%d skipped", t.Skipped)),
		failStyle.Render(fmt.Sprintf("%d failed", t.Failed)),
	)
}

// PlanLine formats one dry-run line for a task and its resolution status.
func PlanLine(label string, complete bool, missing string) string {
	status := okStyle.Render("ready")
	if !complete {
		status = skipStyle.Render("skip: " + missing)
	}
	return fmt.Sprintf("%s  %s", taskStyle.Render(fmt.Sprintf("%-36s", label)), status)
}

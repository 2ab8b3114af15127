// Package tui provides the Bubbletea-based live task monitor behind
// "agentcheck watch".
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/task"
)

// pollInterval is how often the watcher re-reads the repository.
const pollInterval = 2 * time.Second

// maxVisibleEvents bounds the event tail shown under the task row.
const maxVisibleEvents = 12

// TaskPoller is the repository slice the watcher reads from.
// *service.TaskService satisfies it.
type TaskPoller interface {
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
	ListEvents(ctx context.Context, taskID string, sinceSeq int64, limit int) ([]*events.Event, error)
}

// Styles contains the visual styling for the watcher.
type Styles struct {
	Header  lipgloss.Style
	Status  map[task.Status]lipgloss.Style
	Event   lipgloss.Style
	Reason  lipgloss.Style
	Error   lipgloss.Style
	Subtle  lipgloss.Style
	Settled lipgloss.Style
}

// DefaultStyles returns the default watcher styling.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),
		Status: map[task.Status]lipgloss.Style{
			task.StatusQueued:        lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
			task.StatusRunning:       lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
			task.StatusWaitingManual: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			task.StatusPassed:        lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
			task.StatusFailedGate:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			task.StatusFailedSystem:  lipgloss.NewStyle().Foreground(lipgloss.Color("160")),
			task.StatusCanceled:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		},
		Event:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		Reason:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Subtle:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Settled: lipgloss.NewStyle().Bold(true),
	}
}

// pollMsg carries one repository snapshot into the program.
type pollMsg struct {
	row *task.Task
	evs []*events.Event
	err error
}

// tickMsg schedules the next poll.
type tickMsg time.Time

// Model is the watch program state.
type Model struct {
	taskID string
	poller TaskPoller

	spinner spinner.Model
	styles  Styles
	width   int

	row     *task.Task
	evs     []*events.Event
	pollErr error
	settled bool
	quit    bool
}

// NewModel creates a watcher for one task.
func NewModel(poller TaskPoller, taskID string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{
		taskID:  taskID,
		poller:  poller,
		spinner: sp,
		styles:  DefaultStyles(),
		width:   100,
	}
}

// Init starts the spinner and the first poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

// poll reads the current row and event tail.
func (m Model) poll() tea.Cmd {
	poller, taskID := m.poller, m.taskID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollInterval)
		defer cancel()

		row, err := poller.GetTask(ctx, taskID)
		if err != nil {
			return pollMsg{err: err}
		}
		evs, err := poller.ListEvents(ctx, taskID, 0, 0)
		if err != nil {
			return pollMsg{row: row, err: err}
		}
		return pollMsg{row: row, evs: evs}
	}
}

func scheduleTick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quit = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case pollMsg:
		m.pollErr = msg.err
		if msg.row != nil {
			m.row = msg.row
			m.settled = task.IsSettled(msg.row.Status)
		}
		if msg.evs != nil {
			m.evs = msg.evs
		}
		if m.settled {
			// One final snapshot is enough; leave the result on screen.
			return m, nil
		}
		return m, scheduleTick()

	case tickMsg:
		if m.settled || m.quit {
			return m, nil
		}
		return m, m.poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the task row and the recent event tail.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Header.Render("agentcheck watch "+m.taskID) + "\n\n")

	if m.pollErr != nil {
		b.WriteString(m.styles.Error.Render("poll error: "+m.pollErr.Error()) + "\n")
	}
	if m.row == nil {
		b.WriteString(m.spinner.View() + " loading task...\n")
		return b.String()
	}

	b.WriteString(m.statusLine())
	b.WriteString("\n")
	if m.row.LastGateReason != "" {
		b.WriteString("  " + m.styles.Reason.Render("reason: "+m.row.LastGateReason) + "\n")
	}

	if len(m.evs) > 0 {
		b.WriteString("\n")
		b.WriteString(m.styles.Subtle.Render("Recent events") + "\n")
		tail := m.evs
		if len(tail) > maxVisibleEvents {
			tail = tail[len(tail)-maxVisibleEvents:]
		}
		for _, evt := range tail {
			b.WriteString("  " + m.styles.Event.Render(m.eventLine(evt)) + "\n")
		}
	}

	b.WriteString("\n")
	if m.settled {
		b.WriteString(m.styles.Settled.Render("Task settled.") + " Press q to exit.\n")
	} else {
		b.WriteString(m.styles.Subtle.Render("Polling every 2s. Press q to exit.") + "\n")
	}
	return b.String()
}

func (m Model) statusLine() string {
	status := string(m.row.Status)
	if style, ok := m.styles.Status[m.row.Status]; ok {
		status = style.Render(status)
	}
	line := fmt.Sprintf("%s  rounds %d/%d", status, m.row.RoundsCompleted, m.row.MaxRounds)
	if !m.settled {
		line = m.spinner.View() + " " + line
	}
	return line
}

func (m Model) eventLine(evt *events.Event) string {
	round := " "
	if evt.Round != nil {
		round = fmt.Sprintf("r%d", *evt.Round)
	}
	line := fmt.Sprintf("#%-4d %-3s %s", evt.Seq, round, evt.Type)
	if max := m.width - 4; max > 20 && len(line) > max {
		line = line[:max-3] + "..."
	}
	return line
}

// Run executes the watch program until the user quits.
func Run(poller TaskPoller, taskID string) error {
	p := tea.NewProgram(NewModel(poller, taskID))
	_, err := p.Run()
	return err
}

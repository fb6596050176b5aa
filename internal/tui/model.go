// Package tui is the terminal dashboard behind `amassd watch`.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/amassd/internal/api"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DefaultInterval is how often the dashboard polls.
const DefaultInterval = 2 * time.Second

const requestTimeout = 10 * time.Second

// Source is the part of the API client the dashboard reads from.
type Source interface {
	Queue(ctx context.Context) (*api.QueueResponse, error)
	Tasks(ctx context.Context) (*api.TasksResponse, error)
	Task(ctx context.Context, id string) (*api.TaskResponse, error)
}

// snapshotMsg is the result of one poll.
type snapshotMsg struct {
	gen   int
	queue *api.QueueResponse
	tasks *api.TasksResponse
	err   error
	at    time.Time
}

// pollMsg asks for the next poll of generation gen.
type pollMsg struct {
	gen int
}

// detailMsg carries the full record of one task.
type detailMsg struct {
	task api.TaskView
	err  error
}

// Model is the root Bubble Tea model for the dashboard.
type Model struct {
	source    Source
	interval  time.Duration
	queuePane QueuePaneModel
	taskPane  TaskPaneModel
	gen       int // bumped on manual refresh; older poll chains stop
	width     int
	height    int
	quitting  bool
}

// New creates a dashboard reading from source.
func New(source Source, server string, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return Model{
		source:    source,
		interval:  interval,
		queuePane: NewQueuePaneModel(server),
		taskPane:  NewTaskPaneModel(),
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return fetchSnapshot(m.source, m.gen)
}

func fetchSnapshot(source Source, gen int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		msg := snapshotMsg{gen: gen, at: time.Now()}
		msg.queue, msg.err = source.Queue(ctx)
		if msg.err != nil {
			return msg
		}
		msg.tasks, msg.err = source.Tasks(ctx)
		return msg
	}
}

func fetchDetail(source Source, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		res, err := source.Task(ctx, id)
		if err != nil {
			return detailMsg{err: err}
		}
		return detailMsg{task: res.Task}
	}
}

func schedulePoll(interval time.Duration, gen int) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg {
		return pollMsg{gen: gen}
	})
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyRefresh:
			m.gen++
			cmds = append(cmds, fetchSnapshot(m.source, m.gen))

		default:
			before := m.taskPane.SelectedID()
			var cmd tea.Cmd
			m.taskPane, cmd = m.taskPane.Update(msg)
			cmds = append(cmds, cmd)
			if m.taskPane.SelectedID() != before {
				cmds = append(cmds, m.detailCmd())
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case snapshotMsg:
		if msg.gen != m.gen {
			break
		}
		if msg.err != nil {
			m.queuePane.SetError(msg.err)
		} else {
			m.queuePane.SetSnapshot(msg.queue, msg.tasks.Tasks, msg.at)
			m.taskPane.SetTasks(msg.tasks.Tasks)
			cmds = append(cmds, m.detailCmd())
		}
		cmds = append(cmds, schedulePoll(m.interval, m.gen))

	case pollMsg:
		if msg.gen == m.gen {
			cmds = append(cmds, fetchSnapshot(m.source, m.gen))
		}

	case detailMsg:
		if msg.err != nil {
			m.queuePane.SetError(msg.err)
			break
		}
		m.taskPane.SetDetail(msg.task)
	}

	return m, tea.Batch(cmds...)
}

// detailCmd fetches the selected task's output if it is missing.
func (m Model) detailCmd() tea.Cmd {
	id, ok := m.taskPane.NeedsDetail()
	if !ok {
		return nil
	}
	return fetchDetail(m.source, id)
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.queuePane.View(), m.taskPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, mainContent, HelpView())
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 30) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // reserve 1 line for help bar

	m.queuePane.SetSize(leftWidth, availableHeight)
	m.taskPane.SetSize(rightWidth, availableHeight)
}

// Run starts the dashboard and blocks until the user quits.
func Run(ctx context.Context, source Source, server string, interval time.Duration) error {
	p := tea.NewProgram(New(source, server, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

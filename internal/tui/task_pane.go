package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/amassd/internal/api"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const listWidth = 32

// TaskPaneModel is the task list and the selected task's detail viewport.
type TaskPaneModel struct {
	tasks       []api.TaskView
	details     map[string]api.TaskView // terminal tasks with output loaded
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		details:  make(map[string]api.TaskView),
		viewport: viewport.New(0, 0),
	}
}

// Update handles key messages. It moves the selection on j/k and
// scrolls the viewport on everything else.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.tasks)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}
	}

	return m, cmd
}

// SetTasks replaces the list, keeping the selection on the same task
// when it still exists.
func (m *TaskPaneModel) SetTasks(tasks []api.TaskView) {
	selected := m.SelectedID()
	m.tasks = tasks
	m.selectedIdx = 0
	for i, t := range tasks {
		if t.ID == selected {
			m.selectedIdx = i
			break
		}
	}

	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}
	for id := range m.details {
		if !known[id] {
			delete(m.details, id)
		}
	}

	m.updateViewportContent()
}

// SetDetail stores the full record of a terminal task.
func (m *TaskPaneModel) SetDetail(t api.TaskView) {
	if t.Status != "completed" && t.Status != "failed" {
		return
	}
	m.details[t.ID] = t
	if t.ID == m.SelectedID() {
		m.updateViewportContent()
	}
}

// NeedsDetail reports whether the selected task finished but its output
// has not been fetched yet.
func (m TaskPaneModel) NeedsDetail() (string, bool) {
	t, ok := m.selected()
	if !ok || t.Status != "completed" {
		return "", false
	}
	if _, loaded := m.details[t.ID]; loaded {
		return "", false
	}
	return t.ID, true
}

// SelectedID returns the id of the selected task, or "".
func (m TaskPaneModel) SelectedID() string {
	t, ok := m.selected()
	if !ok {
		return ""
	}
	return t.ID
}

func (m TaskPaneModel) selected() (api.TaskView, bool) {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.tasks) {
		return m.tasks[m.selectedIdx], true
	}
	return api.TaskView{}, false
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	return StyleActivePane.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderList() string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(listWidth, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(StatusStyle("pending").Render("No tasks"))
	}

	// Keep the selection visible
	rows := max(1, m.height-6)
	start := 0
	if m.selectedIdx >= rows {
		start = m.selectedIdx - rows + 1
	}
	end := min(len(m.tasks), start+rows)

	for i := start; i < end; i++ {
		t := m.tasks[i]
		name := t.Domain
		if len(name) > listWidth-4 {
			name = name[:listWidth-7] + "..."
		}

		line := fmt.Sprintf("%s %s", StatusIcon(t.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(fmt.Sprintf("> %s", name))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(listWidth).
		Height(m.height - 2).
		Render(b.String())
}

// updateViewportContent shows the selected task's record.
func (m *TaskPaneModel) updateViewportContent() {
	t, ok := m.selected()
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	if d, loaded := m.details[t.ID]; loaded {
		t = d
	}
	m.viewport.SetContent(renderDetail(t))
}

func renderDetail(t api.TaskView) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("ID:       %s\n", t.ID))
	b.WriteString(fmt.Sprintf("Domain:   %s\n", t.Domain))
	b.WriteString(fmt.Sprintf("Status:   %s\n", StatusStyle(t.Status).Render(t.Status)))
	b.WriteString(fmt.Sprintf("Mode:     %s\n", t.Mode))
	b.WriteString(fmt.Sprintf("Options:  brute=%t min_for_recursive=%d\n", t.Brute, t.MinForRecursive))
	b.WriteString(fmt.Sprintf("Created:  %s\n", formatTime(&t.CreatedAt)))
	b.WriteString(fmt.Sprintf("Started:  %s\n", formatTime(t.StartedAt)))
	b.WriteString(fmt.Sprintf("Finished: %s\n", formatTime(t.CompletedAt)))
	if t.StartedAt != nil && t.CompletedAt != nil {
		b.WriteString(fmt.Sprintf("Duration: %s\n", t.CompletedAt.Sub(*t.StartedAt).Round(time.Millisecond)))
	}
	b.WriteString("\n")

	switch {
	case t.ErrorMessage != "":
		b.WriteString(StyleError.Render(t.ErrorMessage))
		b.WriteString("\n")
	case t.Output != nil:
		b.WriteString(fmt.Sprintf("%d hosts\n\n", len(*t.Output)))
		b.WriteString(strings.Join(*t.Output, "\n"))
	case t.Status == "completed":
		b.WriteString(StatusStyle("pending").Render("Loading output..."))
	}

	return b.String()
}

func formatTime(ts *time.Time) string {
	if ts == nil || ts.IsZero() {
		return "-"
	}
	return ts.Local().Format(time.DateTime)
}

// resizeViewport resizes the viewport based on pane dimensions.
func (m *TaskPaneModel) resizeViewport() {
	viewportWidth := m.width - listWidth - 4
	viewportHeight := m.height - 4 // account for borders

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

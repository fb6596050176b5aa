package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/amassd/internal/api"
	"github.com/charmbracelet/lipgloss"
)

// QueuePaneModel shows the queue, the worker and task counts.
type QueuePaneModel struct {
	server      string
	queueSize   int
	currentTask string
	workerAlive bool
	total       int
	completed   int
	running     int
	failed      int
	pending     int
	lastUpdate  time.Time
	err         error
	width       int
	height      int
}

// NewQueuePaneModel creates a queue pane for server.
func NewQueuePaneModel(server string) QueuePaneModel {
	return QueuePaneModel{server: server}
}

// SetSnapshot records a successful poll.
func (m *QueuePaneModel) SetSnapshot(q *api.QueueResponse, tasks []api.TaskView, at time.Time) {
	m.err = nil
	m.lastUpdate = at
	m.queueSize = q.QueueSize
	m.workerAlive = q.WorkerAlive
	m.currentTask = ""
	if q.CurrentTask != nil {
		m.currentTask = *q.CurrentTask
	}

	m.total = len(tasks)
	m.completed, m.running, m.failed, m.pending = 0, 0, 0, 0
	for _, t := range tasks {
		switch t.Status {
		case "completed":
			m.completed++
		case "running":
			m.running++
		case "failed":
			m.failed++
		default:
			m.pending++
		}
	}
}

// SetError records a failed poll. Previous numbers stay on screen.
func (m *QueuePaneModel) SetError(err error) {
	m.err = err
}

// View renders the queue pane.
func (m QueuePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Queue")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	worker := StatusStyle("failed").Render("stopped")
	if m.workerAlive {
		worker = StatusStyle("completed").Render("alive")
	}
	current := StatusStyle("pending").Render("idle")
	if m.currentTask != "" {
		current = StatusStyle("running").Render(shortID(m.currentTask))
	}

	b.WriteString(fmt.Sprintf("Server:    %s\n", m.server))
	b.WriteString(fmt.Sprintf("Worker:    %s\n", worker))
	b.WriteString(fmt.Sprintf("Current:   %s\n", current))
	b.WriteString(fmt.Sprintf("Queued:    %d\n", m.queueSize))
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("Total:     %d\n", m.total))
	b.WriteString(fmt.Sprintf("Completed: %s\n", count("completed", m.completed)))
	b.WriteString(fmt.Sprintf("Running:   %s\n", count("running", m.running)))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", count("failed", m.failed)))
	b.WriteString(fmt.Sprintf("Pending:   %s\n", count("pending", m.pending)))
	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-10, 40)
		completedWidth := (m.completed * barWidth) / m.total
		failedWidth := (m.failed * barWidth) / m.total
		runningWidth := (m.running * barWidth) / m.total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StatusStyle("completed").Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StatusStyle("failed").Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StatusStyle("running").Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StatusStyle("pending").Render(strings.Repeat(".", max(0, pendingWidth)))

		b.WriteString(fmt.Sprintf("[%s]\n\n", bar))
	}

	if m.err != nil {
		b.WriteString(StyleError.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	} else if !m.lastUpdate.IsZero() {
		b.WriteString(StyleHelp.Render("Updated " + m.lastUpdate.Format("15:04:05")))
		b.WriteString("\n")
	}

	return StylePane.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *QueuePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

func itoa(n int) string { return strconv.Itoa(n) }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Pane borders. The task pane takes the accent since it owns the keys.
var (
	StylePane = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))

	StyleActivePane = StylePane.
			BorderForeground(lipgloss.Color("62"))
)

var (
	StyleTitle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	StyleHelp     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	StyleError    = lipgloss.NewStyle().Foreground(lipgloss.Color("red"))
	StyleSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))
)

type statusLook struct {
	style lipgloss.Style
	icon  string
}

var statusLooks = map[string]statusLook{
	"pending":   {lipgloss.NewStyle().Foreground(lipgloss.Color("240")), "○"},
	"running":   {lipgloss.NewStyle().Foreground(lipgloss.Color("yellow")).Bold(true), "●"},
	"completed": {lipgloss.NewStyle().Foreground(lipgloss.Color("green")).Bold(true), "✓"},
	"failed":    {lipgloss.NewStyle().Foreground(lipgloss.Color("red")).Bold(true), "✗"},
}

func lookFor(status string) statusLook {
	if l, ok := statusLooks[status]; ok {
		return l
	}
	return statusLooks["pending"]
}

// StatusStyle returns the style for a task status.
func StatusStyle(status string) lipgloss.Style {
	return lookFor(status).style
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	l := lookFor(status)
	return l.style.Render(l.icon)
}

// count renders n in the colour of status.
func count(status string, n int) string {
	return StatusStyle(status).Render(itoa(n))
}

package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/sznuper/overwatch/internal/check"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	baseStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
)

// StatusStyle colours a status for terminal output.
func StatusStyle(s check.Status) lipgloss.Style {
	switch s {
	case check.OK:
		return okStyle
	case check.Warn:
		return warnStyle
	default:
		return errorStyle
	}
}

// Status renders s in its colour.
func Status(s check.Status) string {
	return StatusStyle(s).Render(s.String())
}

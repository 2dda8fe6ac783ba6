package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/atmo/atmo/internal/cluster"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).BorderStyle(lipgloss.DoubleBorder()).BorderBottom(true).Padding(0, 1)
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// StatusStyle picks the color for a cluster status.
func StatusStyle(s cluster.Status) lipgloss.Style {
	switch {
	case s.IsReady():
		return successStyle
	case s.IsFailed():
		return errStyle
	case s.IsTerminating(), s.IsTerminated():
		return dimStyle
	case s.IsActive():
		return highlightStyle
	default:
		return dimStyle
	}
}

// RenderStatus renders a status in its color, or "-" when unset.
func RenderStatus(s cluster.Status) string {
	if s == cluster.StatusUnset {
		return dimStyle.Render("-")
	}
	return StatusStyle(s).Render(string(s))
}

// Package tui implements `tracetap watch`: a live, scrolling view of the
// messages a trace client delivers.
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	// Category colors
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Debug   lipgloss.Style

	// UI elements
	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	Paused    lipgloss.Style

	// Indicators
	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA")),
		Debug:   lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Paused:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5C07B")),

		TickerActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		TickerInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// ForCategory picks a line style from common category names.
func (t Theme) ForCategory(category string) lipgloss.Style {
	c := strings.ToLower(category)
	switch {
	case strings.HasPrefix(c, "err"), strings.HasPrefix(c, "fatal"), strings.HasPrefix(c, "crit"):
		return t.Error
	case strings.HasPrefix(c, "warn"):
		return t.Warning
	case strings.HasPrefix(c, "debug"), strings.HasPrefix(c, "trace"), strings.HasPrefix(c, "verbose"):
		return t.Debug
	default:
		return t.Info
	}
}

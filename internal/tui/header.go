package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HeaderState is what the header shows besides the spinner.
type HeaderState struct {
	Channel   string
	WorkDir   string
	Received  int
	Dropped   int64
	Paused    bool
	StartedAt time.Time
}

func renderHeader(h HeaderState, spinner Spinner, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	clock := theme.Dim.Render(now.Format("15:04:05"))
	titleText := fmt.Sprintf(" TRACETAP WATCH %s", theme.Highlight.Render(h.Channel))

	titleWidth := lipgloss.Width(titleText)
	clockWidth := lipgloss.Width(clock)
	pad := innerWidth - titleWidth - clockWidth - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" Received: %d  Dropped: %d  Up: %s",
		h.Received, h.Dropped, formatDuration(now.Sub(h.StartedAt)))
	if h.Paused {
		statsLine += "  " + theme.Paused.Render("PAUSED")
	}

	lastEvent := "never"
	if !spinner.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", now.Sub(spinner.LastEvent()).Round(time.Second))
	}
	activityLine := fmt.Sprintf(" Last message: %s %s", lastEvent, spinner.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

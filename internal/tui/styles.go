package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5F57")
	colorYellow = lipgloss.Color("#E5C07B")
	colorCyan   = lipgloss.Color("#56B6C2")
	colorGray   = lipgloss.Color("#7F848E")
	colorWhite  = lipgloss.Color("#E6E6E6")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(colorWhite).MarginTop(1)
	detailStyle  = lipgloss.NewStyle().Foreground(colorGray)
	partialStyle = lipgloss.NewStyle().Foreground(colorYellow).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorRed)
	helpStyle    = lipgloss.NewStyle().Foreground(colorGray).MarginTop(1)

	badgeBase = lipgloss.NewStyle().Padding(0, 1).Bold(true)
)

func stateBadge(state string) string {
	switch state {
	case "recording":
		return badgeBase.Background(colorRed).Foreground(colorWhite).Render("● " + state)
	case "connecting", "stopping":
		return badgeBase.Background(colorYellow).Foreground(lipgloss.Color("#000000")).Render(state)
	case "error":
		return badgeBase.Foreground(colorRed).Render(state)
	default:
		return badgeBase.Foreground(colorGray).Render(state)
	}
}

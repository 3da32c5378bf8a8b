package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorGood  = lipgloss.Color("#22C55E")
	colorBad   = lipgloss.Color("#EF4444")
	colorWarn  = lipgloss.Color("#F59E0B")
	colorMuted = lipgloss.Color("#94A3B8")

	StyleDays = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorGood).
			Padding(0, 2)

	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			MarginBottom(1)

	StyleCard = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(1, 3)

	StyleMuted      = lipgloss.NewStyle().Foreground(colorMuted)
	StyleStatusGood = lipgloss.NewStyle().Foreground(colorGood)
	StyleStatusBad  = lipgloss.NewStyle().Foreground(colorBad)
	StyleStatusWarn = lipgloss.NewStyle().Foreground(colorWarn)
)

package main

import "github.com/charmbracelet/lipgloss"

// Colors and styles, adapted from the teacher client's style package but
// trimmed to a small fixed palette: no color-blend gimmick, since nothing
// here needs generated gradients. titleStyle is defined but not rendered.
const (
	colorCyan      = lipgloss.Color("63")
	colorBrightRed = lipgloss.Color("196")
	colorFuscia    = lipgloss.Color("170")
	colorGreen     = lipgloss.Color("2")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorFuscia)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorCyan).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Bold(true)

	completedStyle = lipgloss.NewStyle().Foreground(colorGreen)

	failedStyle = lipgloss.NewStyle().Foreground(colorBrightRed)
)

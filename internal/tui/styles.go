// SPDX-License-Identifier: MIT

// Package tui holds the terminal interfaces: an input device picker and a
// live spectrum monitor.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("#25A065")
	colorText   = lipgloss.Color("#FFFDF5")
	colorDim    = lipgloss.Color("#666666")
	colorWarn   = lipgloss.Color("#E8A33D")
	colorHot    = lipgloss.Color("#E0523D")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorAccent).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(colorText)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	highlightStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorWarn).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Width(8).
			Foreground(colorText)

	barStyles = [...]lipgloss.Style{
		lipgloss.NewStyle().Foreground(colorAccent),
		lipgloss.NewStyle().Foreground(colorWarn),
		lipgloss.NewStyle().Foreground(colorHot),
	}
)

// barStyle picks the bar colour for a normalized level.
func barStyle(level float64) lipgloss.Style {
	switch {
	case level >= 0.85:
		return barStyles[2]
	case level >= 0.6:
		return barStyles[1]
	default:
		return barStyles[0]
	}
}

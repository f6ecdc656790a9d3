package main

import "github.com/charmbracelet/lipgloss"

// palette keys the dashboard colors by role rather than hue, so every view
// reads state the same way: header chrome, healthy, degraded, broken, dim.
type palette struct {
	Header lipgloss.AdaptiveColor // pane titles and selected rows
	Accent lipgloss.AdaptiveColor // section labels and keybind hints
	Good   lipgloss.AdaptiveColor // healthy state
	Warn   lipgloss.AdaptiveColor // degraded but still dispatching
	Bad    lipgloss.AdaptiveColor // failures, open breaker, hard pauses
	Dim    lipgloss.AdaptiveColor // separators and empty panes
}

var colors = palette{
	Header: lipgloss.AdaptiveColor{Light: "25", Dark: "39"},
	Accent: lipgloss.AdaptiveColor{Light: "30", Dark: "44"},
	Good:   lipgloss.AdaptiveColor{Light: "28", Dark: "42"},
	Warn:   lipgloss.AdaptiveColor{Light: "130", Dark: "214"},
	Bad:    lipgloss.AdaptiveColor{Light: "124", Dark: "203"},
	Dim:    lipgloss.AdaptiveColor{Light: "245", Dark: "240"},
}

package tui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	bubble  lipgloss.Style
	badge   lipgloss.Style
	panel   lipgloss.Style
	header  lipgloss.Style
	mine    lipgloss.Style
	theirs  lipgloss.Style
	pending lipgloss.Style
	failed  lipgloss.Style
	meta    lipgloss.Style
	help    lipgloss.Style
}

func newStyles() styles {
	return styles{
		bubble:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231")).Background(lipgloss.Color("33")).Padding(0, 1),
		badge:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231")).Background(lipgloss.Color("203")).Padding(0, 1),
		panel:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("33")).Padding(0, 1),
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		mine:    lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		theirs:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		pending: lipgloss.NewStyle().Faint(true),
		failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		meta:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		help:    lipgloss.NewStyle().Faint(true),
	}
}

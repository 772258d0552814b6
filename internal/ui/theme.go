// Package ui provides terminal styling helpers for the tally CLI.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	cAccent = lipgloss.Color("63")  // blue
	cPass   = lipgloss.Color("42")  // green
	cWarn   = lipgloss.Color("214") // orange
	cFail   = lipgloss.Color("196") // red
	cMuted  = lipgloss.Color("244") // gray
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(cAccent)
	passStyle   = lipgloss.NewStyle().Bold(true).Foreground(cPass)
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(cWarn)
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(cFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(cMuted)
)

// RenderAccent styles informational markers.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass styles success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles warning markers.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail styles failure markers.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted styles secondary detail like sync tags and timestamps.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

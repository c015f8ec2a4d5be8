// Package ui holds the terminal styles shared by the budgetr commands.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
)

// RenderAccent renders emphasized values like meter names and balances.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders success output.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders warnings.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderErr renders error output.
func RenderErr(s string) string { return errStyle.Render(s) }

// RenderFaint renders secondary detail like timestamps.
func RenderFaint(s string) string { return faintStyle.Render(s) }

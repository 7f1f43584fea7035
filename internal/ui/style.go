package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Color scheme shared by every command
var (
	PrimaryColor   = "#F97316" // Ember orange
	SecondaryColor = "#DC2626" // Deep red

	// Status colors
	SuccessColor = "#10B981" // Emerald green
	ErrorColor   = "#EF4444" // Red
	WarningColor = "#F59E0B" // Amber
	InfoColor    = "#3B82F6" // Blue
	RunningColor = "#10B981"
	StoppedColor = "#6B7280"
	PendingColor = "#F59E0B"

	// Text colors
	HeaderColor  = "#F9FAFB" // Near white
	TextColor    = "#E5E7EB" // Light gray
	DimTextColor = "#9CA3AF" // Dimmed gray

	AlternatingRowDark = "#1F2937"
)

// Style definitions
var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(HeaderColor)).
			Bold(true)

	// Semantic styles
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(SuccessColor))

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ErrorColor))

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(WarningColor))

	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(InfoColor))

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(DimTextColor))

	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(PrimaryColor)).
			Bold(true).
			MarginBottom(1)

	// Table styles
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color(HeaderColor))

	TableRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(TextColor))

	// Status styles
	RunningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(RunningColor))

	StoppedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(StoppedColor))

	PendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(PendingColor))
)

// TerminalWidth is the width tables are fitted to
func TerminalWidth() int {
	return 100
}

// IsCI reports whether we run in a CI environment, where spinners are noise
func IsCI() bool {
	return os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != ""
}

// TruncateWithEllipsis cuts s to width, marking the cut with "..."
func TruncateWithEllipsis(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 3 {
		return s[:width]
	}
	return s[:width-3] + "..."
}

package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	SuccessSymbol = "✓"
	ErrorSymbol   = "✗"
	InfoSymbol    = "ℹ"
	WarningSymbol = "⚠"
)

// PrintSuccess prints a success message.
func PrintSuccess(message string) {
	fmt.Println(SuccessStyle.Bold(true).Render(SuccessSymbol + " " + message))
}

// PrintError prints an error message in a box.
func PrintError(message string) {
	errorBox := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ErrorColor)).
		Padding(0, 1).
		Render(ErrorStyle.Bold(true).Render(ErrorSymbol + " Error: " + message))

	fmt.Println(errorBox)
}

// PrintWarning prints a warning message.
func PrintWarning(message string) {
	fmt.Println(WarningStyle.Bold(true).Render(WarningSymbol + " " + message))
}

// PrintInfo prints a label and its value.
func PrintInfo(label, value string) {
	fmt.Printf("%s %s\n", DimStyle.Bold(true).Render(label+":"), InfoStyle.Render(value))
}

// PrintHighlight prints highlighted text.
func PrintHighlight(text string) {
	fmt.Println(TitleStyle.Render(text))
}

// PrintEmptyState shows a message when no data is available.
func PrintEmptyState(message string) {
	fmt.Println(DimStyle.Render(InfoSymbol + " " + message))
}

// Table represents a formatted table with headers and rows.
type Table struct {
	Headers     []string
	Rows        [][]string
	ColumnWidth []int
}

// NewTable creates a new table with the given headers.
func NewTable(headers []string) *Table {
	columnWidth := make([]int, len(headers))
	for i, h := range headers {
		columnWidth[i] = len(h) + 4
	}
	return &Table{
		Headers:     headers,
		ColumnWidth: columnWidth,
	}
}

// AddRow adds a new row to the table. Missing cells are left empty.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.Headers))
	copy(row, values)

	for i, v := range row {
		if w := lipgloss.Width(v) + 4; w > t.ColumnWidth[i] {
			t.ColumnWidth[i] = w
		}
	}
	t.Rows = append(t.Rows, row)
}

// RenderTable renders the table with a header rule and alternating rows.
func RenderTable(table *Table) string {
	totalWidth := 0
	for _, width := range table.ColumnWidth {
		totalWidth += width
	}

	termWidth := TerminalWidth()
	if totalWidth > termWidth {
		scale := float64(termWidth-10) / float64(totalWidth)
		for i := range table.ColumnWidth {
			table.ColumnWidth[i] = int(float64(table.ColumnWidth[i]) * scale)
			if table.ColumnWidth[i] < 10 {
				table.ColumnWidth[i] = 10
			}
		}
	}

	renderRow := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			width := table.ColumnWidth[i]
			parts[i] = style.Width(width).MaxWidth(width).Render(TruncateWithEllipsis(cell, width-1))
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	}

	rows := []string{renderRow(table.Headers, TableHeaderStyle)}
	rows = append(rows, DimStyle.Render(strings.Repeat("─", lipgloss.Width(rows[0]))))
	for i, row := range table.Rows {
		style := TableRowStyle
		if i%2 == 1 {
			style = style.Background(lipgloss.Color(AlternatingRowDark))
		}
		rows = append(rows, renderRow(row, style))
	}

	return fmt.Sprintf("\n%s\n", lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// StyleStatusValue colors handle and breaker states.
func StyleStatusValue(status string) string {
	switch strings.ToLower(status) {
	case "in use", "closed", "running":
		return RunningStyle.Render(SuccessSymbol + " " + status)
	case "open", "failed":
		return ErrorStyle.Render(ErrorSymbol + " " + status)
	case "half-open", "retired":
		return PendingStyle.Render("⋯ " + status)
	case "idle":
		return StoppedStyle.Render("◌ " + status)
	default:
		return status
	}
}

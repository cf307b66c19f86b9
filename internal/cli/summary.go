package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorInk     = lipgloss.Color("#E5E9F0")
	colorDim     = lipgloss.Color("#7A8291")
	colorSuccess = lipgloss.Color("#A3BE8C")
	colorWarn    = lipgloss.Color("#EBCB8B")
	colorError   = lipgloss.Color("#BF616A")

	labelStyle = lipgloss.NewStyle().Foreground(colorDim)
	valueStyle = lipgloss.NewStyle().Foreground(colorInk).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(colorSuccess)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarn)
	errStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
)

type SummaryRow struct {
	Label string
	Value string
}

// RenderSummary draws rows as a two column table between horizontal rules.
func RenderSummary(rows []SummaryRow) string {
	labelWidth, valueWidth := 0, 0
	for _, row := range rows {
		labelWidth = max(labelWidth, lipgloss.Width(row.Label))
		valueWidth = max(valueWidth, lipgloss.Width(row.Value))
	}

	hline := strings.Repeat("-", labelWidth+valueWidth+3)
	lines := []string{hline}
	for _, row := range rows {
		label := labelStyle.Width(labelWidth).Render(row.Label)
		value := valueStyle.Render(row.Value)
		lines = append(lines, fmt.Sprintf("%s | %s", label, value))
	}
	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

func renderResult(r FileResult) string {
	if r.Err != nil {
		return fmt.Sprintf("%s %s: %v", errStyle.Render("FAIL"), r.Source, r.Err)
	}

	line := fmt.Sprintf("%s %s -> %s (%dx%d, %s)", okStyle.Render("OK"), r.Source, r.Output, r.Width, r.Height, humanBytes(int64(r.OutputBytes)))
	for _, warning := range r.Warnings {
		line += "\n   " + warnStyle.Render("warning: "+warning)
	}
	return line
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit && n > -unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit || v <= -unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pario-ai/dixie/pkg/models"
)

var (
	colorBorder = lipgloss.Color("#282726")
	colorText   = lipgloss.Color("#FFFCF0")
	colorMuted  = lipgloss.Color("#6F6E69")
	colorAccent = lipgloss.Color("#3AA99F")
	colorGreen  = lipgloss.Color("#879A39")
	colorOrange = lipgloss.Color("#DA702C")
	colorRed    = lipgloss.Color("#D14D41")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1).
			Width(44)
)

// pressureStyle colors a pressure value by band.
func pressureStyle(p float64) lipgloss.Style {
	switch {
	case p > 0.6:
		return lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	case p > 0.4:
		return lipgloss.NewStyle().Foreground(colorOrange)
	case p > 0.2:
		return lipgloss.NewStyle().Foreground(colorAccent)
	}
	return lipgloss.NewStyle().Foreground(colorGreen)
}

// renderStatus draws one service's budget card.
func renderStatus(st models.BudgetStatus) string {
	row := func(label, value string) string {
		return labelStyle.Render(label) + valueStyle.Render(value)
	}
	pct := 0.0
	if st.Limit > 0 {
		pct = float64(st.Used) / float64(st.Limit) * 100
	}
	lines := []string{
		titleStyle.Render(st.Service),
		row("Used", fmt.Sprintf("%s / %s (%.1f%%)", formatNumber(st.Used), formatNumber(st.Limit), pct)),
		row("Remaining", formatNumber(st.Remaining)),
		row("Hours left", fmt.Sprintf("%.1f", st.HoursRemaining)),
		labelStyle.Render("Pressure") + pressureStyle(st.Pressure).Render(fmt.Sprintf("%.2f", st.Pressure)),
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

// formatNumber adds thousands separators: 1234567 -> "1,234,567".
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

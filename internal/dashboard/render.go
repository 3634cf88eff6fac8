package dashboard

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"gas-monitor/internal/models"
)

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// ── Color palette ────────────────────────────────────────────────────

var (
	colorTitleBg  = lipgloss.Color("17")
	colorTitleFg  = lipgloss.Color("51")
	colorBorder   = lipgloss.Color("62")
	colorLabel    = lipgloss.Color("252")
	colorDim      = lipgloss.Color("240")
	colorFooterBg = lipgloss.Color("235")
	colorSafe     = lipgloss.Color("78")
	colorWarning  = lipgloss.Color("220")
	colorDanger   = lipgloss.Color("196")
	colorUnknown  = lipgloss.Color("243")
)

// LevelColor returns the display color for a level
func LevelColor(l models.Level) lipgloss.Color {
	switch l {
	case models.LevelSafe:
		return colorSafe
	case models.LevelWarning:
		return colorWarning
	case models.LevelDanger:
		return colorDanger
	default:
		return colorUnknown
	}
}

// TableHeaders are the event table columns
var TableHeaders = []string{"Timestamp", "Temperature (°C)", "Humidity (%)", "Gas (PPM)", "Prediction"}

// TableRows formats events as table cells, numbers rounded to 2 decimals
func TableRows(events []models.ClassifiedEvent) [][]string {
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []string{
			ev.Timestamp,
			fmt.Sprintf("%.2f", ev.Temperature),
			fmt.Sprintf("%.2f", ev.Humidity),
			fmt.Sprintf("%.2f", ev.GasPPM),
			ev.Level.String(),
		})
	}
	return rows
}

// RenderTable renders the history table. The Prediction column is colored
// by level.
func RenderTable(events []models.ClassifiedEvent, width int) string {
	headerS := lipgloss.NewStyle().Bold(true).Foreground(colorLabel).Padding(0, 1)
	cellS := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers(TableHeaders...).
		Rows(TableRows(events)...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerS
			}
			s := cellS
			if col > 0 && col < 4 {
				s = s.Align(lipgloss.Right)
			}
			if col == 4 && row >= 0 && row < len(events) {
				s = s.Foreground(LevelColor(events[row].Level)).Bold(events[row].Level == models.LevelDanger)
			}
			return s
		})
	if width > 0 {
		t = t.Width(width)
	}
	return t.String()
}

// RenderSparkline renders gas values as one row of blocks scaled between
// the minimum and maximum value. Each block takes its event's level color.
func RenderSparkline(events []models.ClassifiedEvent, width int) string {
	if width <= 0 {
		return ""
	}
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	if len(events) == 0 {
		return dim.Render(strings.Repeat("╌", width))
	}
	if len(events) > width {
		events = events[len(events)-width:]
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, ev := range events {
		lo = math.Min(lo, ev.GasPPM)
		hi = math.Max(hi, ev.GasPPM)
	}
	span := hi - lo
	if span <= 0 {
		span = 1
	}

	var sb strings.Builder
	for i := 0; i < width-len(events); i++ {
		sb.WriteString(dim.Render("╌"))
	}
	for _, ev := range events {
		norm := (ev.GasPPM - lo) / span
		idx := int(math.Round(norm * 7))
		idx = max(0, min(7, idx))
		style := lipgloss.NewStyle().Foreground(LevelColor(ev.Level))
		sb.WriteString(style.Render(string(sparkBlocks[idx])))
	}
	return sb.String()
}

// RenderChart draws the gas concentration over time with a y range and the
// first and last timestamps underneath.
func RenderChart(events []models.ClassifiedEvent, width int) string {
	dimS := lipgloss.NewStyle().Foreground(colorDim)
	title := lipgloss.NewStyle().Bold(true).Foreground(colorLabel).Render("Gas Concentration Over Time")
	if len(events) == 0 {
		return title + "\n" + RenderSparkline(nil, width)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, ev := range events {
		lo = math.Min(lo, ev.GasPPM)
		hi = math.Max(hi, ev.GasPPM)
	}

	sparkWidth := len(events) * 2
	if width > 0 && sparkWidth > width-20 {
		sparkWidth = max(len(events), width-20)
	}
	spark := RenderSparkline(stretch(events, sparkWidth), sparkWidth)
	scale := dimS.Render(fmt.Sprintf(" %.2f–%.2f ppm", lo, hi))

	first, last := events[0].Timestamp, events[len(events)-1].Timestamp
	gap := sparkWidth - lipgloss.Width(first) - lipgloss.Width(last)
	timeline := first
	if gap > 0 {
		timeline += strings.Repeat(" ", gap) + last
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, spark+scale, dimS.Render(timeline))
}

// stretch repeats each event so n events fill roughly width columns
func stretch(events []models.ClassifiedEvent, width int) []models.ClassifiedEvent {
	if len(events) == 0 || width <= len(events) {
		return events
	}
	per := width / len(events)
	out := make([]models.ClassifiedEvent, 0, per*len(events))
	for _, ev := range events {
		for i := 0; i < per; i++ {
			out = append(out, ev)
		}
	}
	return out
}

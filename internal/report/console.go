package report

import (
	"fmt"
	"strings"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"

	"github.com/liftshift/liftshift/internal/tracker"
)

// Table renders rows as an aligned ASCII table. Column widths follow the
// display width of the cells, so wide runes line up too.
func Table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && runewidth.StringWidth(cell) > widths[i] {
				widths[i] = runewidth.StringWidth(cell)
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		b.WriteString("\n")
	}

	writeRow(headers)
	rule := make([]string, len(headers))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}
	writeRow(rule)
	for _, row := range rows {
		writeRow(row)
	}
	return b.String()
}

// StatusText colorizes an overall status for terminal output.
func StatusText(status tracker.OverallStatus) string {
	switch status {
	case tracker.OverallCompleted:
		return color.Green.Sprint(string(status))
	case tracker.OverallFailed, tracker.OverallUnrecoverable:
		return color.Red.Sprint(string(status))
	case tracker.OverallRolledBack:
		return color.Yellow.Sprint(string(status))
	case tracker.OverallNotStarted:
		return string(status)
	default:
		return color.Cyan.Sprint(string(status))
	}
}

// PhaseStatusText colorizes a phase status for terminal output.
func PhaseStatusText(status tracker.PhaseStatus) string {
	switch status {
	case tracker.PhaseCompleted:
		return color.Green.Sprint(string(status))
	case tracker.PhaseFailed:
		return color.Red.Sprint(string(status))
	case tracker.PhaseInProgress:
		return color.Cyan.Sprint(string(status))
	default:
		return string(status)
	}
}

// Header renders the boxed section header used by the CLI.
func Header(format string, args ...interface{}) string {
	title := fmt.Sprintf(format, args...)
	width := runewidth.StringWidth(title) + 4
	line := strings.Repeat("=", width)
	return fmt.Sprintf("%s\n  %s\n%s\n", line, title, line)
}

// Section renders an underlined section title.
func Section(title string) string {
	return fmt.Sprintf("[%s]\n%s\n", title, strings.Repeat("-", runewidth.StringWidth(title)+2))
}

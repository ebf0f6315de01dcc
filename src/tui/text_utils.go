package tui

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
)

// VisualWidth returns the display width of plain text.
func VisualWidth(s string) int {
	return runewidth.StringWidth(s)
}

// Truncate shortens plain text to maxLen display columns, ending in "..."
// when there is room for it.
func Truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if maxLen <= 0 {
		return ""
	}
	if VisualWidth(s) <= maxLen {
		return s
	}
	if maxLen > 3 {
		return runewidth.Truncate(s, maxLen-3, "") + "..."
	}
	return runewidth.Truncate(s, maxLen, "")
}

// PadRight pads plain text with spaces to exactly width columns, truncating
// it first if needed. Used to line up check names.
func PadRight(s string, width int) string {
	s = Truncate(s, width)
	if w := VisualWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// FitLine cuts a styled line to width columns without breaking escape
// sequences. A width of 0 leaves the line alone.
func FitLine(line string, width int) string {
	if width <= 0 || ansi.StringWidth(line) <= width {
		return line
	}
	return ansi.Truncate(line, width, "…")
}

// nameWidth is the widest display name in the list.
func nameWidth(names []string) int {
	w := 0
	for _, n := range names {
		if v := VisualWidth(n); v > w {
			w = v
		}
	}
	return w
}

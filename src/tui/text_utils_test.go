package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{name: "fits", in: "Appveyor", maxLen: 10, want: "Appveyor"},
		{name: "ellipsis", in: "https://ci.appveyor.com/project/x", maxLen: 10, want: "https:/..."},
		{name: "too narrow for ellipsis", in: "Appveyor", maxLen: 3, want: "App"},
		{name: "zero", in: "Appveyor", maxLen: 0, want: ""},
		{name: "trims", in: "  Travis  ", maxLen: 10, want: "Travis"},
		{name: "wide runes", in: "世界世界世界", maxLen: 7, want: "世界..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.maxLen); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestPadRight(t *testing.T) {
	for _, in := range []string{"Travis", "Appveyor", "a very long check name"} {
		got := PadRight(in, 10)
		if w := VisualWidth(got); w != 10 {
			t.Errorf("PadRight(%q, 10) width = %d, want 10", in, w)
		}
	}
}

func TestFitLine(t *testing.T) {
	styled := lipgloss.NewStyle().Bold(true).Render(strings.Repeat("x", 40))

	got := FitLine(styled, 20)
	if w := ansi.StringWidth(got); w > 20 {
		t.Errorf("FitLine() width = %d, want <= 20", w)
	}
	if got := FitLine("short", 20); got != "short" {
		t.Errorf("FitLine() = %q, want short", got)
	}
	if got := FitLine(styled, 0); got != styled {
		t.Errorf("FitLine() with zero width changed the line")
	}
}

func TestNameWidth(t *testing.T) {
	if got := nameWidth([]string{"Travis", "Appveyor"}); got != 8 {
		t.Errorf("nameWidth() = %d, want 8", got)
	}
	if got := nameWidth(nil); got != 0 {
		t.Errorf("nameWidth(nil) = %d, want 0", got)
	}
}

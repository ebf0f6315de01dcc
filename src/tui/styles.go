package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/explosion/wheelwright/src/status"
)

// StyleConfig holds the colors used for build output.
type StyleConfig struct {
	PrimaryBlue   lipgloss.Color
	TextSecondary lipgloss.Color
	BorderColor   lipgloss.Color

	// One color per check state
	Success  lipgloss.Color
	Failure  lipgloss.Color
	Pending  lipgloss.Color
	NotKnown lipgloss.Color
}

// DefaultStyles returns the default color palette
func DefaultStyles() *StyleConfig {
	return &StyleConfig{
		PrimaryBlue:   lipgloss.Color("#8AB4F8"),
		TextSecondary: lipgloss.Color("#9AA0A6"),
		BorderColor:   lipgloss.Color("#5F6368"),
		Success:       lipgloss.Color("#34A853"), // Green
		Failure:       lipgloss.Color("#EA4335"), // Red
		Pending:       lipgloss.Color("#FBBC04"), // Yellow
		NotKnown:      lipgloss.Color("#9AA0A6"), // Grey
	}
}

// TitleStyle returns a title lipgloss style using this config
func (s *StyleConfig) TitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.PrimaryBlue).
		Bold(true)
}

// HelpStyle returns a help text lipgloss style using this config
func (s *StyleConfig) HelpStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.TextSecondary)
}

// PanelStyle frames the live check table.
func (s *StyleConfig) PanelStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(s.BorderColor)
}

// StateStyle colors a check state.
func (s *StyleConfig) StateStyle(st status.State) lipgloss.Style {
	style := lipgloss.NewStyle()
	switch {
	case st == status.Success:
		return style.Foreground(s.Success).Bold(true)
	case st.Bad():
		return style.Foreground(s.Failure).Bold(true)
	case st == status.Pending:
		return style.Foreground(s.Pending)
	default:
		return style.Foreground(s.NotKnown)
	}
}

// StatusLine renders "[Appveyor - success] [Travis - pending]" with each
// state colored.
func (s *StyleConfig) StatusLine(checks []status.TrackedCheck) string {
	parts := make([]string, 0, len(checks))
	for _, c := range checks {
		parts = append(parts, fmt.Sprintf("[%s - %s]", c.DisplayName, s.StateStyle(c.State).Render(string(c.State))))
	}
	return strings.Join(parts, " ")
}

// Verdict renders the final mark of a build.
func (s *StyleConfig) Verdict(ok bool, timedOut bool) string {
	switch {
	case ok:
		return lipgloss.NewStyle().Foreground(s.Success).Bold(true).Render("✅ Build succeeded")
	case timedOut:
		return lipgloss.NewStyle().Foreground(s.Failure).Bold(true).Render("❌ Build timed out")
	default:
		return lipgloss.NewStyle().Foreground(s.Failure).Bold(true).Render("❌ Build failed")
	}
}

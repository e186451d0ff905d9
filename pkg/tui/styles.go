package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/verdictswarm/director/pkg/timeline"
)

// Color palette - dark theme inspired by Catppuccin Mocha
var (
	ColorBase     = lipgloss.Color("#1e1e2e")
	ColorSurface0 = lipgloss.Color("#313244")
	ColorSurface1 = lipgloss.Color("#45475a")
	ColorOverlay0 = lipgloss.Color("#6c7086")
	ColorText     = lipgloss.Color("#cdd6f4")
	ColorSubtext0 = lipgloss.Color("#a6adc8")

	ColorRed      = lipgloss.Color("#f38ba8")
	ColorGreen    = lipgloss.Color("#a6e3a1")
	ColorYellow   = lipgloss.Color("#f9e2af")
	ColorBlue     = lipgloss.Color("#89b4fa")
	ColorMauve    = lipgloss.Color("#cba6f7")
	ColorTeal     = lipgloss.Color("#94e2d5")
	ColorPeach    = lipgloss.Color("#fab387")
	ColorLavender = lipgloss.Color("#b4befe")
)

// Header styles
var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBase).
			Background(ColorBlue).
			Padding(0, 2)

	HeaderAddress = lipgloss.NewStyle().
			Foreground(ColorSubtext0).
			Italic(true)

	PhaseStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorMauve)

	CachedBadge = lipgloss.NewStyle().
			Foreground(ColorBase).
			Background(ColorTeal).
			Padding(0, 1)
)

// Section styles
var (
	SectionTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorLavender).
			MarginTop(1)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorOverlay0)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorSurface1).
			Padding(0, 1)

	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorOverlay0).
			MarginTop(1)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorRed)
)

// Verdict styles
var (
	ScoreStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText).
			Background(ColorSurface0).
			Padding(0, 2)

	VerdictPanel = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(ColorMauve).
			Padding(0, 2).
			MarginTop(1)
)

// agentStatusStyle returns the style for an agent status marker.
func agentStatusStyle(s timeline.AgentStatus) lipgloss.Style {
	st := lipgloss.NewStyle()
	switch s {
	case timeline.AgentActive:
		return st.Foreground(ColorBlue).Bold(true)
	case timeline.AgentComplete, timeline.AgentLocked:
		return st.Foreground(ColorGreen)
	case timeline.AgentError:
		return st.Foreground(ColorRed)
	case timeline.AgentDebating:
		return st.Foreground(ColorPeach)
	default:
		return st.Foreground(ColorOverlay0)
	}
}

// lineStyle returns the style for a terminal line.
func lineStyle(t timeline.LineType) lipgloss.Style {
	st := lipgloss.NewStyle()
	switch t {
	case timeline.LineSystem:
		return st.Foreground(ColorSubtext0)
	case timeline.LineThinking:
		return st.Foreground(ColorOverlay0).Italic(true)
	case timeline.LineFinding:
		return st.Foreground(ColorYellow)
	case timeline.LineSuccess:
		return st.Foreground(ColorGreen)
	case timeline.LineWarning:
		return st.Foreground(ColorPeach)
	case timeline.LineError:
		return st.Foreground(ColorRed)
	case timeline.LineDebate:
		return st.Foreground(ColorMauve)
	default:
		return st.Foreground(ColorText)
	}
}

// riskStyle colors a risk level or grade. Risk goes up as the score goes
// down, so an A is green and an F is red.
func riskStyle(risk string) lipgloss.Style {
	st := lipgloss.NewStyle().Bold(true)
	switch risk {
	case "LOW":
		return st.Foreground(ColorGreen)
	case "MEDIUM":
		return st.Foreground(ColorYellow)
	case "HIGH":
		return st.Foreground(ColorPeach)
	case "CRITICAL":
		return st.Foreground(ColorRed)
	default:
		return st.Foreground(ColorText)
	}
}

// severityStyle colors a finding severity.
func severityStyle(sev string) lipgloss.Style {
	switch sev {
	case "critical":
		return lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	case "high":
		return lipgloss.NewStyle().Foreground(ColorPeach)
	case "medium":
		return lipgloss.NewStyle().Foreground(ColorYellow)
	default:
		return lipgloss.NewStyle().Foreground(ColorSubtext0)
	}
}

package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/verdictswarm/director/pkg/timeline"
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")

	switch {
	case m.frame.Phase == timeline.PhaseError || m.frame.Phase == timeline.PhaseTimeout:
		b.WriteString(m.errorView())
		b.WriteString(m.terminalView())
	case m.frame.IsComplete:
		b.WriteString(m.reportView())
	default:
		b.WriteString(m.statusView())
		b.WriteString(m.agentsView())
		b.WriteString(m.debateView())
		b.WriteString(m.terminalView())
	}

	if m.done && m.err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render("Stream ended: " + m.err.Error()))
	}

	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(m.keys.helpLine()))
	b.WriteString("\n")
	return b.String()
}

func (m Model) headerView() string {
	parts := []string{HeaderStyle.Render(m.title)}
	if t := m.frame.Token; t != nil {
		label := t.Address
		if t.Name != "" {
			label = t.Name + " " + shortAddress(t.Address)
		}
		parts = append(parts, HeaderAddress.Render(label+" on "+t.Chain))
	}
	if m.frame.IsCached {
		parts = append(parts, CachedBadge.Render("cached"))
	}
	return lipgloss.JoinHorizontal(lipgloss.Center, strings.Join(parts, " "))
}

func (m Model) statusView() string {
	var b strings.Builder
	b.WriteString("\n")
	if m.frame.IsPlaying {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
	}
	b.WriteString(PhaseStyle.Render(phaseLabel(m.frame.Phase)))
	if n := len(m.frame.Agents); n > 0 {
		b.WriteString(DimStyle.Render(fmt.Sprintf("  %d/%d agents done", m.frame.CompletedAgents(), n)))
	}
	b.WriteString("\n")
	b.WriteString(m.progress.ViewAs(m.frame.Progress))
	b.WriteString("\n")

	if m.revealed && m.frame.FinalScore != nil {
		b.WriteString("\n")
		b.WriteString(ScoreStyle.Render(scoreText(m.shownScore)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) agentsView() string {
	agents := m.frame.AgentList()
	if len(agents) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(SectionTitle.Render("Agents"))
	b.WriteString("\n")
	for _, a := range agents {
		if a.Status == timeline.AgentHidden {
			continue
		}
		st := agentStatusStyle(a.Status)
		name := a.DisplayName
		if name == "" {
			name = a.Name
		}
		line := fmt.Sprintf("%s %-24s %s", st.Render(statusMarker(a.Status)), name, st.Render(string(a.Status)))
		if a.ScoreRevealed && a.Score != nil {
			line += "  " + scoreText(*a.Score)
		}
		if a.ID == m.frame.ActiveAgentID && a.Status == timeline.AgentActive && a.Reasoning != "" {
			line += DimStyle.Render("  " + truncate(a.Reasoning, m.width-40))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) debateView() string {
	d := m.frame.Debate
	if d == nil {
		return ""
	}
	var b strings.Builder
	title := "Debate: " + d.Topic
	if d.Resolved {
		title += " (" + firstNonEmpty(d.Outcome, "resolved") + ")"
	}
	b.WriteString(SectionTitle.Render(title))
	b.WriteString("\n")
	msgs := d.Messages
	if len(msgs) > 3 {
		msgs = msgs[len(msgs)-3:]
	}
	for _, msg := range msgs {
		b.WriteString(lineStyle(timeline.LineDebate).Render(firstNonEmpty(msg.FromName, msg.From) + ": "))
		b.WriteString(truncate(msg.Message, m.width-20))
		b.WriteString("\n")
	}
	if d.Resolved && d.Resolution != "" {
		b.WriteString(DimStyle.Render(d.Resolution))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) terminalView() string {
	lines := m.frame.TerminalLines
	if len(lines) == 0 {
		return ""
	}
	limit := maxTerminalLines
	if m.height > 0 {
		limit = max(3, min(limit, m.height/3))
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	rows := make([]string, 0, len(lines))
	for _, l := range lines {
		st := lineStyle(l.Type)
		if l.Color != "" {
			st = st.Foreground(lipgloss.Color(l.Color))
		}
		rows = append(rows, st.Render(truncate(l.Text, m.width-4)))
	}
	return "\n" + PanelStyle.Render(strings.Join(rows, "\n")) + "\n"
}

func (m Model) errorView() string {
	var b strings.Builder
	b.WriteString("\n")
	if m.frame.Phase == timeline.PhaseTimeout {
		b.WriteString(ErrorStyle.Render("Scan timed out"))
	} else {
		b.WriteString(ErrorStyle.Render("Scan failed"))
	}
	if e := m.frame.Error; e != nil {
		b.WriteString(": " + e.Message)
		if e.Code != "" {
			b.WriteString(DimStyle.Render(" (" + e.Code + ")"))
		}
		if e.Retryable {
			b.WriteString(DimStyle.Render("  retryable"))
		}
	}
	b.WriteString("\n")
	return b.String()
}

// reportView renders the static verdict once the scan is complete.
func (m Model) reportView() string {
	f := m.frame
	var score float64
	switch {
	case f.FinalScore != nil:
		score = *f.FinalScore
	case f.Result != nil:
		score = f.Result.Score
	}
	grade := f.FinalGrade
	if grade == "" && f.Result != nil {
		grade = f.Result.Grade
	}
	if grade == "" {
		grade = timeline.GradeForScore(score)
	}
	risk := timeline.RiskLevel(score)

	var b strings.Builder
	fmt.Fprintf(&b, "%s  Grade %s  Risk %s\n",
		ScoreStyle.Render(scoreText(score)),
		riskStyle(risk).Render(grade),
		riskStyle(risk).Render(risk))

	if f.ConsensusNarrative != "" {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Width(max(20, m.width-8)).Render(f.ConsensusNarrative))
		b.WriteString("\n")
	}

	if r := f.Result; r != nil && len(r.Breakdown) > 0 {
		b.WriteString(SectionTitle.Render("Categories"))
		b.WriteString("\n")
		for _, name := range categoryNames(r) {
			cat := r.Breakdown[name]
			line := fmt.Sprintf("  %-22s", name)
			if cat.Score != nil {
				line += scoreText(*cat.Score)
			} else {
				line += DimStyle.Render("n/a")
			}
			if n := len(cat.Findings); n > 0 {
				line += DimStyle.Render(fmt.Sprintf("  %d findings", n))
			}
			b.WriteString(line)
			b.WriteString("\n")
			if m.showFindings {
				for _, fd := range cat.Findings {
					b.WriteString("    ")
					b.WriteString(severityStyle(fd.Severity).Render("[" + fd.Severity + "]"))
					b.WriteString(" " + truncate(fd.Message, m.width-20))
					b.WriteString("\n")
				}
			}
		}
	}

	var meta []string
	if r := f.Result; r != nil {
		if r.DurationMs > 0 {
			meta = append(meta, (time.Duration(r.DurationMs) * time.Millisecond).Round(100*time.Millisecond).String())
		}
		if r.AgentCount > 0 {
			meta = append(meta, fmt.Sprintf("%d agents", r.AgentCount))
		}
	}
	if len(meta) > 0 {
		b.WriteString("\n")
		b.WriteString(DimStyle.Render(strings.Join(meta, " · ")))
		b.WriteString("\n")
	}

	if tx := f.OnchainTx; tx != nil {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(ColorTeal).Render("On-chain proof"))
		fmt.Fprintf(&b, " %s (%s)\n", tx.Signature, tx.Network)
		if tx.ExplorerURL != "" {
			b.WriteString(DimStyle.Render(tx.ExplorerURL))
			b.WriteString("\n")
		}
	}

	return VerdictPanel.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

func categoryNames(r *timeline.ScanResult) []string {
	names := make([]string, 0, len(r.Breakdown))
	for _, n := range r.CategoryOrder {
		if _, ok := r.Breakdown[n]; ok {
			names = append(names, n)
		}
	}
	if len(names) == len(r.Breakdown) {
		return names
	}
	var rest []string
	for n := range r.Breakdown {
		if !slices.Contains(names, n) {
			rest = append(rest, n)
		}
	}
	slices.Sort(rest)
	return append(names, rest...)
}

func phaseLabel(p timeline.Phase) string {
	switch p {
	case timeline.PhaseIdle:
		return "Waiting for scan"
	case timeline.PhaseInitializing:
		return "Initializing"
	case timeline.PhaseScanning:
		return "Agents analyzing"
	case timeline.PhaseDebating:
		return "Agents debating"
	case timeline.PhaseConsensus:
		return "Building consensus"
	case timeline.PhaseComplete:
		return "Complete"
	default:
		return string(p)
	}
}

func statusMarker(s timeline.AgentStatus) string {
	switch s {
	case timeline.AgentActive:
		return "●"
	case timeline.AgentComplete, timeline.AgentLocked:
		return "✓"
	case timeline.AgentError:
		return "✗"
	case timeline.AgentDebating:
		return "◆"
	default:
		return "○"
	}
}

// scoreText formats a score on its own scale: 0-10 scores keep one
// decimal, larger ones are shown out of 100.
func scoreText(s float64) string {
	if s > 10 {
		return fmt.Sprintf("%.0f/100", s)
	}
	return fmt.Sprintf("%.1f/10", s)
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:4] + "..." + addr[len(addr)-4:]
}

func truncate(s string, width int) string {
	if width < 8 {
		width = 8
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

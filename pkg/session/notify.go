package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/verdictswarm/director/pkg/events"
	"github.com/verdictswarm/director/pkg/slack"
	"github.com/verdictswarm/director/pkg/timeline"
)

func (m *Manager) notifyVerdict(s *Session, f timeline.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if ts := m.notifier.NotifyVerdict(ctx, verdictInput(s, f)); ts != "" {
		s.setThread(ts)
	}
}

func (m *Manager) notifyOnchain(s *Session, f timeline.Frame) {
	if f.OnchainTx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	m.notifier.NotifyOnchain(ctx, slack.OnchainInput{
		SessionID:    s.ID,
		TokenAddress: s.Request.Address,
		Chain:        s.Request.Chain,
		TxSignature:  f.OnchainTx.Signature,
		Network:      f.OnchainTx.Network,
		ExplorerURL:  f.OnchainTx.ExplorerURL,
		ThreadTS:     s.thread(),
	})
}

func (m *Manager) notifyFailed(s *Session, f timeline.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	in := slack.ScanFailedInput{
		SessionID:    s.ID,
		TokenAddress: s.Request.Address,
		Chain:        s.Request.Chain,
		Code:         events.ErrorCodeTimeout,
		Message:      "Scan timed out",
	}
	if f.Error != nil {
		in.Code = f.Error.Code
		in.Message = f.Error.Message
	}
	m.notifier.NotifyScanFailed(ctx, in)
}

// verdictInput builds the Slack verdict from a completed frame.
func verdictInput(s *Session, f timeline.Frame) slack.VerdictInput {
	in := slack.VerdictInput{
		SessionID:    s.ID,
		TokenAddress: s.Request.Address,
		Chain:        s.Request.Chain,
		Grade:        f.FinalGrade,
		AgentCount:   len(f.Agents),
		Cached:       f.IsCached,
	}
	if f.Token != nil && f.Token.Name != "" {
		in.TokenName = f.Token.Name
	}
	if f.ConsensusNarrative != timeline.DefaultConsensusNarrative {
		in.Narrative = f.ConsensusNarrative
	}

	var score float64
	switch {
	case f.FinalScore != nil:
		score = *f.FinalScore
	case f.Result != nil:
		score = f.Result.Score
	}

	if r := f.Result; r != nil {
		if in.Grade == "" {
			in.Grade = r.Grade
		}
		if r.AgentCount > 0 {
			in.AgentCount = r.AgentCount
		}
		in.DurationMs = r.DurationMs
		in.Debates = countDebates(r.Debates)
		in.CriticalFindings = criticalFindings(r)
	}
	if in.Grade == "" {
		in.Grade = timeline.GradeForScore(score)
	}
	in.RiskLevel = timeline.RiskLevel(score)
	if score > 10 {
		score /= 10
	}
	in.Score = score
	return in
}

// countDebates counts the entries of the result's debates array.
func countDebates(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return 0
	}
	return len(list)
}

func criticalFindings(r *timeline.ScanResult) []string {
	var out []string
	for _, cat := range r.CategoryOrder {
		cr, ok := r.Breakdown[cat]
		if !ok {
			continue
		}
		for _, fd := range cr.Findings {
			switch strings.ToLower(fd.Severity) {
			case "critical", "high":
				out = append(out, fmt.Sprintf("%s: %s", cat, fd.Message))
			}
		}
	}
	return out
}

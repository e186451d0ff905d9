package timeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/verdictswarm/director/pkg/events"
)

// Mapper translates raw scan events into timeline actions. It keeps no
// state besides a counter used for action ids.
type Mapper struct {
	delays Delays
	seq    atomic.Uint64
	logger *slog.Logger
}

// NewMapper creates a Mapper that paces actions with delays.
func NewMapper(delays Delays) *Mapper {
	return &Mapper{
		delays: delays,
		logger: slog.Default().With("component", "timeline-mapper"),
	}
}

// Map returns the actions for ev in application order. Unknown event types
// and payloads that cannot be decoded yield no actions.
func (m *Mapper) Map(ev events.RawEvent) []Action {
	actions, err := m.mapEvent(ev)
	if err != nil {
		m.logger.Debug("Dropping undecodable event", "type", ev.Type, "error", err)
		return nil
	}
	return actions
}

func (m *Mapper) mapEvent(ev events.RawEvent) ([]Action, error) {
	d := m.delays
	ts := ev.Timestamp

	switch ev.Type {
	case events.EventTypePreprocessStart:
		p, err := events.Decode[events.PreprocessStartPayload](ev)
		if err != nil {
			return nil, err
		}
		text := p.Message
		if text == "" {
			text = "Preprocessing token..."
		}
		return []Action{
			m.action(ActionPhaseChange, PhaseChangeData{Phase: PhaseInitializing}, 0, d.PhaseTransition),
			m.log(LineSystem, "", text, ts, d.TerminalLine),
		}, nil

	case events.EventTypePreprocessComplete:
		p, err := events.Decode[events.PreprocessCompletePayload](ev)
		if err != nil {
			return nil, err
		}
		text := "Preprocessing complete"
		if p.ProjectName != "" {
			text = "Identified " + p.ProjectName
			if p.TokenType != "" {
				text += " (" + p.TokenType + ")"
			}
		}
		return []Action{
			m.action(ActionSetToken, SetTokenData{Name: p.ProjectName}, 0, 0),
			m.log(LineSystem, "", text, ts, d.TerminalLine),
		}, nil

	case events.EventTypeScanStart:
		p, err := events.Decode[events.ScanStartPayload](ev)
		if err != nil {
			return nil, err
		}
		name := ""
		if p.TokenName != nil {
			name = *p.TokenName
		}
		actions := []Action{
			m.action(ActionSetToken, SetTokenData{Address: p.TokenAddress, Chain: p.Chain, Name: name}, 0, 0),
			m.action(ActionPhaseChange, PhaseChangeData{Phase: PhaseScanning}, 0, d.PhaseTransition),
			m.log(LineSystem, "", fmt.Sprintf("Initiating scan of %s on %s", shortAddress(p.TokenAddress), p.Chain), ts, d.TerminalLine),
		}
		for _, a := range p.Agents {
			actions = append(actions, m.action(ActionAgentAppear, appearData(a), d.AgentAppear, 0))
		}
		count := len(p.Agents)
		if count == 0 {
			count = p.AgentCount
		}
		actions = append(actions, m.log(LineSystem, "", fmt.Sprintf("%d agents deployed", count), ts, d.TerminalLine))
		return actions, nil

	case events.EventTypeAgentStart:
		p, err := events.Decode[events.AgentStartPayload](ev)
		if err != nil {
			return nil, err
		}
		text := p.Message
		if text == "" {
			text = "Starting analysis"
		}
		return []Action{
			m.action(ActionAgentActivate, AgentActivateData{
				AgentID:   p.AgentID,
				AgentName: p.AgentName,
				Icon:      p.Icon,
				Color:     p.Color,
				Category:  p.Category,
				Phase:     p.Phase,
			}, d.AgentActivate, 0),
			m.log(LineAgent, p.AgentID, agentLine(p.AgentID, p.AgentName, text), ts, d.TerminalLine),
		}, nil

	case events.EventTypeAgentThinking:
		p, err := events.Decode[events.AgentThinkingPayload](ev)
		if err != nil {
			return nil, err
		}
		return []Action{
			m.action(ActionAgentThink, AgentThinkData{AgentID: p.AgentID, Text: p.Message}, d.TerminalLine, 0),
			m.log(LineThinking, p.AgentID, agentLine(p.AgentID, p.AgentName, p.Message), ts, d.TerminalLine),
		}, nil

	case events.EventTypeAgentFinding:
		p, err := events.Decode[events.AgentFindingPayload](ev)
		if err != nil {
			return nil, err
		}
		f := Finding{Severity: p.Severity, Message: p.Message}
		if p.Evidence != nil {
			f.Evidence = *p.Evidence
		}
		return []Action{
			m.action(ActionAgentFinding, AgentFindingData{AgentID: p.AgentID, Finding: f}, d.Finding, 0),
			m.log(LineFinding, p.AgentID, agentLine(p.AgentID, p.AgentName, strings.ToUpper(p.Severity)+": "+p.Message), ts, d.TerminalLine),
		}, nil

	case events.EventTypeAgentProgress:
		p, err := events.Decode[events.AgentProgressPayload](ev)
		if err != nil {
			return nil, err
		}
		text := p.Step
		if p.Message != "" {
			text += ": " + p.Message
		}
		return []Action{
			m.log(LineProgress, p.AgentID, agentLine(p.AgentID, p.AgentName, text), ts, d.TerminalLine),
		}, nil

	case events.EventTypeAgentScore:
		p, err := events.Decode[events.AgentScorePayload](ev)
		if err != nil {
			return nil, err
		}
		return []Action{
			m.action(ActionAgentScore, AgentScoreData{
				AgentID:    p.AgentID,
				Score:      p.Score,
				Category:   p.Category,
				Confidence: p.Confidence,
			}, d.TerminalLine, 0),
		}, nil

	case events.EventTypeAgentComplete:
		p, err := events.Decode[events.AgentCompletePayload](ev)
		if err != nil {
			return nil, err
		}
		text := "Analysis complete"
		if p.Score != nil {
			text += " (score " + formatScore(*p.Score) + ")"
		}
		return []Action{
			m.action(ActionAgentComplete, AgentCompleteData{
				AgentID:   p.AgentID,
				Score:     p.Score,
				Reasoning: p.Reasoning,
				Category:  p.Category,
			}, d.AgentComplete, 0),
			m.log(LineSuccess, p.AgentID, agentLine(p.AgentID, p.AgentName, text), ts, d.TerminalLine),
		}, nil

	case events.EventTypeAgentError:
		p, err := events.Decode[events.AgentErrorPayload](ev)
		if err != nil {
			return nil, err
		}
		if p.IsRecoverable() {
			return []Action{
				m.action(ActionAgentActivate, AgentActivateData{AgentID: p.AgentID, AgentName: p.AgentName}, 0, 0),
				m.log(LineWarning, p.AgentID, agentLine(p.AgentID, p.AgentName, "Warning: "+p.Message), ts, d.TerminalLine),
			}, nil
		}
		return []Action{
			m.action(ActionAgentComplete, AgentCompleteData{AgentID: p.AgentID, Failed: true}, d.AgentComplete, 0),
			m.log(LineError, p.AgentID, agentLine(p.AgentID, p.AgentName, "Failed: "+p.Message), ts, d.TerminalLine),
		}, nil

	case events.EventTypeDebateStart:
		p, err := events.Decode[events.DebateStartPayload](ev)
		if err != nil {
			return nil, err
		}
		text := "Debate started"
		if p.Topic != "" {
			text += ": " + p.Topic
		}
		return []Action{
			m.action(ActionPhaseChange, PhaseChangeData{Phase: PhaseDebating}, 0, d.PhaseTransition),
			m.action(ActionDebateStart, DebateStartData{Agents: p.Agents, Topic: p.Topic, Reason: p.Reason}, 0, 0),
			m.log(LineDebate, "", text, ts, d.TerminalLine),
		}, nil

	case events.EventTypeDebateMessage:
		p, err := events.Decode[events.DebateMessagePayload](ev)
		if err != nil {
			return nil, err
		}
		msg := DebateMessage{
			From:          p.From,
			FromName:      p.FromName,
			TargetAgent:   p.TargetAgent,
			TargetName:    p.TargetName,
			Message:       p.Message,
			Round:         p.Round,
			Stance:        p.Stance,
			Phase:         p.Phase,
			EvidenceCited: p.EvidenceCited,
		}
		if adj := p.ScoreAdjustment; adj != nil {
			msg.ScoreAdjustment = &ScoreAdjustment{AgentID: adj.AgentID, From: adj.From, To: adj.To, Reason: adj.Reason}
		}
		speaker := displayName(p.From, p.FromName)
		if p.TargetAgent != "" {
			speaker += " → " + displayName(p.TargetAgent, p.TargetName)
		}
		return []Action{
			m.action(ActionDebateMessage, DebateMessageData{Message: msg}, d.DebateMessage, 0),
			m.log(LineDebate, p.From, fmt.Sprintf("[%s] %s: %s", speaker, p.Stance, p.Message), ts, d.TerminalLine),
		}, nil

	case events.EventTypeDebateResolved:
		p, err := events.Decode[events.DebateResolvedPayload](ev)
		if err != nil {
			return nil, err
		}
		splits := make([]SplitPosition, 0, len(p.SplitPositions))
		for _, sp := range p.SplitPositions {
			splits = append(splits, SplitPosition{Agent: sp.Agent, Position: sp.Position, Score: sp.Score})
		}
		text := "Debate resolved: " + p.Outcome
		if p.Resolution != "" {
			text += " - " + p.Resolution
		}
		return []Action{
			m.action(ActionDebateResolve, DebateResolveData{
				Outcome:        p.Outcome,
				Resolution:     p.Resolution,
				Confidence:     p.Confidence,
				AdjustedScores: p.AdjustedScores,
				SplitPositions: splits,
			}, d.PhaseTransition, 0),
			m.log(LineDebate, "", text, ts, d.TerminalLine),
		}, nil

	case events.EventTypeScanConsensus:
		p, err := events.Decode[events.ScanConsensusPayload](ev)
		if err != nil {
			return nil, err
		}
		grade := p.Grade
		if grade == "" {
			grade = GradeForScore(p.Score)
		}
		return []Action{
			m.action(ActionPhaseChange, PhaseChangeData{Phase: PhaseConsensus}, 0, d.PhaseTransition),
			m.action(ActionConsensusStart, ConsensusStartData{Narrative: p.Narrative}, 0, d.ConsensusReveal),
			m.log(LineSystem, "", fmt.Sprintf("Consensus reached: %s (%s)", formatScore(p.Score), grade), ts, d.TerminalLine),
		}, nil

	case events.EventTypeScanComplete:
		p, err := events.Decode[events.ScanCompletePayload](ev)
		if err != nil {
			return nil, err
		}
		grade := p.Grade
		if grade == "" {
			grade = GradeForScore(p.Score)
		}
		return []Action{
			m.action(ActionScoreReveal, ScoreRevealData{Score: p.Score, Grade: grade}, 0, d.ScoreCountUp),
			m.action(ActionScanComplete, completeData(p, grade), 0, 0),
		}, nil

	case events.EventTypeScanError:
		p, err := events.Decode[events.ScanErrorPayload](ev)
		if err != nil {
			return nil, err
		}
		return []Action{
			m.action(ActionScanError, ScanErrorData{Message: p.Message, Code: p.Code, Retryable: p.Retryable}, 0, 0),
		}, nil

	case events.EventTypeVerdictOnchain:
		p, err := events.Decode[events.OnchainPayload](ev)
		if err != nil {
			return nil, err
		}
		return []Action{
			m.action(ActionOnchainTx, OnchainTxData{Tx: OnchainTx{
				Signature:   p.TxSignature,
				Network:     p.Network,
				ExplorerURL: p.ExplorerURL,
			}}, 0, 0),
		}, nil
	}

	return nil, nil
}

func (m *Mapper) action(t ActionType, data any, delay, hold time.Duration) Action {
	return Action{
		ID:    "act-" + strconv.FormatUint(m.seq.Add(1), 10),
		Type:  t,
		Data:  data,
		Delay: delay,
		Hold:  hold,
	}
}

func (m *Mapper) log(t LineType, agentID, text string, ts int64, delay time.Duration) Action {
	return m.action(ActionLogLine, LogLineData{Type: t, AgentID: agentID, Text: text, Timestamp: ts}, delay, 0)
}

func appearData(a events.AgentInfo) AgentAppearData {
	profile, _ := LookupAgentProfile(a.ID)
	out := AgentAppearData{
		ID:          a.ID,
		Name:        a.Name,
		DisplayName: a.DisplayName,
		Icon:        a.Icon,
		Color:       a.Color,
		Category:    a.Category,
		Phase:       a.Phase,
	}
	if out.Name == "" {
		out.Name = a.ID
	}
	if out.DisplayName == "" {
		out.DisplayName = profile.DisplayName
	}
	if out.Icon == "" {
		out.Icon = profile.Icon
	}
	if out.Color == "" {
		out.Color = profile.Color
	}
	if out.Category == "" {
		out.Category = profile.Category
	}
	return out
}

func completeData(p events.ScanCompletePayload, grade string) ScanCompleteData {
	out := ScanCompleteData{
		Score:      p.Score,
		Grade:      grade,
		Breakdown:  make(map[string]CategoryResult, len(p.Breakdown)),
		DurationMs: p.DurationMs,
		AgentCount: p.AgentCount,
	}
	for cat, b := range p.Breakdown {
		score := b.Score
		cr := CategoryResult{Score: &score, Confidence: b.Confidence, Summary: b.Summary}
		for _, f := range b.Findings {
			cr.Findings = append(cr.Findings, toFinding(f))
		}
		out.Breakdown[cat] = cr
	}
	if len(p.Debates) > 0 {
		if raw, err := json.Marshal(p.Debates); err == nil {
			out.Debates = raw
		}
	}
	return out
}

func toFinding(f events.Finding) Finding {
	out := Finding{Severity: f.Severity, Message: f.Message}
	if f.Evidence != nil {
		out.Evidence = *f.Evidence
	}
	return out
}

func displayName(id, name string) string {
	if name != "" {
		return name
	}
	if p, ok := LookupAgentProfile(id); ok {
		return p.DisplayName
	}
	return id
}

func agentLine(id, name, text string) string {
	return "[" + displayName(id, name) + "] " + text
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:4] + "..." + addr[len(addr)-4:]
}

func formatScore(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

package timeline

import (
	"slices"
	"sort"
	"strings"

	"github.com/verdictswarm/director/pkg/events"
)

// DefaultConsensusNarrative is shown while the verdict is being revealed
// and the backend sent no narrative of its own.
const DefaultConsensusNarrative = "Agents are converging on a verdict..."

// Apply returns the frame that results from applying a to f. f is not
// modified. Progress and playback flags are owned by the Director and are
// left untouched.
func Apply(f Frame, a Action) Frame {
	next := f.Clone()
	reduce(&next, a)
	return next
}

func reduce(f *Frame, a Action) {
	if f.Agents == nil {
		f.Agents = map[string]*AgentState{}
	}

	switch d := a.Data.(type) {
	case PhaseChangeData:
		f.Phase = d.Phase

	case SetTokenData:
		if f.Token == nil {
			f.Token = &Token{}
		}
		if d.Address != "" {
			f.Token.Address = d.Address
		}
		if d.Chain != "" {
			f.Token.Chain = d.Chain
		}
		if d.Name != "" {
			f.Token.Name = d.Name
		}

	case AgentAppearData:
		appearAgent(f, d)

	case AgentActivateData:
		ag := f.Agents[d.AgentID]
		if ag == nil {
			ag = synthesizeAgent(f, d)
		}
		ag.Status = AgentActive
		f.ActiveAgentID = ag.ID

	case AgentThinkData:
		if ag := f.Agents[d.AgentID]; ag != nil {
			ag.Reasoning = d.Text
		}

	case AgentFindingData:
		// Agents that failed contribute no further findings.
		if ag := f.Agents[d.AgentID]; ag != nil && ag.Status != AgentError {
			ag.Findings = append(ag.Findings, d.Finding)
		}

	case AgentScoreData:
		if ag := f.Agents[d.AgentID]; ag != nil {
			s := d.Score
			ag.Score = &s
			ag.ScoreRevealed = true
			if ag.Category == "" {
				ag.Category = d.Category
			}
		}

	case AgentCompleteData:
		ag := f.Agents[d.AgentID]
		if ag == nil {
			return
		}
		if d.Failed {
			ag.Status = AgentError
		} else {
			ag.Status = AgentComplete
		}
		if d.Score != nil && ag.Score == nil {
			s := *d.Score
			ag.Score = &s
			ag.ScoreRevealed = true
		}
		if d.Reasoning != "" {
			ag.Reasoning = d.Reasoning
		}
		if ag.Category == "" {
			ag.Category = d.Category
		}
		if f.ActiveAgentID == ag.ID {
			f.ActiveAgentID = ""
		}

	case DebateStartData:
		for _, id := range d.Agents {
			if ag := resolveAgent(f, id); ag != nil {
				ag.Status = AgentDebating
			}
		}
		// A new debate replaces the slot, resolved or not.
		f.Debate = &Debate{
			Agents:   slices.Clone(d.Agents),
			Topic:    d.Topic,
			Reason:   d.Reason,
			Messages: []DebateMessage{},
		}

	case DebateMessageData:
		if f.Debate == nil {
			f.Debate = &Debate{Messages: []DebateMessage{}}
		}
		msg := d.Message
		if msg.ScoreAdjustment != nil {
			adj := *msg.ScoreAdjustment
			msg.ScoreAdjustment = &adj
			target := adj.AgentID
			if target == "" {
				target = msg.TargetAgent
			}
			if target == "" {
				target = msg.From
			}
			setAgentScore(f, target, adj.To)
		}
		f.Debate.Messages = append(f.Debate.Messages, msg)

	case DebateResolveData:
		for _, id := range f.AgentOrder {
			if ag := f.Agents[id]; ag.Status == AgentDebating {
				ag.Status = AgentComplete
			}
		}
		ids := make([]string, 0, len(d.AdjustedScores))
		for id := range d.AdjustedScores {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			setAgentScore(f, id, d.AdjustedScores[id])
		}
		if f.Debate == nil {
			f.Debate = &Debate{Messages: []DebateMessage{}}
		}
		f.Debate.Resolved = true
		f.Debate.Outcome = d.Outcome
		f.Debate.Resolution = d.Resolution
		f.Debate.Confidence = d.Confidence
		f.Debate.SplitPositions = slices.Clone(d.SplitPositions)
		f.Phase = PhaseScanning

	case ConsensusStartData:
		f.ConsensusNarrative = d.Narrative
		if f.ConsensusNarrative == "" {
			f.ConsensusNarrative = DefaultConsensusNarrative
		}

	case ScoreRevealData:
		s := d.Score
		f.FinalScore = &s
		f.FinalGrade = d.Grade
		f.ScoreRevealed = true

	case ScanCompleteData:
		f.Result = buildResult(f, d)
		if f.FinalScore == nil {
			s := d.Score
			f.FinalScore = &s
			f.FinalGrade = d.Grade
		}
		f.Phase = PhaseComplete
		f.IsComplete = true
		f.ActiveAgentID = ""

	case ScanErrorData:
		if d.Code == events.ErrorCodeTimeout {
			f.Phase = PhaseTimeout
		} else {
			f.Phase = PhaseError
		}
		f.Error = &ScanError{Message: d.Message, Code: d.Code, Retryable: d.Retryable}

	case OnchainTxData:
		tx := d.Tx
		f.OnchainTx = &tx

	case LogLineData:
		line := TerminalLine{
			ID:        a.ID,
			Type:      d.Type,
			AgentID:   d.AgentID,
			Text:      d.Text,
			Timestamp: d.Timestamp,
		}
		if ag := f.Agents[d.AgentID]; ag != nil {
			line.Color = ag.Color
		}
		f.TerminalLines = append(f.TerminalLines, line)
		if n := len(f.TerminalLines); n > MaxTerminalLines {
			f.TerminalLines = slices.Clone(f.TerminalLines[n-MaxTerminalLines:])
		}
	}
}

// appearAgent inserts a waiting agent. An agent that already exists keeps
// its status, score and findings; if it was synthesized by an earlier
// activation its display metadata is refreshed from the appearance.
func appearAgent(f *Frame, d AgentAppearData) {
	if ag, ok := f.Agents[d.ID]; ok {
		if ag.Synthesized {
			ag.Name = d.Name
			ag.DisplayName = d.DisplayName
			ag.Icon = d.Icon
			ag.Color = d.Color
			ag.Category = d.Category
			ag.Phase = d.Phase
			ag.Synthesized = false
		}
		return
	}
	f.Agents[d.ID] = &AgentState{
		ID:          d.ID,
		Name:        d.Name,
		DisplayName: d.DisplayName,
		Icon:        d.Icon,
		Color:       d.Color,
		Category:    d.Category,
		Phase:       d.Phase,
		Status:      AgentWaiting,
		Findings:    []Finding{},
	}
	f.AgentOrder = append(f.AgentOrder, d.ID)
}

func synthesizeAgent(f *Frame, d AgentActivateData) *AgentState {
	profile, _ := LookupAgentProfile(d.AgentID)
	ag := &AgentState{
		ID:          d.AgentID,
		Name:        d.AgentID,
		DisplayName: firstNonEmpty(d.AgentName, profile.DisplayName),
		Icon:        firstNonEmpty(d.Icon, profile.Icon),
		Color:       firstNonEmpty(d.Color, profile.Color),
		Category:    firstNonEmpty(d.Category, profile.Category),
		Phase:       d.Phase,
		Findings:    []Finding{},
		Synthesized: true,
	}
	f.Agents[ag.ID] = ag
	f.AgentOrder = append(f.AgentOrder, ag.ID)
	return ag
}

// resolveAgent finds an agent by id, falling back to a case-insensitive
// match on name or display name.
func resolveAgent(f *Frame, key string) *AgentState {
	if ag := f.Agents[key]; ag != nil {
		return ag
	}
	for _, id := range f.AgentOrder {
		ag := f.Agents[id]
		if strings.EqualFold(ag.ID, key) || strings.EqualFold(ag.Name, key) || strings.EqualFold(ag.DisplayName, key) {
			return ag
		}
	}
	return nil
}

func setAgentScore(f *Frame, key string, score float64) {
	if ag := resolveAgent(f, key); ag != nil {
		s := score
		ag.Score = &s
		ag.ScoreRevealed = true
	}
}

// buildResult merges the payload breakdown with the findings collected per
// agent. Agent findings are appended after the payload's own findings, in
// agent arrival order.
func buildResult(f *Frame, d ScanCompleteData) *ScanResult {
	r := &ScanResult{
		Score:      d.Score,
		Grade:      d.Grade,
		Breakdown:  make(map[string]*CategoryResult, len(d.Breakdown)),
		Debates:    slices.Clone(d.Debates),
		DurationMs: d.DurationMs,
		AgentCount: d.AgentCount,
	}
	for cat, b := range d.Breakdown {
		cr := b
		if b.Score != nil {
			s := *b.Score
			cr.Score = &s
		}
		cr.Findings = slices.Clone(b.Findings)
		if cr.Findings == nil {
			cr.Findings = []Finding{}
		}
		r.Breakdown[cat] = &cr
		r.CategoryOrder = append(r.CategoryOrder, cat)
	}
	sort.Strings(r.CategoryOrder)
	if r.AgentCount == 0 {
		r.AgentCount = len(f.AgentOrder)
	}

	for _, id := range f.AgentOrder {
		ag := f.Agents[id]
		if len(ag.Findings) == 0 {
			continue
		}
		cat := ag.Category
		if cat == "" {
			cat = DefaultAgentProfile.Category
		}
		key, ok := matchCategory(r.Breakdown, cat)
		if !ok {
			cr := &CategoryResult{Findings: []Finding{}}
			if ag.ScoreRevealed && ag.Score != nil {
				s := *ag.Score
				cr.Score = &s
			}
			r.Breakdown[cat] = cr
			r.CategoryOrder = append(r.CategoryOrder, cat)
			key = cat
		}
		r.Breakdown[key].Findings = append(r.Breakdown[key].Findings, ag.Findings...)
	}
	return r
}

func matchCategory(breakdown map[string]*CategoryResult, cat string) (string, bool) {
	if _, ok := breakdown[cat]; ok {
		return cat, true
	}
	for k := range breakdown {
		if strings.EqualFold(k, cat) {
			return k, true
		}
	}
	return "", false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

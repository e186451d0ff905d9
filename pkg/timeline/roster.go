package timeline

import "strings"

// AgentProfile is the default display metadata of a known agent.
type AgentProfile struct {
	DisplayName string
	Icon        string
	Color       string
	Category    string
}

// DefaultAgentProfile is used for agents missing from the roster.
var DefaultAgentProfile = AgentProfile{Icon: "🤖", Color: "#888888", Category: "Analysis"}

var roster = map[string]AgentProfile{
	"TechnicianBot":  {DisplayName: "Technician", Icon: "📊", Color: "#00D4FF", Category: "Technical"},
	"SecurityBot":    {DisplayName: "Security", Icon: "🔒", Color: "#FF6B6B", Category: "Safety"},
	"TokenomicsBot":  {DisplayName: "Tokenomics", Icon: "💰", Color: "#FFD700", Category: "Tokenomics"},
	"SocialBot":      {DisplayName: "Social", Icon: "🐦", Color: "#6B46C1", Category: "Social"},
	"MacroBot":       {DisplayName: "Macro", Icon: "🌍", Color: "#00D4AA", Category: "Macro"},
	"ScamBot":        {DisplayName: "Scam Detector", Icon: "🚨", Color: "#FF0055", Category: "Safety"},
	"DevilsAdvocate": {DisplayName: "Devil's Advocate", Icon: "😈", Color: "#FF4444", Category: "Debate"},
	"WhaleTracker":   {DisplayName: "Whale Tracker", Icon: "🐋", Color: "#00BFFF", Category: "On-chain"},
}

// LookupAgentProfile returns the roster entry for id. Unknown agents get
// DefaultAgentProfile with the id as display name.
func LookupAgentProfile(id string) (AgentProfile, bool) {
	if p, ok := roster[id]; ok {
		return p, true
	}
	for name, p := range roster {
		if strings.EqualFold(name, id) {
			return p, true
		}
	}
	p := DefaultAgentProfile
	p.DisplayName = id
	return p, false
}

// GradeForScore maps a 0-10 score to a letter grade. Scores above 10 are
// taken to be on a 0-100 scale.
func GradeForScore(score float64) string {
	s := normalizeScore(score)
	switch {
	case s >= 9:
		return "A+"
	case s >= 8:
		return "A"
	case s >= 7:
		return "B"
	case s >= 6:
		return "C"
	case s >= 4:
		return "D"
	default:
		return "F"
	}
}

// RiskLevel maps a score to LOW, MEDIUM, HIGH or CRITICAL.
func RiskLevel(score float64) string {
	s := normalizeScore(score)
	switch {
	case s >= 8:
		return "LOW"
	case s >= 6:
		return "MEDIUM"
	case s >= 4:
		return "HIGH"
	default:
		return "CRITICAL"
	}
}

func normalizeScore(score float64) float64 {
	if score > 10 {
		return score / 10
	}
	return score
}

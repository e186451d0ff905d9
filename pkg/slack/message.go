package slack

import (
	"fmt"
	"strings"

	goslack "github.com/slack-go/slack"
)

const (
	maxBlockTextLength = 2900
	maxListedFindings  = 5
)

var riskEmoji = map[string]string{
	"LOW":      ":large_green_circle:",
	"MEDIUM":   ":large_yellow_circle:",
	"HIGH":     ":large_orange_circle:",
	"CRITICAL": ":red_circle:",
}

func sessionURL(sessionID, dashboardURL string) string {
	return fmt.Sprintf("%s/sessions/%s", dashboardURL, sessionID)
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func tokenLabel(name, address, chain string) string {
	if name != "" {
		return fmt.Sprintf("*%s* (`%s` on %s)", name, shortAddress(address), chain)
	}
	return fmt.Sprintf("`%s` on %s", shortAddress(address), chain)
}

func markdownSection(text string) *goslack.SectionBlock {
	return goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
		nil, nil,
	)
}

// VerdictFallback is the plain-text body of a verdict message. It starts
// with the token fingerprint.
func VerdictFallback(input VerdictInput) string {
	return fmt.Sprintf("%s | grade %s | score %.1f/10 | %s risk",
		Fingerprint(input.Chain, input.TokenAddress), input.Grade, input.Score, input.RiskLevel)
}

// BuildVerdictMessage creates Block Kit blocks for a finished scan.
func BuildVerdictMessage(input VerdictInput, dashboardURL string) []goslack.Block {
	emoji := riskEmoji[input.RiskLevel]
	if emoji == "" {
		emoji = ":question:"
	}

	header := fmt.Sprintf("%s *Verdict %s* | %.1f/10 | %s risk\n%s",
		emoji, input.Grade, input.Score, input.RiskLevel,
		tokenLabel(input.TokenName, input.TokenAddress, input.Chain))
	if input.Cached {
		header += "\n_Replayed from a recent scan_"
	}

	blocks := []goslack.Block{markdownSection(header)}

	var meta []string
	if input.AgentCount > 0 {
		meta = append(meta, fmt.Sprintf("%d agents", input.AgentCount))
	}
	if input.DurationMs > 0 {
		meta = append(meta, fmt.Sprintf("%.1fs", float64(input.DurationMs)/1000))
	}
	if input.Debates > 0 {
		meta = append(meta, fmt.Sprintf("%d debates", input.Debates))
	}
	if len(meta) > 0 {
		blocks = append(blocks, goslack.NewContextBlock("",
			goslack.NewTextBlockObject(goslack.MarkdownType, strings.Join(meta, " · "), false, false)))
	}

	if len(input.CriticalFindings) > 0 {
		var b strings.Builder
		b.WriteString("*Critical findings*\n")
		for i, f := range input.CriticalFindings {
			if i == maxListedFindings {
				fmt.Fprintf(&b, "_and %d more_\n", len(input.CriticalFindings)-maxListedFindings)
				break
			}
			fmt.Fprintf(&b, "• %s\n", f)
		}
		blocks = append(blocks, markdownSection(truncateForSlack(strings.TrimRight(b.String(), "\n"))))
	}

	if input.Narrative != "" {
		blocks = append(blocks, markdownSection(truncateForSlack(input.Narrative)))
	}

	btn := goslack.NewButtonBlockElement("", "",
		goslack.NewTextBlockObject(goslack.PlainTextType, "View Scan", false, false))
	btn.URL = sessionURL(input.SessionID, dashboardURL)
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

// BuildScanFailedMessage creates Block Kit blocks for a scan that ended in
// scan:error.
func BuildScanFailedMessage(input ScanFailedInput, dashboardURL string) []goslack.Block {
	emoji := ":x:"
	if input.Code == "TIMEOUT" {
		emoji = ":hourglass:"
	}
	text := fmt.Sprintf("%s *Scan failed* (%s)\n%s", emoji, input.Code,
		tokenLabel("", input.TokenAddress, input.Chain))
	if input.Message != "" {
		text += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(input.Message))
	}

	btn := goslack.NewButtonBlockElement("", "",
		goslack.NewTextBlockObject(goslack.PlainTextType, "View Details", false, false))
	btn.URL = sessionURL(input.SessionID, dashboardURL)

	return []goslack.Block{markdownSection(text), goslack.NewActionBlock("", btn)}
}

// BuildOnchainMessage creates the threaded reply announcing the on-chain
// verdict record.
func BuildOnchainMessage(input OnchainInput) []goslack.Block {
	text := fmt.Sprintf(":link: *Verdict recorded on-chain* (%s)", input.Network)
	if input.ExplorerURL != "" {
		text += fmt.Sprintf("\n<%s|View transaction>", input.ExplorerURL)
	} else {
		text += fmt.Sprintf("\n`%s`", input.TxSignature)
	}
	return []goslack.Block{markdownSection(text)}
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated, view the full scan in the dashboard)_"
}

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/verdictswarm/director/pkg/events"
	"github.com/verdictswarm/director/pkg/timeline"
)

// quickScanResponse is the envelope of GET /v1/scan/{address}.
type quickScanResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type categoryScore struct {
	Score   float64 `json:"score"`
	Summary string  `json:"summary"`
}

type botVerdict struct {
	Score     float64 `json:"score"`
	Sentiment string  `json:"sentiment"`
	Category  string  `json:"category"`
	Reasoning string  `json:"reasoning"`
}

type freeTierResult struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason"`
	Label   string `json:"label"`
}

// quickScanResult is the data section of a quick-scan response.
type quickScanResult struct {
	Address        string                   `json:"address"`
	Chain          string                   `json:"chain"`
	Tier           string                   `json:"tier"`
	Score          *float64                 `json:"score"`
	RiskLevel      string                   `json:"risk_level"`
	Flags          []string                 `json:"flags"`
	Analysis       map[string]categoryScore `json:"analysis"`
	Bots           map[string]botVerdict    `json:"bots"`
	FreeTierResult *freeTierResult          `json:"free_tier_result"`
}

func (c *Client) pollURL(req Request) string {
	q := url.Values{}
	if req.Chain != "" {
		q.Set("chain", req.Chain)
	}
	q.Set("tier", strings.ToUpper(firstNonEmpty(req.Tier, c.cfg.Tier)))
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/scan/" + url.PathEscape(req.Address) + "?" + q.Encode()
}

// runPoll asks the quick-scan endpoint for a verdict every PollInterval
// until one arrives or PollTimeout passes, then delivers it as events.
func (c *Client) runPoll(ctx context.Context, r *run) error {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	var result *quickScanResult
	op := func() error {
		res, err := c.fetchQuickScan(pctx, r.req)
		if err != nil {
			return err
		}
		result = res
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.recordError(err)
		c.logger.Debug("Quick scan poll failed", "address", r.req.Address, "next", next, "error", err)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.cfg.PollInterval), pctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return fmt.Errorf("polling: %w", err)
	}

	for _, ev := range synthesizeEvents(result, r.req, r.delivered(), nowMillis()) {
		r.emit(c, ev)
	}
	return nil
}

func (c *Client) fetchQuickScan(ctx context.Context, req Request) (*quickScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pollURL(req), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	default:
		// Auth and validation failures will not fix themselves.
		return nil, backoff.Permanent(fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode))
	}

	var envelope quickScanResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode quick scan response: %w", err)
	}
	if !envelope.Success {
		msg := "unsuccessful response"
		if envelope.Error != nil {
			msg = envelope.Error.Code + ": " + envelope.Error.Message
		}
		return nil, errors.New(msg)
	}

	var result quickScanResult
	if err := json.Unmarshal(envelope.Data, &result); err != nil {
		return nil, fmt.Errorf("decode quick scan result: %w", err)
	}
	return &result, nil
}

// synthesizeEvents turns a quick-scan verdict into the tail of a scan
// stream. scan:start is only sent when nothing was delivered before, so
// a partially streamed timeline does not move back to the scanning phase.
func synthesizeEvents(res *quickScanResult, req Request, delivered bool, ts int64) []events.RawEvent {
	var out []events.RawEvent
	add := func(typ string, payload any) {
		if ev, err := events.NewRawEvent(typ, payload, ts); err == nil {
			out = append(out, ev)
		}
	}

	if res.Score == nil {
		msg := "No numeric verdict available for this tier"
		if res.FreeTierResult != nil && res.FreeTierResult.Reason != "" {
			msg += ": " + res.FreeTierResult.Reason
		}
		add(events.EventTypeScanError, events.ScanErrorPayload{
			Message: msg,
			Code:    events.ErrorCodeAPIError,
			Tier:    res.Tier,
		})
		return out
	}

	names := make([]string, 0, len(res.Bots))
	for name := range res.Bots {
		names = append(names, name)
	}
	sort.Strings(names)

	if !delivered {
		agents := make([]events.AgentInfo, 0, len(names))
		for _, name := range names {
			agents = append(agents, events.AgentInfo{
				ID:       name,
				Name:     name,
				Phase:    1,
				Category: res.Bots[name].Category,
			})
		}
		add(events.EventTypeScanStart, events.ScanStartPayload{
			TokenAddress: firstNonEmpty(res.Address, req.Address),
			Chain:        firstNonEmpty(res.Chain, req.Chain),
			AgentCount:   len(agents),
			Agents:       agents,
		})
	}

	for _, name := range names {
		bot := res.Bots[name]
		score := bot.Score
		add(events.EventTypeAgentComplete, events.AgentCompletePayload{
			AgentID:   name,
			AgentName: name,
			Category:  bot.Category,
			Score:     &score,
			Reasoning: bot.Reasoning,
		})
	}

	breakdown := make(map[string]events.CategoryBreakdown, len(res.Analysis))
	for cat, s := range res.Analysis {
		breakdown[cat] = events.CategoryBreakdown{Score: s.Score, Summary: s.Summary}
	}
	add(events.EventTypeScanComplete, events.ScanCompletePayload{
		Score:      *res.Score,
		Grade:      timeline.GradeForScore(*res.Score),
		Breakdown:  breakdown,
		AgentCount: len(names),
	})
	return out
}

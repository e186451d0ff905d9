package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/verdictswarm/director/pkg/events"
)

var errNoRecording = errors.New("no stored recording")

// runStatic replays the newest stored recording of the target. When part
// of the live stream was already delivered only the recording's terminal
// events are replayed, so the timeline completes without duplicating the
// agent work it has already shown.
func (c *Client) runStatic(ctx context.Context, r *run) error {
	if c.static == nil {
		return errNoRecording
	}
	evs, err := c.static.LatestEvents(ctx, r.req)
	if err != nil {
		return fmt.Errorf("static: %w", err)
	}

	if r.delivered() {
		evs = terminalTail(evs)
	}
	if len(evs) == 0 {
		return errNoRecording
	}

	c.logger.Info("Replaying stored recording", "address", r.req.Address, "events", len(evs))
	for _, ev := range evs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.emit(c, ev)
	}
	return nil
}

// terminalTail returns the scan:consensus, terminal and verdict:onchain
// events of a recording.
func terminalTail(evs []events.RawEvent) []events.RawEvent {
	var out []events.RawEvent
	for _, ev := range evs {
		switch {
		case ev.Type == events.EventTypeScanConsensus,
			ev.Type == events.EventTypeVerdictOnchain,
			events.IsTerminalType(ev.Type):
			out = append(out, ev)
		}
	}
	return out
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/verdictswarm/director/pkg/events"
	"github.com/verdictswarm/director/pkg/version"
)

var (
	errStreamClosed = errors.New("stream closed before a terminal event")
	errIdleTimeout  = errors.New("stream idle timeout")
)

var userAgent = version.Full()

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func (c *Client) streamURL(req Request) string {
	q := url.Values{}
	q.Set("address", req.Address)
	if req.Chain != "" {
		q.Set("chain", req.Chain)
	}
	q.Set("depth", firstNonEmpty(req.Depth, c.cfg.Depth))
	q.Set("tier", firstNonEmpty(req.Tier, c.cfg.Tier))
	if req.Fresh {
		q.Set("fresh", "true")
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/api/scan/stream?" + q.Encode()
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInitial
	b.MaxInterval = c.cfg.ReconnectMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// runStream connects and reconnects until the stream ends cleanly after a
// terminal event. It gives up after MaxStreamErrors consecutive failed
// connections; a connection that delivered events resets the count.
func (c *Client) runStream(ctx context.Context, r *run) error {
	b := c.newBackOff()
	failures := 0
	serverRetry := time.Duration(0)

	for {
		received, retry, err := c.streamOnce(ctx, r)
		if retry > 0 {
			serverRetry = retry
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.terminal {
			// Anything after the verdict (verdict:onchain) is best effort.
			c.logger.Debug("Stream ended after terminal event", "error", err)
			return nil
		}

		c.recordError(err)
		if received > 0 {
			failures = 0
			b.Reset()
		}
		failures++
		if failures >= c.cfg.MaxStreamErrors {
			return fmt.Errorf("stream failed %d times: %w", failures, err)
		}

		wait := b.NextBackOff()
		if serverRetry > wait {
			wait = serverRetry
		}
		c.logger.Info("Reconnecting to scan stream",
			"address", r.req.Address,
			"attempt", failures,
			"last_event_id", r.lastID,
			"wait", wait,
			"error", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// streamOnce performs one connection. It returns nil only when the
// backend closed the stream after a terminal event.
func (c *Client) streamOnce(ctx context.Context, r *run) (received int, retry time.Duration, err error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var idle atomic.Bool
	timer := time.AfterFunc(c.cfg.StreamIdleTimeout, func() {
		idle.Store(true)
		cancel()
	})
	defer timer.Stop()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.streamURL(r.req), nil)
	if err != nil {
		return 0, 0, err
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if r.lastID != "" {
		httpReq.Header.Set("Last-Event-ID", r.lastID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if idle.Load() {
			return 0, 0, errIdleTimeout
		}
		return 0, 0, fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	dec := events.NewDecoder(&idleReader{r: resp.Body, timer: timer, timeout: c.cfg.StreamIdleTimeout})
	for {
		msg, err := dec.Next()
		retry = dec.Retry()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return received, retry, ctx.Err()
			case idle.Load():
				err = errIdleTimeout
			case errors.Is(err, io.EOF):
				if r.terminal {
					return received, retry, nil
				}
				err = errStreamClosed
			}
			return received, retry, err
		}

		ev, convErr := events.ToRawEvent(msg, time.Now())
		if convErr != nil {
			c.logger.Debug("Dropping malformed stream message", "event", msg.Event, "error", convErr)
			continue
		}
		if msg.ID != "" {
			r.lastID = msg.ID
		}
		received++
		r.emit(c, ev)
	}
}

// idleReader pushes back the idle deadline whenever bytes arrive, keep-alive
// comments included.
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

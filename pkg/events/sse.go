package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedEvent is returned by ToRawEvent when an SSE message cannot be
// turned into a RawEvent. Callers drop such messages and keep reading.
var ErrMalformedEvent = errors.New("malformed event")

// Message is one dispatched SSE message.
type Message struct {
	Event string
	Data  string
	ID    string
	Retry time.Duration
}

// Decoder reads SSE messages from a long-lived stream.
// It reads line by line with no line length limit and dispatches a
// message on every blank line, following the EventSource parsing rules.
type Decoder struct {
	r *bufio.Reader

	// lastID and retry persist across messages, as the EventSource
	// last-event-id buffer and reconnection time do.
	lastID string
	retry  time.Duration
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// LastEventID returns the id of the most recently dispatched message.
func (d *Decoder) LastEventID() string {
	return d.lastID
}

// Retry returns the last reconnection delay requested by the server,
// or zero if none was sent.
func (d *Decoder) Retry() time.Duration {
	return d.retry
}

// Next blocks until a full message has been read. It returns io.EOF when
// the stream ends; a partially read message at EOF is discarded.
func (d *Decoder) Next() (Message, error) {
	var (
		msg     Message
		data    strings.Builder
		hasData bool
	)
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return Message{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !hasData {
				// Keep-alives and id-only blocks do not dispatch.
				msg = Message{}
				continue
			}
			msg.Data = data.String()
			msg.ID = d.lastID
			msg.Retry = d.retry
			return msg, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			msg.Event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				d.lastID = value
			}
		case "retry":
			if ms, convErr := strconv.Atoi(value); convErr == nil && ms >= 0 {
				d.retry = time.Duration(ms) * time.Millisecond
			}
		}

		if err == io.EOF {
			return Message{}, io.EOF
		}
	}
}

// ToRawEvent converts an SSE message into a RawEvent. The event name
// becomes the type tag and the data must be a JSON value. The id is used
// as the timestamp when it is numeric (the backend uses Unix ms ids);
// otherwise now is used.
func ToRawEvent(msg Message, now time.Time) (RawEvent, error) {
	eventType := msg.Event
	if eventType == "" {
		eventType = "message"
	}
	data := bytes.TrimSpace([]byte(msg.Data))
	if !json.Valid(data) {
		return RawEvent{}, fmt.Errorf("%w: %s: data is not valid JSON", ErrMalformedEvent, eventType)
	}

	ts := now.UnixMilli()
	if n, err := strconv.ParseInt(msg.ID, 10, 64); err == nil && n > 0 {
		ts = n
	}

	return RawEvent{
		Type:      eventType,
		Data:      json.RawMessage(data),
		Timestamp: ts,
		ID:        msg.ID,
	}, nil
}

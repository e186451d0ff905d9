package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// LogWriter writes RawEvents as JSON lines, the format written by
// directorctl watch --record and read by directorctl replay.
type LogWriter struct {
	w   *bufio.Writer
	enc *json.Encoder
}

// NewLogWriter creates a LogWriter on w. Call Flush when done.
func NewLogWriter(w io.Writer) *LogWriter {
	bw := bufio.NewWriter(w)
	return &LogWriter{w: bw, enc: json.NewEncoder(bw)}
}

// Write appends one event.
func (lw *LogWriter) Write(ev RawEvent) error {
	if err := lw.enc.Encode(ev); err != nil {
		return fmt.Errorf("write event %s: %w", ev.Type, err)
	}
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (lw *LogWriter) Flush() error {
	return lw.w.Flush()
}

// LogReader reads RawEvents from a JSON lines stream.
type LogReader struct {
	r    *bufio.Reader
	line int
}

// NewLogReader creates a LogReader on r.
func NewLogReader(r io.Reader) *LogReader {
	return &LogReader{r: bufio.NewReader(r)}
}

// Next returns the next event, skipping blank lines. It returns io.EOF at
// the end of the stream. A line that is not a valid event yields an error
// wrapping ErrMalformedEvent; the reader stays usable after it.
func (lr *LogReader) Next() (RawEvent, error) {
	for {
		line, err := lr.r.ReadBytes('\n')
		if err != nil && (err != io.EOF || len(line) == 0) {
			return RawEvent{}, err
		}
		lr.line++
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err == io.EOF {
				return RawEvent{}, io.EOF
			}
			continue
		}

		var ev RawEvent
		if uerr := json.Unmarshal(line, &ev); uerr != nil {
			return RawEvent{}, fmt.Errorf("%w: line %d: %v", ErrMalformedEvent, lr.line, uerr)
		}
		if ev.Type == "" {
			return RawEvent{}, fmt.Errorf("%w: line %d: missing type", ErrMalformedEvent, lr.line)
		}
		return ev, nil
	}
}

// ReadLog reads every well-formed event from r. Malformed lines are
// skipped and counted.
func ReadLog(r io.Reader) (evs []RawEvent, skipped int, err error) {
	lr := NewLogReader(r)
	for {
		ev, err := lr.Next()
		switch {
		case err == io.EOF:
			return evs, skipped, nil
		case err != nil && isMalformed(err):
			skipped++
			continue
		case err != nil:
			return evs, skipped, err
		}
		evs = append(evs, ev)
	}
}

func isMalformed(err error) bool {
	return errors.Is(err, ErrMalformedEvent)
}

package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/parlowe/omni/core"
)

// Format identifies the wire stream encoding.
type Format int

const (
	FormatSSE Format = iota
	FormatNDJSON
)

// ErrMissingTerminal reports a stream that ended without a done or
// error event.
var ErrMissingTerminal = errors.New("stream ended without terminal event")

// ErrEventAfterTerminal reports a frame received after the terminal
// event; the contract requires the terminal event to be last.
var ErrEventAfterTerminal = errors.New("event received after terminal event")

// Reader consumes SSE or NDJSON wire streams and decodes StreamEvents,
// enforcing the terminal-event contract as it goes.
type Reader struct {
	source   io.ReadCloser
	format   Format
	decoder  *json.Decoder
	scanner  *bufio.Reader
	terminal bool
	done     bool
}

// NewReader constructs a reader for the given format.
func NewReader(r io.ReadCloser, format Format) *Reader {
	reader := &Reader{source: r, format: format}
	if format == FormatNDJSON {
		reader.decoder = json.NewDecoder(r)
	} else {
		reader.scanner = bufio.NewReader(r)
	}
	return reader
}

// Read returns the next event. After the terminal event it returns
// io.EOF on a clean end of stream, ErrEventAfterTerminal if more frames
// arrive, and ErrMissingTerminal if the stream ends without one.
func (r *Reader) Read() (core.StreamEvent, error) {
	if r.done {
		return core.StreamEvent{}, io.EOF
	}
	raw, err := r.nextRaw()
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.done = true
			if !r.terminal {
				return core.StreamEvent{}, ErrMissingTerminal
			}
		}
		return core.StreamEvent{}, err
	}
	var event core.StreamEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return core.StreamEvent{}, fmt.Errorf("decode stream event: %w", err)
	}
	if r.terminal {
		return core.StreamEvent{}, ErrEventAfterTerminal
	}
	if event.Type == core.EventDone || event.Type == core.EventError {
		r.terminal = true
	}
	return event, nil
}

func (r *Reader) nextRaw() ([]byte, error) {
	switch r.format {
	case FormatNDJSON:
		var raw json.RawMessage
		if err := r.decoder.Decode(&raw); err != nil {
			return nil, err
		}
		return raw, nil
	case FormatSSE:
		return r.readSSE()
	default:
		return nil, fmt.Errorf("unsupported format %d", r.format)
	}
}

func (r *Reader) readSSE() ([]byte, error) {
	var data bytes.Buffer
	for {
		line, err := r.scanner.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && data.Len() == 0 {
				return nil, io.EOF
			}
			if errors.Is(err, io.EOF) {
				// An unterminated event means the payload was truncated.
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if data.Len() == 0 {
				continue
			}
			return data.Bytes(), nil
		}
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(payload)
		}
	}
}

// Close releases the underlying reader.
func (r *Reader) Close() error {
	r.done = true
	if r.source != nil {
		return r.source.Close()
	}
	return nil
}

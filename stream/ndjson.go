// Package stream writes core.Stream events to wire transports: NDJSON
// and SSE over HTTP responses, and JSON frames over WebSocket
// connections. Every writer emits one JSON object per frame; the
// stream's single terminal event is the last frame written.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/parlowe/omni/core"
)

// NDJSON streams events as newline-delimited JSON until the stream
// closes, then returns its terminal error.
func NDJSON(w http.ResponseWriter, s *core.Stream) error {
	return NDJSONWithPolicy(w, s, Policy{})
}

// NDJSONWithPolicy streams events honouring the provided Policy.
func NDJSONWithPolicy(w http.ResponseWriter, s *core.Stream, policy Policy) error {
	if w != nil {
		headers := w.Header()
		headers.Set("Content-Type", "application/x-ndjson")
		headers.Set("Cache-Control", "no-cache")
	}
	writer := NewNDJSONWriter(w)
	for event := range s.Events() {
		filtered, ok := filterEvent(policy, event)
		if !ok {
			continue
		}
		if err := writer.Write(filtered); err != nil {
			return err
		}
	}
	return s.Err()
}

// NDJSONWriter serialises events to newline-delimited JSON.
type NDJSONWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
	w       http.ResponseWriter
}

// NewNDJSONWriter builds a writer for NDJSON payloads.
func NewNDJSONWriter(w http.ResponseWriter) *NDJSONWriter {
	return &NDJSONWriter{
		encoder: json.NewEncoder(w),
		w:       w,
	}
}

// Write emits the provided event as a JSON line.
func (w *NDJSONWriter) Write(event core.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.encoder.Encode(event); err != nil {
		return err
	}
	if flusher, ok := w.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

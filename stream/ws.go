package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parlowe/omni/core"
)

const wsWriteTimeout = 10 * time.Second

// WebSocket relays a core.Stream over a WebSocket connection, one JSON
// text frame per event, and sends a close frame once the stream ends.
// A write failure (caller disconnected) closes the stream so producers
// stop promptly.
func WebSocket(conn *websocket.Conn, s *core.Stream) error {
	return WebSocketWithPolicy(conn, s, Policy{})
}

// WebSocketWithPolicy relays events honouring the provided Policy.
func WebSocketWithPolicy(conn *websocket.Conn, s *core.Stream, policy Policy) error {
	writer := NewWSWriter(conn)
	for event := range s.Events() {
		filtered, ok := filterEvent(policy, event)
		if !ok {
			continue
		}
		if err := writer.Write(filtered); err != nil {
			_ = s.Close()
			return err
		}
	}
	writer.CloseNormal()
	return s.Err()
}

// WSWriter serialises events as JSON text frames on one connection.
// gorilla/websocket permits a single concurrent writer, so all writes
// go through the mutex.
type WSWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSWriter builds a writer for the given connection.
func NewWSWriter(conn *websocket.Conn) *WSWriter {
	return &WSWriter{conn: conn}
}

// Write emits one event as a JSON text frame.
func (w *WSWriter) Write(event core.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(event)
}

// CloseNormal sends a normal-closure close frame. Errors are ignored;
// the peer may already be gone.
func (w *WSWriter) CloseNormal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

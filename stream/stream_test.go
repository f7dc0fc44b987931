package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/parlowe/omni/core"
)

func TestNDJSONWriter(t *testing.T) {
	stream := core.NewStream(context.Background(), 4)
	recorder := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() { done <- NDJSON(recorder, stream) }()
	stream.Push(core.ChunkEvent("hello"))
	stream.Finish()
	if err := <-done; err != nil {
		t.Fatalf("ndjson error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(recorder.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var event core.StreamEvent
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if event.Type != core.EventChunk || event.Content != "hello" {
		t.Fatalf("unexpected first event %+v", event)
	}
	var terminal core.StreamEvent
	if err := json.Unmarshal([]byte(lines[1]), &terminal); err != nil {
		t.Fatalf("decode terminal: %v", err)
	}
	if terminal.Type != core.EventDone {
		t.Fatalf("expected done last, got %q", terminal.Type)
	}
}

func TestSSEWithPolicyDropsStatus(t *testing.T) {
	stream := core.NewStream(context.Background(), 4)
	recorder := httptest.NewRecorder()
	done := make(chan error, 1)

	go func() {
		done <- SSEWithPolicy(recorder, stream, Policy{DropStatus: true})
	}()

	stream.Push(core.StatusEvent("Searching the web..."))
	stream.Push(core.ChunkEvent("result"))
	stream.Finish()

	if err := <-done; err != nil {
		t.Fatalf("sse error: %v", err)
	}

	body := recorder.Body.String()
	if strings.Contains(body, "status") {
		t.Fatalf("expected status events filtered, got %s", body)
	}
	if strings.Count(body, "\n\n") != 2 {
		t.Fatalf("expected two events, got %q", body)
	}
}

func TestMaskErrors(t *testing.T) {
	stream := core.NewStream(context.Background(), 4)
	recorder := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() { done <- SSEWithPolicy(recorder, stream, Policy{MaskErrors: true}) }()
	stream.Fail(errors.New("api key sk-secret was rejected"))
	if err := <-done; err == nil {
		t.Fatal("expected terminal error returned")
	}
	body := recorder.Body.String()
	if strings.Contains(body, "sk-secret") {
		t.Fatalf("error detail leaked: %q", body)
	}
	if !strings.Contains(body, maskedErrorMessage) {
		t.Fatalf("expected masked message, got %q", body)
	}
}

func TestReaderNDJSONTerminalContract(t *testing.T) {
	payload := `{"type":"chunk","content":"4"}` + "\n" + `{"type":"done"}` + "\n"
	r := NewReader(io.NopCloser(strings.NewReader(payload)), FormatNDJSON)

	event, err := r.Read()
	if err != nil {
		t.Fatalf("read chunk: %v", err)
	}
	if event.Type != core.EventChunk || event.Content != "4" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event, err = r.Read(); err != nil || event.Type != core.EventDone {
		t.Fatalf("read done: %+v %v", event, err)
	}
	if _, err = r.Read(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReaderSSE(t *testing.T) {
	data := "data: {\"type\":\"chunk\",\"content\":\"a\"}\n\n" +
		"data: {\"type\":\"done\"}\n\n"
	r := NewReader(io.NopCloser(strings.NewReader(data)), FormatSSE)
	if _, err := r.Read(); err != nil {
		t.Fatalf("read chunk: %v", err)
	}
	if _, err := r.Read(); err != nil {
		t.Fatalf("read done: %v", err)
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReaderMissingTerminal(t *testing.T) {
	payload := `{"type":"chunk","content":"partial"}` + "\n"
	r := NewReader(io.NopCloser(strings.NewReader(payload)), FormatNDJSON)
	if _, err := r.Read(); err != nil {
		t.Fatalf("read chunk: %v", err)
	}
	if _, err := r.Read(); !errors.Is(err, ErrMissingTerminal) {
		t.Fatalf("expected ErrMissingTerminal, got %v", err)
	}
}

func TestReaderEventAfterTerminal(t *testing.T) {
	payload := `{"type":"done"}` + "\n" + `{"type":"chunk","content":"late"}` + "\n"
	r := NewReader(io.NopCloser(strings.NewReader(payload)), FormatNDJSON)
	if _, err := r.Read(); err != nil {
		t.Fatalf("read done: %v", err)
	}
	if _, err := r.Read(); !errors.Is(err, ErrEventAfterTerminal) {
		t.Fatalf("expected ErrEventAfterTerminal, got %v", err)
	}
}

func TestWebSocketRelay(t *testing.T) {
	upgrader := websocket.Upgrader{}
	served := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			served <- err
			return
		}
		defer conn.Close()

		stream := core.NewStream(r.Context(), 4)
		stream.Push(core.ChunkEvent("4"))
		stream.Finish()
		served <- WebSocket(conn, stream)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var events []core.StreamEvent
	for {
		var ev core.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			t.Fatalf("read frame: %v", err)
		}
		events = append(events, ev)
	}
	if err := <-served; err != nil {
		t.Fatalf("server relay: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected chunk + done frames, got %d", len(events))
	}
	if events[0].Type != core.EventChunk || events[0].Content != "4" {
		t.Fatalf("unexpected first frame %+v", events[0])
	}
	if events[1].Type != core.EventDone {
		t.Fatalf("expected done frame last, got %+v", events[1])
	}
}

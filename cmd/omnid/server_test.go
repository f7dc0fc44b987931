package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	omni "github.com/parlowe/omni"
	"github.com/parlowe/omni/core"
)

func TestHandleNDJSONUnknownModel(t *testing.T) {
	client := omni.NewClient(omni.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	srv := httptest.NewServer(newServer(client, slog.Default()).routes())
	defer srv.Close()

	body := `{"messages":[{"role":"user","content":"hi"}],"model":"demo-model"}`
	resp, err := http.Post(srv.URL+"/v1/process", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var events []core.StreamEvent
	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var ev core.StreamEvent
		if err := dec.Decode(&ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		events = append(events, ev)
	}
	if len(events) != 1 {
		t.Fatalf("expected single error event, got %d", len(events))
	}
	if events[0].Type != core.EventError {
		t.Fatalf("expected error event, got %+v", events[0])
	}
	if !strings.Contains(events[0].Message, "demo-model") {
		t.Fatalf("error message should name the model: %q", events[0].Message)
	}
}

func TestHandleHealth(t *testing.T) {
	client := omni.NewClient()
	srv := httptest.NewServer(newServer(client, slog.Default()).routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

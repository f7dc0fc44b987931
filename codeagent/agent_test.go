package codeagent

import (
	"context"
	"strings"
	"testing"

	"github.com/parlowe/omni/core"
)

type stubGenerator struct {
	text    string
	lastReq core.Request
}

func (s *stubGenerator) GenerateText(_ context.Context, req core.Request) (*core.TextResult, error) {
	s.lastReq = req
	return &core.TextResult{Text: s.text, Model: "stub-model", Provider: "stub"}, nil
}

func drain(t *testing.T, stream *core.Stream) []core.StreamEvent {
	t.Helper()
	stream.Finish()
	var events []core.StreamEvent
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	return events
}

func TestAgentRunEditEmitsFileEdits(t *testing.T) {
	gen := &stubGenerator{text: "File: main.go\npackage main\n\nfunc main() { fixed() }\n"}
	agent := New(gen, WithEmitDelay(0))
	stream := core.NewStream(context.Background(), 16)

	summary, err := agent.Run(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("fix the bug in main")},
		Files:    []core.FileContext{{Path: "main.go", Content: "package main"}},
	}, stream)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary != gen.text {
		t.Fatalf("summary = %q, want raw response", summary)
	}

	events := drain(t, stream)
	if len(events) != 2 {
		t.Fatalf("expected file_edit + done, got %d events", len(events))
	}
	if events[0].Type != core.EventFileEdit || events[0].Path != "main.go" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	if events[0].Language != "go" {
		t.Fatalf("expected language go, got %q", events[0].Language)
	}
}

func TestAgentRunCreateEmitsFileCreates(t *testing.T) {
	gen := &stubGenerator{text: "```go\n// server.go\npackage server\n```\n```python\nprint(1)\n```"}
	agent := New(gen, WithEmitDelay(0))
	stream := core.NewStream(context.Background(), 16)

	if _, err := agent.Run(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("create a server package")},
	}, stream); err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := drain(t, stream)
	if len(events) != 3 {
		t.Fatalf("expected two file_create + done, got %d events", len(events))
	}
	if events[0].Type != core.EventFileCreate || events[0].Path != "server.go" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Path != "new_file_1.py" {
		t.Fatalf("expected placeholder path, got %q", events[1].Path)
	}
}

func TestAgentRunAnalyzeEmitsChunk(t *testing.T) {
	gen := &stubGenerator{text: "The loop leaks a goroutine."}
	agent := New(gen, WithEmitDelay(0))
	stream := core.NewStream(context.Background(), 16)

	if _, err := agent.Run(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("review this code")},
		Files:    []core.FileContext{{Path: "main.go", Content: "package main"}},
	}, stream); err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := drain(t, stream)
	if len(events) != 2 {
		t.Fatalf("expected chunk + done, got %d events", len(events))
	}
	if events[0].Type != core.EventChunk || events[0].Content != gen.text {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestAgentPromptCarriesFileContext(t *testing.T) {
	gen := &stubGenerator{text: "File: a.go\nok\n"}
	agent := New(gen, WithEmitDelay(0))
	stream := core.NewStream(context.Background(), 16)

	if _, err := agent.Run(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("edit a.go")},
		Files:    []core.FileContext{{Path: "a.go", Content: "package a"}},
	}, stream); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stream.Finish()

	if len(gen.lastReq.Messages) != 2 {
		t.Fatalf("expected system + user message, got %d", len(gen.lastReq.Messages))
	}
	user := gen.lastReq.Messages[1].Content
	for _, want := range []string{"File: a.go", "package a", "edit a.go"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/parlowe/omni/core"
	"github.com/parlowe/omni/tts"
)

type stubProvider struct {
	chunks    []string
	streamErr error
	genText   string
	vision    bool
}

func (p *stubProvider) GenerateText(ctx context.Context, req core.Request) (*core.TextResult, error) {
	return &core.TextResult{Text: p.genText, Model: req.Model, Provider: "stub"}, nil
}

func (p *stubProvider) StreamText(ctx context.Context, req core.Request) (*core.Stream, error) {
	s := core.NewStream(ctx, len(p.chunks)+2)
	for _, c := range p.chunks {
		s.Push(core.ChunkEvent(c))
	}
	if p.streamErr != nil {
		s.Fail(p.streamErr)
	} else {
		_ = s.Close()
	}
	return s, nil
}

func (p *stubProvider) Available() bool { return true }

func (p *stubProvider) Capabilities() core.Capabilities {
	return core.Capabilities{Provider: "stub", Streaming: true, Vision: p.vision}
}

type stubSearcher struct {
	answer    string
	citations []string
}

func (s *stubSearcher) Search(ctx context.Context, query string) (*core.SearchResult, error) {
	return &core.SearchResult{Answer: s.answer, Citations: s.citations}, nil
}

func (s *stubSearcher) Available() bool { return true }

type stubSpeech struct {
	data []byte
}

func (s *stubSpeech) Synthesize(ctx context.Context, text string, opts tts.Options) (*tts.Audio, error) {
	return &tts.Audio{Data: s.data, Format: tts.FormatMP3}, nil
}

func (s *stubSpeech) Available() bool     { return true }
func (s *stubSpeech) Voices() []tts.Voice { return nil }

func collect(t *testing.T, stream *core.Stream) []core.StreamEvent {
	t.Helper()
	var events []core.StreamEvent
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	return events
}

func requireSingleTerminal(t *testing.T, events []core.StreamEvent, want core.EventType) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	last := events[len(events)-1]
	if last.Type != want {
		t.Fatalf("last event = %q, want %q", last.Type, want)
	}
	terminals := 0
	for _, ev := range events {
		if ev.Type == core.EventDone || ev.Type == core.EventError {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminals)
	}
}

func TestProcessChatEndToEnd(t *testing.T) {
	o := New(WithTextProvider(FamilyOpenAI, &stubProvider{chunks: []string{"4"}}))
	stream := core.NewStream(context.Background(), 16)

	fullText, err := o.Process(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("What is 2+2?")},
		Model:    "gpt-4o-mini",
		Mode:     core.ModeChat,
	}, stream)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if fullText != "4" {
		t.Fatalf("fullText = %q, want %q", fullText, "4")
	}

	events := collect(t, stream)
	requireSingleTerminal(t, events, core.EventDone)
	if events[0].Type != core.EventChunk || events[0].Content != "4" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
}

func TestProcessChatConcatEqualsFullText(t *testing.T) {
	chunks := []string{"Hel", "lo ", "wor", "ld"}
	o := New(WithTextProvider(FamilyAnthropic, &stubProvider{chunks: chunks}))
	stream := core.NewStream(context.Background(), 16)

	fullText, err := o.Process(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("hi")},
		Model:    "claude-3-5-haiku-20241022",
	}, stream)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	var got strings.Builder
	for _, ev := range collect(t, stream) {
		if ev.Type == core.EventChunk {
			got.WriteString(ev.Content)
		}
	}
	if got.String() != fullText {
		t.Fatalf("concat(chunks) = %q, fullText = %q", got.String(), fullText)
	}
}

func TestProcessUnknownModel(t *testing.T) {
	o := New(WithTextProvider(FamilyOpenAI, &stubProvider{}))
	stream := core.NewStream(context.Background(), 16)

	_, err := o.Process(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("hi")},
		Model:    "demo-model",
	}, stream)
	if !core.IsUnknownModel(err) {
		t.Fatalf("expected unknown_model error, got %v", err)
	}
	requireSingleTerminal(t, collect(t, stream), core.EventError)
}

func TestProcessUpstreamFailureEmitsSingleError(t *testing.T) {
	o := New(WithTextProvider(FamilyOpenAI, &stubProvider{
		chunks:    []string{"partial"},
		streamErr: errors.New("connection reset"),
	}))
	stream := core.NewStream(context.Background(), 16)

	_, err := o.Process(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("hi")},
		Model:    "gpt-4o",
	}, stream)
	if err == nil {
		t.Fatal("expected error")
	}

	events := collect(t, stream)
	requireSingleTerminal(t, events, core.EventError)
	if events[0].Type != core.EventChunk || events[0].Content != "partial" {
		t.Fatalf("partial chunk should remain visible, got %+v", events[0])
	}
}

func TestProcessSearchRechunkIdempotent(t *testing.T) {
	searcher := &stubSearcher{
		answer:    strings.Repeat("Go is a compiled language [1]. ", 6),
		citations: []string{"https://go.dev", "https://go.dev/doc"},
	}
	o := New(WithSearcher(searcher), WithChunkDelay(0), WithChunkSize(50))
	stream := core.NewStream(context.Background(), 64)

	fullText, err := o.Process(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("what is go")},
		Mode:     core.ModeSearch,
	}, stream)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.Contains(fullText, "[1] https://go.dev") {
		t.Fatalf("formatted text missing source list: %q", fullText)
	}

	events := collect(t, stream)
	requireSingleTerminal(t, events, core.EventDone)

	var got strings.Builder
	for _, ev := range events {
		if ev.Type == core.EventChunk {
			got.WriteString(ev.Content)
		}
	}
	if got.String() != fullText {
		t.Fatalf("concat(pieces) != formatted text\n got: %q\nwant: %q", got.String(), fullText)
	}
}

type recordingProvider struct {
	stubProvider
	requests []core.Request
}

func (p *recordingProvider) GenerateText(ctx context.Context, req core.Request) (*core.TextResult, error) {
	p.requests = append(p.requests, req)
	return p.stubProvider.GenerateText(ctx, req)
}

func TestProcessResearchForwardsSamplingParams(t *testing.T) {
	provider := &recordingProvider{stubProvider: stubProvider{genText: "findings"}}
	o := New(WithTextProvider(FamilyOpenAI, provider))
	stream := core.NewStream(context.Background(), 64)

	_, err := o.Process(context.Background(), core.Request{
		Messages:    []core.Message{core.UserMessage("why is the sky blue")},
		Model:       "gpt-4o",
		Mode:        core.ModeResearch,
		Temperature: 0.5,
		MaxTokens:   256,
	}, stream)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	collect(t, stream)

	if len(provider.requests) == 0 {
		t.Fatal("no generation calls recorded")
	}
	validation := float32(0.5) * 0.8
	for i, req := range provider.requests {
		if req.MaxTokens != 256 {
			t.Fatalf("call %d MaxTokens = %d, want 256", i, req.MaxTokens)
		}
		if req.Temperature != 0.5 && req.Temperature != validation {
			t.Fatalf("call %d Temperature = %v, want 0.5 or %v", i, req.Temperature, validation)
		}
	}
	if got := provider.requests[0].Temperature; got != 0.5 {
		t.Fatalf("first call Temperature = %v, want 0.5", got)
	}
}

func TestProcessVoiceEmitsSingleAudioEvent(t *testing.T) {
	o := New(
		WithTextProvider(FamilyOpenAI, &stubProvider{genText: "hello there"}),
		WithSpeech(&stubSpeech{data: []byte{1, 2, 3}}),
	)
	stream := core.NewStream(context.Background(), 16)

	fullText, err := o.Process(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("say hi")},
		Model:    "gpt-4o",
		Mode:     core.ModeVoice,
	}, stream)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if fullText != "hello there" {
		t.Fatalf("fullText = %q", fullText)
	}

	events := collect(t, stream)
	requireSingleTerminal(t, events, core.EventDone)
	var audio []core.StreamEvent
	for _, ev := range events {
		if ev.Type == core.EventChunk {
			t.Fatalf("voice mode must not forward chunks, got %+v", ev)
		}
		if ev.Type == core.EventAudio {
			audio = append(audio, ev)
		}
	}
	if len(audio) != 1 {
		t.Fatalf("expected exactly one audio event, got %d", len(audio))
	}
	if audio[0].Data != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Fatalf("unexpected audio payload %q", audio[0].Data)
	}
	if audio[0].Text != "hello there" {
		t.Fatalf("audio event missing source text: %+v", audio[0])
	}
}

func TestProcessVisionRequiresImageData(t *testing.T) {
	o := New(WithTextProvider(FamilyOpenAI, &stubProvider{vision: true}))
	stream := core.NewStream(context.Background(), 16)

	_, err := o.Process(context.Background(), core.Request{
		Messages: []core.Message{core.UserMessage("what is in this image?")},
		Model:    "gpt-4o",
		Mode:     core.ModeVision,
	}, stream)
	if !core.IsMissingImageData(err) {
		t.Fatalf("expected missing_image_data, got %v", err)
	}
	requireSingleTerminal(t, collect(t, stream), core.EventError)
}

func TestProcessVisionFallsBackToVisionProvider(t *testing.T) {
	o := New(
		WithTextProvider(FamilyAnthropic, &stubProvider{chunks: []string{"a cat"}}),
		WithTextProvider(FamilyOpenAI, &stubProvider{chunks: []string{"a dog"}, vision: true}),
	)
	stream := core.NewStream(context.Background(), 16)

	fullText, err := o.Process(context.Background(), core.Request{
		Messages: []core.Message{{Role: core.User, Content: "describe", ImageData: "aGk="}},
		Model:    "claude-3-5-haiku-20241022",
		Mode:     core.ModeVision,
	}, stream)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if fullText != "a dog" {
		t.Fatalf("expected vision-capable provider's answer, got %q", fullText)
	}
	requireSingleTerminal(t, collect(t, stream), core.EventDone)
}

func TestResolveModelFamily(t *testing.T) {
	cases := map[string]ModelFamily{
		"gpt-4o-mini":               FamilyOpenAI,
		"o4-mini":                   FamilyOpenAI,
		"claude-3-5-haiku-20241022": FamilyAnthropic,
		"sonar":                     FamilyPerplexity,
		"sonar-pro":                 FamilyPerplexity,
		"demo-model":                FamilyUnknown,
	}
	for model, want := range cases {
		if got := ResolveModelFamily(model); got != want {
			t.Errorf("ResolveModelFamily(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestRechunk(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 10)
	pieces := Rechunk(text, 7)
	if strings.Join(pieces, "") != text {
		t.Fatal("concatenated pieces do not reproduce the input")
	}
	for i, p := range pieces[:len(pieces)-1] {
		if n := len([]rune(p)); n != 7 {
			t.Fatalf("piece %d has %d runes, want 7", i, n)
		}
	}
	if Rechunk("", 10) != nil {
		t.Fatal("expected nil for empty input")
	}
}

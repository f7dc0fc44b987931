package research

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/parlowe/omni/core"
)

// scriptedGenerator replays canned responses in call order.
type scriptedGenerator struct {
	responses []string
	calls     []core.Request
}

func (g *scriptedGenerator) GenerateText(_ context.Context, req core.Request) (*core.TextResult, error) {
	g.calls = append(g.calls, req)
	if len(g.calls) > len(g.responses) {
		return nil, fmt.Errorf("unexpected call %d", len(g.calls))
	}
	return &core.TextResult{Text: g.responses[len(g.calls)-1]}, nil
}

func runPipeline(t *testing.T, gen Generator, opts ...Option) (*Result, []core.StreamEvent) {
	t.Helper()
	stream := core.NewStream(context.Background(), 128)
	result, err := New(gen, opts...).Run(context.Background(), "why is the sky blue?", stream)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	_ = stream.Close()
	var events []core.StreamEvent
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	return result, events
}

func TestPipelineRunFullFlow(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"A physics question about light scattering.",
		"1. What is Rayleigh scattering?\n2. Why does wavelength matter?",
		"Rayleigh scattering is...",
		"Shorter wavelengths scatter more...",
		"The findings are consistent.",
		"The sky is blue because shorter wavelengths scatter more.",
	}}

	result, events := runPipeline(t, gen)

	if len(gen.calls) != 6 {
		t.Fatalf("expected 6 generation calls, got %d", len(gen.calls))
	}
	if result.Answer != "The sky is blue because shorter wavelengths scatter more." {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	// 2 stage steps + 2 sub-answers + validation + synthesis.
	if len(result.Steps) != 6 {
		t.Fatalf("expected 6 recorded steps, got %d", len(result.Steps))
	}
	if result.Confidence != 95 {
		t.Fatalf("confidence = %d, want 95", result.Confidence)
	}

	var stepEvents, chunks, completes int
	for _, ev := range events {
		switch ev.Type {
		case core.EventResearchStep:
			stepEvents++
		case core.EventChunk:
			chunks++
		case core.EventResearchComplete:
			completes++
		}
	}
	// One step event per stage transition: analysis, decomposition, two
	// sub-questions, validation, synthesis.
	if stepEvents != 6 {
		t.Fatalf("expected 6 research_step events, got %d", stepEvents)
	}
	if chunks != 2 {
		t.Fatalf("expected one labeled chunk per sub-answer, got %d", chunks)
	}
	if completes != 1 {
		t.Fatalf("expected exactly one research_complete, got %d", completes)
	}
	last := events[len(events)-1]
	if last.Type != core.EventResearchComplete {
		t.Fatalf("research_complete must be the final pipeline event, got %q", last.Type)
	}
	if last.Confidence > 95 {
		t.Fatalf("confidence %d exceeds cap", last.Confidence)
	}
}

func TestPipelineZeroParsedSubQuestionsFallsBack(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"An astronomy question.",
		"I cannot split this question into parts.",
		"Answer to the original question.",
		"Consistent.",
		"Final answer.",
	}}

	result, events := runPipeline(t, gen)

	if len(gen.calls) != 5 {
		t.Fatalf("expected 5 calls with single fallback sub-question, got %d", len(gen.calls))
	}
	// The fallback sub-question is the original question verbatim.
	if !strings.Contains(gen.calls[2].Messages[0].Content, "why is the sky blue?") {
		t.Fatalf("fallback call should use original question: %q", gen.calls[2].Messages[0].Content)
	}
	if result.Confidence > 95 {
		t.Fatalf("confidence %d exceeds cap", result.Confidence)
	}
	var chunks int
	for _, ev := range events {
		if ev.Type == core.EventChunk {
			chunks++
		}
	}
	if chunks != 1 {
		t.Fatalf("expected exactly one sub-research chunk, got %d", chunks)
	}
}

func TestPipelineValidationRunsAtReducedTemperature(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"analysis", "1. only one", "sub answer", "validation", "synthesis",
	}}
	_, _ = runPipeline(t, gen, WithTemperature(1.0))

	validation := gen.calls[3]
	if validation.Temperature != 0.8 {
		t.Fatalf("validation temperature = %v, want 0.8", validation.Temperature)
	}
	if gen.calls[4].Temperature != 1.0 {
		t.Fatalf("synthesis temperature = %v, want 1.0", gen.calls[4].Temperature)
	}
}

func TestPipelineSubQuestionCap(t *testing.T) {
	var numbered strings.Builder
	for i := 1; i <= 8; i++ {
		fmt.Fprintf(&numbered, "%d. sub-question %d\n", i, i)
	}
	gen := &scriptedGenerator{responses: []string{
		"analysis", numbered.String(),
		"a1", "a2", "a3", "validation", "synthesis",
	}}
	_, _ = runPipeline(t, gen, WithMaxSubQuestions(3))

	if len(gen.calls) != 7 {
		t.Fatalf("expected cap at 3 sub-questions (7 calls), got %d", len(gen.calls))
	}
}

func TestParseSubQuestions(t *testing.T) {
	text := "Preamble line\n1. First question?\n 2) Second question?\nnot numbered\n3.Third without space\n4. Fourth?"
	got := ParseSubQuestions(text, 5)
	want := []string{"First question?", "Second question?", "Fourth?"}
	if len(got) != len(want) {
		t.Fatalf("got %d questions %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("question %d = %q, want %q", i, got[i], want[i])
		}
	}
	if ParseSubQuestions("no numbers here", 5) != nil {
		t.Fatal("expected nil for unparseable text")
	}
}

func TestConfidence(t *testing.T) {
	cases := []struct {
		stages                 int
		validated, synthesized bool
		want                   int
	}{
		{0, false, false, 0},
		{1, false, false, 20},
		{4, false, false, 80},
		{10, false, false, 80},
		{4, true, false, 90},
		{4, true, true, 95},
		{10, true, true, 95},
	}
	for _, tc := range cases {
		if got := Confidence(tc.stages, tc.validated, tc.synthesized); got != tc.want {
			t.Errorf("Confidence(%d, %v, %v) = %d, want %d",
				tc.stages, tc.validated, tc.synthesized, got, tc.want)
		}
	}
}

func TestConfidenceMonotone(t *testing.T) {
	prev := -1
	for stages := 0; stages <= 8; stages++ {
		got := Confidence(stages, stages >= 6, stages >= 7)
		if got < prev {
			t.Fatalf("confidence decreased at stage %d: %d -> %d", stages, prev, got)
		}
		if got > 95 {
			t.Fatalf("confidence %d exceeds 95", got)
		}
		prev = got
	}
}

// Package research runs the deep-research pipeline: a fixed five-stage
// sequence of dependent text-generation calls that decomposes a
// question, answers its parts, cross-validates, and synthesizes a final
// answer while streaming progress to the caller.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/parlowe/omni/core"
	"github.com/parlowe/omni/obs"
)

// Generator is the slice of the provider contract the pipeline needs.
type Generator interface {
	GenerateText(ctx context.Context, req core.Request) (*core.TextResult, error)
}

const (
	defaultMaxSubQuestions = 5
	defaultTemperature     = 0.7
	maxConfidence          = 95
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxSubQuestions caps how many sub-questions stage three answers.
func WithMaxSubQuestions(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxSubQuestions = n
		}
	}
}

// WithTemperature sets the sampling temperature for generation calls.
// Validation always runs at 0.8x this value.
func WithTemperature(t float32) Option {
	return func(p *Pipeline) {
		if t > 0 {
			p.temperature = t
		}
	}
}

// WithMaxTokens caps the output length of each generation call.
func WithMaxTokens(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithModel pins the model used for all pipeline calls.
func WithModel(model string) Option {
	return func(p *Pipeline) { p.model = model }
}

// WithLogger sets the logger for degraded-parse diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// Pipeline is a single-use research runner. Stages always execute in
// order and each consumes the full output of the previous one;
// sub-questions are answered sequentially to bound upstream load and
// keep chunk ordering deterministic.
type Pipeline struct {
	gen             Generator
	maxSubQuestions int
	temperature     float32
	maxTokens       int
	model           string
	logger          *slog.Logger
}

// Result is the final outcome of one research run.
type Result struct {
	Answer     string
	Steps      []core.ResearchStep
	Confidence int
}

// New builds a Pipeline around the given text generator.
func New(gen Generator, opts ...Option) *Pipeline {
	p := &Pipeline{
		gen:             gen,
		maxSubQuestions: defaultMaxSubQuestions,
		temperature:     defaultTemperature,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the five stages, emitting a research_step event before
// each stage, one labeled chunk per sub-answer, and a final
// research_complete event. Upstream failures abort the run; parse
// anomalies only narrow its scope.
func (p *Pipeline) Run(ctx context.Context, question string, stream *core.Stream) (_ *Result, err error) {
	ctx, recorder := obs.StartRequest(ctx, "research.Run",
		attribute.String("ai.operation", "research"),
	)
	defer func() { recorder.End(err, obs.UsageTokens{}) }()

	rc := &runContext{question: question}

	// Stage 1: question analysis.
	stream.Push(core.ResearchStepEvent(core.StepThinking, "Analyzing question scope and intent"))
	analysis, err := p.generate(ctx, fmt.Sprintf(
		"Classify the following research question. Identify the question type, the key concepts involved, and what a complete answer must cover.\n\nQuestion: %s",
		question), p.temperature)
	if err != nil {
		return nil, err
	}
	rc.complete(core.StepThinking, "Question analysis", analysis)

	// Stage 2: decomposition.
	stream.Push(core.ResearchStepEvent(core.StepThinking, "Breaking the question into sub-questions"))
	decomposition, err := p.generate(ctx, fmt.Sprintf(
		"Based on this analysis:\n%s\n\nDecompose the question %q into 3-5 focused sub-questions. Return them as a numbered list, one per line.",
		analysis, question), p.temperature)
	if err != nil {
		return nil, err
	}
	subQuestions := ParseSubQuestions(decomposition, p.maxSubQuestions)
	if len(subQuestions) == 0 {
		// Degrade to the original question rather than failing the run.
		p.logger.Debug("research: no sub-questions parsed, using original question")
		subQuestions = []string{question}
	}
	rc.complete(core.StepThinking, "Decomposition", decomposition)

	// Stage 3: sequential sub-research.
	answers := make([]string, 0, len(subQuestions))
	for i, sub := range subQuestions {
		stream.Push(core.ResearchStepEvent(core.StepAnalysis, fmt.Sprintf("Researching: %s", sub)))
		answer, err := p.generate(ctx, fmt.Sprintf(
			"Provide a detailed, factual answer to this sub-question of %q:\n\n%s",
			question, sub), p.temperature)
		if err != nil {
			return nil, err
		}
		answers = append(answers, answer)
		rc.complete(core.StepAnalysis, fmt.Sprintf("Sub-question %d", i+1), answer)
		stream.Push(core.ChunkEvent(fmt.Sprintf("\n### %d. %s\n\n%s\n", i+1, sub, answer)))
	}

	// Stage 4: cross-validation at reduced temperature for precision.
	stream.Push(core.ResearchStepEvent(core.StepSynthesis, "Cross-validating findings"))
	validation, err := p.generate(ctx, fmt.Sprintf(
		"Cross-reference these research findings for consistency. Point out contradictions or weakly supported claims.\n\n%s",
		joinFindings(subQuestions, answers)), p.temperature*0.8)
	if err != nil {
		return nil, err
	}
	rc.validated = true
	rc.complete(core.StepSynthesis, "Validation", validation)

	// Stage 5: synthesis.
	stream.Push(core.ResearchStepEvent(core.StepConclusion, "Synthesizing final answer"))
	answer, err := p.generate(ctx, fmt.Sprintf(
		"Write a structured final answer to %q using these findings and this validation note.\n\nFindings:\n%s\n\nValidation:\n%s",
		question, joinFindings(subQuestions, answers), validation), p.temperature)
	if err != nil {
		return nil, err
	}
	rc.synthesized = true
	rc.complete(core.StepConclusion, "Synthesis", answer)

	result := &Result{
		Answer:     answer,
		Steps:      rc.steps,
		Confidence: rc.confidence(),
	}
	stream.Push(core.ResearchCompleteEvent(result.Answer, result.Steps, result.Confidence))
	return result, nil
}

func (p *Pipeline) generate(ctx context.Context, prompt string, temperature float32) (string, error) {
	res, err := p.gen.GenerateText(ctx, core.Request{
		Messages:    []core.Message{core.UserMessage(prompt)},
		Model:       p.model,
		Temperature: temperature,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// runContext accumulates state for one research run. Confidence is a
// deterministic function of pipeline progress, not a model output.
type runContext struct {
	question    string
	steps       []core.ResearchStep
	stagesDone  int
	validated   bool
	synthesized bool
}

func (rc *runContext) complete(step core.StepType, title, content string) {
	rc.stagesDone++
	rc.steps = append(rc.steps, core.ResearchStep{Type: step, Title: title, Content: content})
}

func (rc *runContext) confidence() int {
	return Confidence(rc.stagesDone, rc.validated, rc.synthesized)
}

// Confidence computes the progress-based score: 20 points per completed
// stage capped at 80, plus 10 each for validation and synthesis, never
// exceeding 95.
func Confidence(stagesDone int, validated, synthesized bool) int {
	score := stagesDone * 20
	if score > 80 {
		score = 80
	}
	if validated {
		score += 10
	}
	if synthesized {
		score += 10
	}
	if score > maxConfidence {
		score = maxConfidence
	}
	return score
}

var subQuestionRe = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)

// ParseSubQuestions extracts numbered lines ("1. ...", "2) ...") from a
// decomposition response, up to max entries. Returns nil when no line
// matches; the caller decides how to degrade.
func ParseSubQuestions(text string, max int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		m := subQuestionRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		q := strings.TrimSpace(m[1])
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) >= max {
			break
		}
	}
	return out
}

func joinFindings(questions, answers []string) string {
	var b strings.Builder
	for i := range answers {
		fmt.Fprintf(&b, "%d. %s\n%s\n\n", i+1, questions[i], answers[i])
	}
	return b.String()
}

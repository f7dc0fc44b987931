// Package codeagent turns one code-focused request into a prompt, a
// single generation call, and a parsed set of file events. Runs are
// stateless: file context arrives with the request and edits are
// streamed back to the caller, never written to disk.
package codeagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/parlowe/omni/core"
	"github.com/parlowe/omni/obs"
)

// Generator is the slice of the provider contract the agent needs.
type Generator interface {
	GenerateText(ctx context.Context, req core.Request) (*core.TextResult, error)
}

const defaultEmitDelay = 100 * time.Millisecond

// Option configures an Agent.
type Option func(*Agent)

// WithEmitDelay sets the pause between successive file events. Zero
// disables pacing, which tests rely on.
func WithEmitDelay(d time.Duration) Option {
	return func(a *Agent) { a.emitDelay = d }
}

// WithLogger sets the logger for degraded-parse diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// Agent runs code operations against a text generator.
type Agent struct {
	gen       Generator
	emitDelay time.Duration
	logger    *slog.Logger
}

// New builds an Agent around the given text generator.
func New(gen Generator, opts ...Option) *Agent {
	a := &Agent{
		gen:       gen,
		emitDelay: defaultEmitDelay,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run classifies the request, generates one response, parses it
// according to the operation, and pushes the resulting file events onto
// the stream. It returns the raw response text for the caller to use as
// a summary. The stream's terminal event stays with the caller.
func (a *Agent) Run(ctx context.Context, req core.Request, stream *core.Stream) (_ string, err error) {
	instruction := core.LastUserContent(req.Messages)
	op := ClassifyOperation(instruction, req.Operation)

	ctx, recorder := obs.StartRequest(ctx, "codeagent.Run",
		attribute.String("ai.operation", string(op)),
	)
	defer func() { recorder.End(err, obs.UsageTokens{}) }()

	inScope := make(map[string]core.FileContext, len(req.Files))
	for _, f := range req.Files {
		if f.Language == "" {
			f.Language = InferLanguage(f.Path)
		}
		inScope[f.Path] = f
	}

	prompt := buildPrompt(op, instruction, req.Files)
	genReq := req.Clone()
	genReq.Messages = []core.Message{
		core.SystemMessage(systemPrompt(op)),
		core.UserMessage(prompt),
	}

	res, err := a.gen.GenerateText(ctx, genReq)
	if err != nil {
		return "", err
	}
	recorder.AddAttributes(attribute.String("ai.model", res.Model))

	switch op {
	case OpEdit, OpRefactor:
		files := ParseEditResponse(res.Text, inScope)
		if len(files) == 0 {
			a.logger.Debug("codeagent: no file sections parsed, emitting response as text",
				slog.String("operation", string(op)))
			stream.Push(core.ChunkEvent(res.Text))
			break
		}
		a.emitFiles(ctx, stream, core.EventFileEdit, files)
	case OpCreate:
		files := ParseCreateResponse(res.Text)
		a.emitFiles(ctx, stream, core.EventFileCreate, files)
	default:
		stream.Push(core.ChunkEvent(res.Text))
	}
	return res.Text, nil
}

// emitFiles pushes one event per file with a short pause between them
// so clients can render edits progressively.
func (a *Agent) emitFiles(ctx context.Context, stream *core.Stream, typ core.EventType, files []core.FileContext) {
	for i, f := range files {
		if i > 0 && a.emitDelay > 0 {
			select {
			case <-time.After(a.emitDelay):
			case <-ctx.Done():
				return
			}
		}
		stream.Push(core.FileEvent(typ, f))
	}
}

func systemPrompt(op Operation) string {
	switch op {
	case OpEdit:
		return "You are a precise code editor. Return each modified file in full, " +
			"preceded by a line of the form `File: <path>`. Do not invent files."
	case OpCreate:
		return "You are a code generator. Return each new file as a fenced code block " +
			"with a language tag and the file path on the first line as a comment."
	case OpRefactor:
		return "You are a refactoring assistant. Preserve behavior while improving " +
			"structure. Return each changed file in full, preceded by `File: <path>`."
	default:
		return "You are a code reviewer. Analyze the provided code and answer the " +
			"request with concrete, specific observations."
	}
}

func buildPrompt(op Operation, instruction string, files []core.FileContext) string {
	var b strings.Builder
	if len(files) > 0 {
		b.WriteString("Project files:\n\n")
		for _, f := range files {
			lang := f.Language
			if lang == "" {
				lang = InferLanguage(f.Path)
			}
			fmt.Fprintf(&b, "File: %s\n```%s\n%s\n```\n\n", f.Path, lang, f.Content)
		}
	}
	b.WriteString("Request: ")
	b.WriteString(instruction)
	switch op {
	case OpEdit, OpRefactor:
		b.WriteString("\n\nReturn only the files that change, each complete.")
	case OpCreate:
		b.WriteString("\n\nReturn every new file as its own fenced code block.")
	}
	return b.String()
}

package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/parlowe/omni/codeagent"
	"github.com/parlowe/omni/core"
	"github.com/parlowe/omni/obs"
	"github.com/parlowe/omni/research"
	"github.com/parlowe/omni/tts"
)

// Process runs one request against the stream and returns the full
// response text. It always terminates the stream itself: done on
// success, a single error event on failure. Chunks emitted before a
// failure stay visible; there is no rollback or retry.
func (o *Orchestrator) Process(ctx context.Context, req core.Request, stream *core.Stream) (fullText string, err error) {
	ctx, recorder := obs.StartRequest(ctx, "orchestrator.Process",
		attribute.String("ai.mode", string(req.Mode)),
		attribute.String("ai.model", req.Model),
	)
	defer func() { recorder.End(err, obs.UsageTokens{}) }()
	defer func() {
		if err != nil {
			o.logger.Error("orchestration failed",
				slog.String("mode", string(req.Mode)),
				slog.String("model", req.Model),
				slog.String("request_id", req.RequestID),
				slog.Any("error", err))
			stream.Fail(err)
			return
		}
		stream.Finish()
	}()

	if err = core.ValidateMessages(req.Messages); err != nil {
		err = core.WrapError(err, core.ErrBadRequest)
		return "", err
	}

	switch req.Mode {
	case core.ModeSearch:
		fullText, err = o.handleSearch(ctx, req, stream)
	case core.ModeResearch:
		fullText, err = o.handleResearch(ctx, req, stream)
	case core.ModeCode:
		fullText, err = o.handleCode(ctx, req, stream)
	case core.ModeVoice:
		fullText, err = o.handleVoice(ctx, req, stream)
	case core.ModeVision:
		fullText, err = o.handleVision(ctx, req, stream)
	default:
		fullText, err = o.handleChat(ctx, req, stream)
	}
	return fullText, err
}

// handleChat relays the matched provider's chunk stream verbatim. The
// returned fullText is the concatenation of the relayed chunks.
func (o *Orchestrator) handleChat(ctx context.Context, req core.Request, stream *core.Stream) (string, error) {
	provider, err := o.resolveProvider(req.Model)
	if err != nil {
		return "", err
	}
	return o.relay(ctx, provider, req, stream)
}

func (o *Orchestrator) relay(ctx context.Context, provider core.Provider, req core.Request, stream *core.Stream) (string, error) {
	upstream, err := provider.StreamText(ctx, req)
	if err != nil {
		return "", err
	}
	var full strings.Builder
	for ev := range upstream.Events() {
		if ev.Type != core.EventChunk {
			continue
		}
		full.WriteString(ev.Content)
		stream.Push(ev)
	}
	if err := upstream.Err(); err != nil {
		return "", core.WrapError(err, core.ErrUpstreamStream)
	}
	return full.String(), nil
}

// handleSearch answers from the search adapter and re-chunks the
// complete formatted text so callers see the same incremental delivery
// as natively streaming modes.
func (o *Orchestrator) handleSearch(ctx context.Context, req core.Request, stream *core.Stream) (string, error) {
	if o.search == nil || !o.search.Available() {
		return "", core.NewError(core.ErrProviderUnavailable, "search provider not available")
	}
	stream.Push(core.StatusEvent("Searching the web..."))

	result, err := o.search.Search(ctx, core.LastUserContent(req.Messages))
	if err != nil {
		return "", err
	}

	formatted := formatSearchResult(result)
	for i, piece := range Rechunk(formatted, o.chunkSize) {
		if i > 0 && o.chunkDelay > 0 {
			select {
			case <-time.After(o.chunkDelay):
			case <-ctx.Done():
				return "", core.WrapError(ctx.Err(), core.ErrCanceled)
			case <-stream.Done():
				return formatted, nil
			}
		}
		stream.Push(core.ChunkEvent(piece))
	}
	return formatted, nil
}

// formatSearchResult appends a numbered source list matching the [n]
// citation markers in the answer body.
func formatSearchResult(result *core.SearchResult) string {
	if len(result.Citations) == 0 {
		return result.Answer
	}
	var b strings.Builder
	b.WriteString(result.Answer)
	b.WriteString("\n\nSources:\n")
	for i, url := range result.Citations {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, url)
	}
	return b.String()
}

func (o *Orchestrator) handleResearch(ctx context.Context, req core.Request, stream *core.Stream) (string, error) {
	provider, err := o.resolveProvider(req.Model)
	if err != nil {
		return "", err
	}
	stream.Push(core.StatusEvent("Starting deep research..."))

	pipeline := research.New(provider,
		research.WithModel(req.Model),
		research.WithTemperature(req.Temperature),
		research.WithMaxTokens(req.MaxTokens),
		research.WithLogger(o.logger),
	)
	result, err := pipeline.Run(ctx, core.LastUserContent(req.Messages), stream)
	if err != nil {
		return "", err
	}
	return result.Answer, nil
}

func (o *Orchestrator) handleCode(ctx context.Context, req core.Request, stream *core.Stream) (string, error) {
	provider, err := o.resolveProvider(req.Model)
	if err != nil {
		return "", err
	}
	stream.Push(core.StatusEvent("Working on your code..."))

	agent := codeagent.New(provider,
		codeagent.WithEmitDelay(o.fileDelay),
		codeagent.WithLogger(o.logger),
	)
	return agent.Run(ctx, req, stream)
}

// handleVoice generates the complete text answer first, then renders it
// to speech. No intermediate chunks reach the caller; the result is one
// audio event carrying the base64 payload and its source text.
func (o *Orchestrator) handleVoice(ctx context.Context, req core.Request, stream *core.Stream) (string, error) {
	provider, err := o.resolveProvider(req.Model)
	if err != nil {
		return "", err
	}
	if o.speech == nil || !o.speech.Available() {
		return "", core.NewError(core.ErrProviderUnavailable, "speech provider not available")
	}

	stream.Push(core.StatusEvent("Generating response..."))
	result, err := provider.GenerateText(ctx, req)
	if err != nil {
		return "", err
	}

	stream.Push(core.StatusEvent("Generating speech..."))
	audio, err := o.speech.Synthesize(ctx, result.Text, tts.Options{})
	if err != nil {
		return "", err
	}
	stream.Push(core.AudioEvent(base64.StdEncoding.EncodeToString(audio.Data), result.Text))
	return result.Text, nil
}

// handleVision requires image data on the last message and routes to a
// vision-capable provider, falling back from the requested model's
// family when it cannot accept images.
func (o *Orchestrator) handleVision(ctx context.Context, req core.Request, stream *core.Stream) (string, error) {
	if len(req.Messages) == 0 || req.Messages[len(req.Messages)-1].ImageData == "" {
		return "", core.NewError(core.ErrMissingImageData, "vision request carries no image data")
	}
	provider, err := o.visionProvider(req.Model)
	if err != nil {
		return "", err
	}
	stream.Push(core.StatusEvent("Analyzing image..."))
	return o.relay(ctx, provider, req, stream)
}

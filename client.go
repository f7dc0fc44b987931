// Package omni is the unified entry point for provider orchestration:
// one client routing chat, search, research, code, voice, and vision
// requests to the configured upstream adapters over a single streaming
// contract.
package omni

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/parlowe/omni/core"
	"github.com/parlowe/omni/orchestrator"
	"github.com/parlowe/omni/providers/anthropic"
	"github.com/parlowe/omni/providers/openai"
	"github.com/parlowe/omni/providers/perplexity"
	"github.com/parlowe/omni/tts/elevenlabs"
)

// Client wraps an orchestrator with request-ID assignment. Safe for
// concurrent use; provider credentials are resolved once at
// construction and never rotated within a run.
type Client struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger    *slog.Logger
	orchOpts  []orchestrator.Option
	streamBuf int
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = logger }
}

// WithOrchestratorOptions forwards options to the underlying
// orchestrator, overriding the env-derived wiring.
func WithOrchestratorOptions(opts ...orchestrator.Option) ClientOption {
	return func(c *clientConfig) { c.orchOpts = append(c.orchOpts, opts...) }
}

// WithStreamBuffer sets the event buffer size for streams the client
// creates.
func WithStreamBuffer(n int) ClientOption {
	return func(c *clientConfig) {
		if n > 0 {
			c.streamBuf = n
		}
	}
}

// NewClient builds a Client wired from the environment. Each adapter is
// registered when its API key is present: OPENAI_API_KEY,
// ANTHROPIC_API_KEY, PERPLEXITY_API_KEY, ELEVENLABS_API_KEY.
func NewClient(opts ...ClientOption) *Client {
	cfg := clientConfig{
		logger:    slog.Default(),
		streamBuf: 64,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(cfg.logger),
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		orchOpts = append(orchOpts, orchestrator.WithTextProvider(
			orchestrator.FamilyOpenAI, openai.New(openai.WithAPIKey(key))))
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		orchOpts = append(orchOpts, orchestrator.WithTextProvider(
			orchestrator.FamilyAnthropic, anthropic.New(anthropic.WithAPIKey(key))))
	}
	if key := os.Getenv("PERPLEXITY_API_KEY"); key != "" {
		client := perplexity.New(perplexity.WithAPIKey(key))
		orchOpts = append(orchOpts,
			orchestrator.WithSearcher(client),
			orchestrator.WithTextProvider(orchestrator.FamilyPerplexity, client.AsProvider()),
		)
	}
	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		orchOpts = append(orchOpts, orchestrator.WithSpeech(
			elevenlabs.New(elevenlabs.WithAPIKey(key))))
	}
	orchOpts = append(orchOpts, cfg.orchOpts...)

	return &Client{
		orch:   orchestrator.New(orchOpts...),
		logger: cfg.logger,
	}
}

// Orchestrator exposes the underlying router for transports that manage
// their own streams.
func (c *Client) Orchestrator() *orchestrator.Orchestrator {
	return c.orch
}

// Process runs one request on the given stream, assigning a request ID
// when the caller supplied none.
func (c *Client) Process(ctx context.Context, req core.Request, stream *core.Stream) (string, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	return c.orch.Process(ctx, req, stream)
}

// Stream opens a stream and runs the request on it in a goroutine,
// returning immediately so the caller can range over the events.
func (c *Client) Stream(ctx context.Context, req core.Request) *core.Stream {
	stream := core.NewStream(ctx, 64)
	go func() {
		_, _ = c.Process(ctx, req, stream)
	}()
	return stream
}

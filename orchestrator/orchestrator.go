// Package orchestrator routes requests to the right provider or
// pipeline by mode and model family, and owns the single streaming
// contract all modes share: every run emits exactly one terminal event.
package orchestrator

import (
	"log/slog"
	"strings"
	"time"

	"github.com/parlowe/omni/core"
	"github.com/parlowe/omni/tts"
)

// ModelFamily is the closed set of upstream families a model identifier
// can resolve to. Resolution happens once at the routing boundary.
type ModelFamily string

const (
	FamilyOpenAI     ModelFamily = "openai"
	FamilyAnthropic  ModelFamily = "anthropic"
	FamilyPerplexity ModelFamily = "perplexity"
	FamilyUnknown    ModelFamily = "unknown"
)

// ResolveModelFamily maps a model identifier to its family by substring
// match: gpt/o4 models are OpenAI, claude models are Anthropic, sonar
// models are Perplexity.
func ResolveModelFamily(model string) ModelFamily {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gpt") || strings.Contains(m, "o4"):
		return FamilyOpenAI
	case strings.Contains(m, "claude"):
		return FamilyAnthropic
	case strings.Contains(m, "sonar"):
		return FamilyPerplexity
	default:
		return FamilyUnknown
	}
}

const (
	defaultChunkSize  = 50
	defaultChunkDelay = 50 * time.Millisecond
	defaultFileDelay  = 100 * time.Millisecond
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTextProvider registers the text-generation provider for a family.
func WithTextProvider(family ModelFamily, p core.Provider) Option {
	return func(o *Orchestrator) { o.text[family] = p }
}

// WithSearcher registers the web-search adapter.
func WithSearcher(s core.Searcher) Option {
	return func(o *Orchestrator) { o.search = s }
}

// WithSpeech registers the speech-synthesis provider.
func WithSpeech(p tts.Provider) Option {
	return func(o *Orchestrator) { o.speech = p }
}

// WithChunkSize sets the re-chunk piece size for search mode.
func WithChunkSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithChunkDelay sets the pause between re-chunked search pieces. Zero
// disables pacing.
func WithChunkDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.chunkDelay = d }
}

// WithFileDelay sets the pause between code-agent file events.
func WithFileDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.fileDelay = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// Orchestrator is the mode router. It holds only read-only provider
// references resolved at startup; per-request state lives on the stack
// of each Process call, so a single Orchestrator serves concurrent
// requests without locking.
type Orchestrator struct {
	text   map[ModelFamily]core.Provider
	search core.Searcher
	speech tts.Provider

	chunkSize  int
	chunkDelay time.Duration
	fileDelay  time.Duration
	logger     *slog.Logger
}

// New builds an Orchestrator from the given options.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		text:       make(map[ModelFamily]core.Provider),
		chunkSize:  defaultChunkSize,
		chunkDelay: defaultChunkDelay,
		fileDelay:  defaultFileDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// resolveProvider maps the requested model to a configured, available
// provider. Unknown families fail before any upstream call.
func (o *Orchestrator) resolveProvider(model string) (core.Provider, error) {
	family := ResolveModelFamily(model)
	if family == FamilyUnknown {
		return nil, core.NewError(core.ErrUnknownModel, "unknown model: "+model)
	}
	p, ok := o.text[family]
	if !ok || !p.Available() {
		return nil, core.NewError(core.ErrProviderUnavailable,
			"no available provider for model "+model)
	}
	return p, nil
}

// visionProvider returns the provider for the requested model when it
// supports vision, otherwise the first registered vision-capable one.
func (o *Orchestrator) visionProvider(model string) (core.Provider, error) {
	if p, err := o.resolveProvider(model); err == nil && p.Capabilities().Vision {
		return p, nil
	}
	for _, p := range o.text {
		if p.Available() && p.Capabilities().Vision {
			return p, nil
		}
	}
	return nil, core.NewError(core.ErrProviderUnavailable, "no vision-capable provider available")
}

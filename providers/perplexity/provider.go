package perplexity

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/parlowe/omni/core"
	"github.com/parlowe/omni/obs"
)

// Provider adapts the client to core.Provider so sonar models can also
// serve plain chat requests. The wire format is OpenAI-compatible chat
// completions.
type Provider struct {
	c *Client
}

// AsProvider returns the client's text-generation view.
func (c *Client) AsProvider() *Provider {
	return &Provider{c: c}
}

// Available reports whether an API key is configured.
func (p *Provider) Available() bool { return p.c.Available() }

func (p *Provider) Capabilities() core.Capabilities {
	return core.Capabilities{
		Provider:  "perplexity",
		Streaming: true,
		Citations: true,
	}
}

type chatPayload struct {
	Model       string          `json:"model"`
	Messages    []searchMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (p *Provider) GenerateText(ctx context.Context, req core.Request) (_ *core.TextResult, err error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.perplexity.GenerateText",
		attribute.String("ai.provider", "perplexity"),
		attribute.String("ai.operation", "chat.completions"),
	)
	var usage obs.UsageTokens
	defer func() { recorder.End(err, usage) }()

	payload := p.buildPayload(req, false)
	recorder.AddAttributes(attribute.String("ai.model", payload.Model))
	body, err := p.doRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var decoded searchResponse
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode perplexity response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("perplexity: empty choices")
	}
	coreUsage := core.Usage{
		InputTokens:  decoded.Usage.PromptTokens,
		OutputTokens: decoded.Usage.CompletionTokens,
		TotalTokens:  decoded.Usage.TotalTokens,
	}
	usage = obs.UsageFromCore(coreUsage)
	return &core.TextResult{
		Text:     decoded.Choices[0].Message.Content,
		Model:    decoded.Model,
		Provider: "perplexity",
		Usage:    coreUsage,
	}, nil
}

func (p *Provider) StreamText(ctx context.Context, req core.Request) (*core.Stream, error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.perplexity.StreamText",
		attribute.String("ai.provider", "perplexity"),
		attribute.String("ai.operation", "chat.completions.stream"),
	)
	payload := p.buildPayload(req, true)
	recorder.AddAttributes(attribute.String("ai.model", payload.Model))
	body, err := p.doRequest(ctx, payload)
	if err != nil {
		recorder.End(err, obs.UsageTokens{})
		return nil, err
	}
	stream := core.NewStream(ctx, 64)
	go func() {
		p.consumeStream(body, stream)
		recorder.End(stream.Err(), obs.UsageTokens{})
	}()
	return stream, nil
}

func (p *Provider) buildPayload(req core.Request, stream bool) *chatPayload {
	model := req.Model
	if model == "" {
		model = p.c.opts.model
	}
	messages := make([]searchMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, searchMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return &chatPayload{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

func (p *Provider) doRequest(ctx context.Context, payload *chatPayload) (io.ReadCloser, error) {
	if !p.Available() {
		return nil, core.NewError(core.ErrProviderUnavailable, "perplexity: api key not configured")
	}
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.c.opts.baseURL+"/chat/completions", buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.c.opts.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewError(core.ErrProviderUnavailable, "perplexity: request failed", core.WithWrapped(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, core.NewError(core.ErrProviderUnavailable,
			fmt.Sprintf("perplexity: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
			core.WithStatus(resp.StatusCode))
	}
	return resp.Body, nil
}

func (p *Provider) consumeStream(body io.ReadCloser, stream *core.Stream) {
	defer body.Close()
	defer stream.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.c.opts.logger.Debug("perplexity: skipping malformed stream frame", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			stream.Push(core.ChunkEvent(delta))
		}
	}
	if err := scanner.Err(); err != nil {
		stream.Fail(core.NewError(core.ErrUpstreamStream, "perplexity: read stream", core.WithWrapped(err)))
	}
}

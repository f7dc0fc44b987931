// Package openai implements the core.Provider interface against the
// OpenAI chat completions API, including vision requests.
package openai

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
	"github.com/parlowe/omni/internal/httpclient"
	"github.com/parlowe/omni/obs"
)

// Client implements core.Provider for OpenAI's chat completions API.
type Client struct {
	opts       options
	httpClient *http.Client
}

// New constructs a new OpenAI client.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.New(httpclient.WithTimeout(o.timeout))
	}
	return &Client{opts: o, httpClient: o.httpClient}
}

// Available reports whether an API key is configured.
func (c *Client) Available() bool {
	return strings.TrimSpace(c.opts.apiKey) != ""
}

func (c *Client) Capabilities() core.Capabilities {
	return core.Capabilities{
		Provider:  "openai",
		Streaming: true,
		Vision:    true,
	}
}

func (c *Client) GenerateText(ctx context.Context, req core.Request) (_ *core.TextResult, err error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.openai.GenerateText",
		attribute.String("ai.provider", "openai"),
		attribute.String("ai.operation", "chat.completions"),
	)
	var usage obs.UsageTokens
	defer func() { recorder.End(err, usage) }()

	payload := c.buildPayload(req, false)
	recorder.AddAttributes(attribute.String("ai.model", payload.Model))
	body, err := c.doRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp chatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices")
	}
	usage = obs.UsageFromCore(resp.Usage.toCore())
	return &core.TextResult{
		Text:     resp.Choices[0].Message.Content,
		Model:    resp.Model,
		Provider: "openai",
		Usage:    resp.Usage.toCore(),
	}, nil
}

func (c *Client) StreamText(ctx context.Context, req core.Request) (*core.Stream, error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.openai.StreamText",
		attribute.String("ai.provider", "openai"),
		attribute.String("ai.operation", "chat.completions.stream"),
	)
	payload := c.buildPayload(req, true)
	recorder.AddAttributes(attribute.String("ai.model", payload.Model))
	body, err := c.doRequest(ctx, payload)
	if err != nil {
		recorder.End(err, obs.UsageTokens{})
		return nil, err
	}
	stream := core.NewStream(ctx, 64)
	go func() {
		usage := c.consumeStream(body, stream)
		recorder.End(stream.Err(), usage)
	}()
	return stream, nil
}

func (c *Client) buildPayload(req core.Request, stream bool) *chatRequest {
	model := req.Model
	if model == "" {
		model = c.opts.model
	}
	payload := &chatRequest{
		Model:       model,
		Messages:    convertMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if stream {
		payload.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return payload
}

func (c *Client) doRequest(ctx context.Context, payload *chatRequest) (io.ReadCloser, error) {
	if !c.Available() {
		return nil, core.NewError(core.ErrProviderUnavailable, "openai: api key not configured")
	}
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.baseURL+"/chat/completions", buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.opts.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.opts.headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewError(core.ErrProviderUnavailable, "openai: request failed", core.WithWrapped(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, core.NewError(core.ErrProviderUnavailable,
			fmt.Sprintf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
			core.WithStatus(resp.StatusCode))
	}
	return resp.Body, nil
}

// consumeStream decodes the upstream SSE framing. The scanner owns the
// partial trailing line between reads, so message boundaries need not
// align with a single read. Malformed data frames are logged and
// skipped; only transport failures terminate the stream with an error.
func (c *Client) consumeStream(body io.ReadCloser, stream *core.Stream) obs.UsageTokens {
	defer body.Close()
	defer stream.Close()

	var usage obs.UsageTokens
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return usage
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.opts.logger.Debug("openai: skipping malformed stream frame", "error", err)
			continue
		}
		if chunk.Usage != nil {
			usage = obs.UsageFromCore(chunk.Usage.toCore())
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			stream.Push(core.ChunkEvent(delta))
		}
	}
	if err := scanner.Err(); err != nil {
		stream.Fail(core.NewError(core.ErrUpstreamStream, "openai: read stream", core.WithWrapped(err)))
	}
	return usage
}

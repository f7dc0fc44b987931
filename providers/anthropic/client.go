// Package anthropic implements the core.Provider interface against the
// Anthropic Messages API.
package anthropic

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

const defaultMaxTokens = 4096

// Client implements core.Provider for Anthropic's Messages API.
type Client struct {
	opts       options
	httpClient *http.Client
}

// New constructs a new Anthropic client.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.New(httpclient.WithTimeout(o.timeout))
	}
	if _, ok := o.headers["anthropic-version"]; !ok {
		o.headers["anthropic-version"] = "2023-06-01"
	}
	return &Client{opts: o, httpClient: o.httpClient}
}

// Available reports whether an API key is configured.
func (c *Client) Available() bool {
	return strings.TrimSpace(c.opts.apiKey) != ""
}

func (c *Client) Capabilities() core.Capabilities {
	return core.Capabilities{
		Provider:  "anthropic",
		Streaming: true,
	}
}

func (c *Client) GenerateText(ctx context.Context, req core.Request) (_ *core.TextResult, err error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.anthropic.GenerateText",
		attribute.String("ai.provider", "anthropic"),
		attribute.String("ai.operation", "messages"),
	)
	var usage obs.UsageTokens
	defer func() { recorder.End(err, usage) }()

	payload, err := c.buildPayload(req, false)
	if err != nil {
		return nil, err
	}
	recorder.AddAttributes(attribute.String("ai.model", payload.Model))
	body, err := c.doRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp messagesResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	usage = obs.UsageFromCore(resp.Usage.toCore())
	return &core.TextResult{
		Text:     resp.joinText(),
		Model:    resp.Model,
		Provider: "anthropic",
		Usage:    resp.Usage.toCore(),
	}, nil
}

func (c *Client) StreamText(ctx context.Context, req core.Request) (*core.Stream, error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.anthropic.StreamText",
		attribute.String("ai.provider", "anthropic"),
		attribute.String("ai.operation", "messages.stream"),
	)
	payload, err := c.buildPayload(req, true)
	if err != nil {
		recorder.End(err, obs.UsageTokens{})
		return nil, err
	}
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

func (c *Client) buildPayload(req core.Request, stream bool) (*messagesRequest, error) {
	system, converted := splitSystem(req.Messages)
	if len(converted) == 0 {
		return nil, errors.New("anthropic: request requires at least one user message")
	}
	model := req.Model
	if model == "" {
		model = c.opts.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &messagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    converted,
		System:      system,
		Temperature: req.Temperature,
		Stream:      stream,
	}, nil
}

func (c *Client) doRequest(ctx context.Context, payload *messagesRequest) (io.ReadCloser, error) {
	if !c.Available() {
		return nil, core.NewError(core.ErrProviderUnavailable, "anthropic: api key not configured")
	}
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.baseURL+"/v1/messages", buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", c.opts.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.opts.headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewError(core.ErrProviderUnavailable, "anthropic: request failed", core.WithWrapped(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, core.NewError(core.ErrProviderUnavailable,
			fmt.Sprintf("anthropic: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
			core.WithStatus(resp.StatusCode))
	}
	return resp.Body, nil
}

// consumeStream decodes the event/data SSE framing of the Messages API.
// The scanner carries partial trailing lines between reads; a data frame
// that fails to parse is logged and skipped.
func (c *Client) consumeStream(body io.ReadCloser, stream *core.Stream) obs.UsageTokens {
	defer body.Close()
	defer stream.Close()

	var usage obs.UsageTokens
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	var currentEvent string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		switch currentEvent {
		case "content_block_delta":
			var delta contentBlockDelta
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				c.opts.logger.Debug("anthropic: skipping malformed stream frame", "error", err)
				continue
			}
			if delta.Delta.Text != "" {
				stream.Push(core.ChunkEvent(delta.Delta.Text))
			}
		case "message_delta":
			var delta messageDelta
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				c.opts.logger.Debug("anthropic: skipping malformed stream frame", "error", err)
				continue
			}
			usage = obs.UsageFromCore(delta.Usage.toCore())
		case "message_stop":
			return usage
		}
	}
	if err := scanner.Err(); err != nil {
		stream.Fail(core.NewError(core.ErrUpstreamStream, "anthropic: read stream", core.WithWrapped(err)))
	}
	return usage
}

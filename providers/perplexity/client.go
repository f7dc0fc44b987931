// Package perplexity implements the core.Searcher interface against the
// Perplexity chat completions API, which returns citation-annotated
// answers for web queries.
package perplexity

import (
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

// Client implements core.Searcher for the Perplexity API.
type Client struct {
	opts       options
	httpClient *http.Client
}

// New constructs a new Perplexity client.
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

type searchRequest struct {
	Model    string          `json:"model"`
	Messages []searchMessage `json:"messages"`
}

type searchMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type searchResponse struct {
	Model     string   `json:"model"`
	Citations []string `json:"citations"`
	Choices   []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Search runs one web search and returns the answer with its cited
// source URLs in citation-marker order.
func (c *Client) Search(ctx context.Context, query string) (_ *core.SearchResult, err error) {
	ctx, recorder := obs.StartRequest(ctx, "providers.perplexity.Search",
		attribute.String("ai.provider", "perplexity"),
		attribute.String("ai.operation", "search"),
	)
	var usage obs.UsageTokens
	defer func() { recorder.End(err, usage) }()

	if !c.Available() {
		return nil, core.NewError(core.ErrProviderUnavailable, "perplexity: api key not configured")
	}
	if strings.TrimSpace(query) == "" {
		return nil, core.NewError(core.ErrBadRequest, "perplexity: empty query")
	}

	payload := searchRequest{
		Model: c.opts.model,
		Messages: []searchMessage{
			{Role: "system", Content: "Answer concisely and cite sources."},
			{Role: "user", Content: query},
		},
	}
	recorder.AddAttributes(attribute.String("ai.model", payload.Model))

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

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewError(core.ErrProviderUnavailable, "perplexity: request failed", core.WithWrapped(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, core.NewError(core.ErrProviderUnavailable,
			fmt.Sprintf("perplexity: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
			core.WithStatus(resp.StatusCode))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
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
	return &core.SearchResult{
		Answer:    decoded.Choices[0].Message.Content,
		Citations: decoded.Citations,
		Model:     decoded.Model,
		Usage:     coreUsage,
	}, nil
}

package core

import "context"

// Provider is the uniform interface wrapping one upstream text-generation
// capability. Adapters issue their own streaming calls, decode the
// upstream's incremental framing into chunk events, and report
// availability based solely on configured credentials.
type Provider interface {
	// GenerateText performs a blocking call and returns the full text.
	GenerateText(ctx context.Context, req Request) (*TextResult, error)
	// StreamText opens a streaming call. The returned stream emits chunk
	// events and closes when the upstream completes; Err reports any
	// failure observed while iterating the upstream stream.
	StreamText(ctx context.Context, req Request) (*Stream, error)
	// Available reports whether the required credentials are configured.
	Available() bool
	Capabilities() Capabilities
}

// Searcher wraps a web-search capability returning citation-annotated
// results.
type Searcher interface {
	Search(ctx context.Context, query string) (*SearchResult, error)
	Available() bool
}

// Capabilities describes the features supported by a provider.
type Capabilities struct {
	Provider  string
	Models    []string
	Streaming bool
	Vision    bool
	Citations bool
}

// Usage captures token accounting reported by an upstream.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// TextResult is the final result of one generation call. Text always
// equals the concatenation of the chunk events the call emitted.
type TextResult struct {
	Text     string `json:"text"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Usage    Usage  `json:"usage"`
}

// SearchResult is a web-search answer plus the cited source URLs, in
// citation-marker order.
type SearchResult struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
	Model     string   `json:"model"`
	Usage     Usage    `json:"usage"`
}

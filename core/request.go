package core

// Mode selects the high-level behavior handling a request.
type Mode string

const (
	ModeChat     Mode = "chat"
	ModeSearch   Mode = "search"
	ModeResearch Mode = "research"
	ModeCode     Mode = "code"
	ModeVoice    Mode = "voice"
	ModeVision   Mode = "vision"
)

// FileContext is one tracked file within a code-agent request: the path,
// its full content, and the language inferred from the path when the
// caller did not supply one.
type FileContext struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// Request represents a single orchestration request. It is constructed
// once per inbound connection and never persisted by this module.
type Request struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`
	Mode     Mode      `json:"mode,omitempty"`

	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Files seeds the code agent's project view. Ignored by other modes.
	Files []FileContext `json:"files,omitempty"`
	// Operation optionally pins the code agent to a specific operation
	// instead of keyword classification.
	Operation string `json:"operation,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

// Clone returns a shallow copy of the request with slice duplication so
// callers can adjust parameters without mutating the original.
func (r Request) Clone() Request {
	clone := r
	if len(r.Messages) > 0 {
		clone.Messages = append([]Message(nil), r.Messages...)
	}
	if len(r.Files) > 0 {
		clone.Files = append([]FileContext(nil), r.Files...)
	}
	return clone
}

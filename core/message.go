package core

import (
	"errors"
	"fmt"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	System    Role = "system"
	User      Role = "user"
	Assistant Role = "assistant"
)

// Message represents a single conversation turn. Messages are immutable
// once constructed; an ordered slice of them forms the history handed to
// each provider call.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ImageData carries a base64-encoded image payload for vision requests.
	ImageData string `json:"image_data,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(text string) Message {
	return Message{Role: System, Content: text}
}

// UserMessage builds a user-role message.
func UserMessage(text string) Message {
	return Message{Role: User, Content: text}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(text string) Message {
	return Message{Role: Assistant, Content: text}
}

// ValidateMessages checks that every message carries a known role and
// non-empty content.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return errors.New("at least one message is required")
	}
	for i, msg := range messages {
		switch msg.Role {
		case System, User, Assistant:
		default:
			return fmt.Errorf("message %d: unknown role %q", i, msg.Role)
		}
		if strings.TrimSpace(msg.Content) == "" && msg.ImageData == "" {
			return fmt.Errorf("message %d: empty content", i)
		}
	}
	return nil
}

// LastUserContent returns the content of the most recent user message, or
// an empty string when the history has none.
func LastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == User {
			return messages[i].Content
		}
	}
	return ""
}

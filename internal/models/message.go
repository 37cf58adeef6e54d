package models

import "time"

// Role tags who authored a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one entry of a user's conversation history.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// MessagePayload is an inbound message normalized by a messaging adapter.
type MessagePayload struct {
	UserID          string    `json:"user_id"`
	UserName        string    `json:"user_name,omitempty"`
	Text            string    `json:"text"`
	Timestamp       time.Time `json:"timestamp"`
	OriginalMessage any       `json:"-"`
}

// LLMOptions are optional generation knobs. Nil fields keep the provider defaults.
type LLMOptions struct {
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// IsZero reports whether no option is set.
func (o *LLMOptions) IsZero() bool {
	return o == nil || (o.Temperature == nil && o.MaxTokens == nil && o.Model == "")
}

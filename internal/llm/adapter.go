// Package llm wraps language-model backends behind one completion call.
package llm

import (
	"context"
	"fmt"

	"chatbridge/internal/models"
)

// Provider names an LLM backend.
type Provider string

const (
	ProviderOpenAI      Provider = "openai"
	ProviderGemini      Provider = "gemini"
	ProviderClaude      Provider = "claude"
	ProviderPlaceholder Provider = "placeholder"
)

// Adapter produces the next assistant reply for a conversation.
type Adapter interface {
	Provider() Provider
	// GenerateResponse sends the ordered history and returns the trimmed
	// completion text. It must not modify messages. Failures are *CallError.
	GenerateResponse(ctx context.Context, messages []models.ChatMessage, opts *models.LLMOptions) (string, error)
}

// CallError reports a failed completion request.
type CallError struct {
	Provider Provider
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

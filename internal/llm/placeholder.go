package llm

import (
	"context"

	"chatbridge/internal/models"
)

const defaultPlaceholderReply = "No language model is configured yet, so this is a placeholder reply."

// Placeholder answers every conversation with a fixed notice. It is used
// when no provider credentials are configured.
type Placeholder struct {
	reply string
}

func NewPlaceholder(reply string) *Placeholder {
	if reply == "" {
		reply = defaultPlaceholderReply
	}
	return &Placeholder{reply: reply}
}

func (p *Placeholder) Provider() Provider {
	return ProviderPlaceholder
}

func (p *Placeholder) GenerateResponse(ctx context.Context, _ []models.ChatMessage, _ *models.LLMOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &CallError{Provider: ProviderPlaceholder, Err: err}
	}
	return p.reply, nil
}

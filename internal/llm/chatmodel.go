package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"chatbridge/internal/logger"
	"chatbridge/internal/models"
)

var errEmptyConversation = errors.New("conversation is empty")

// ChatModelAdapter runs completions on an eino chat model.
type ChatModelAdapter struct {
	provider Provider
	model    model.BaseChatModel
	logger   *zap.SugaredLogger
}

func NewChatModelAdapter(provider Provider, chatModel model.BaseChatModel, log *zap.SugaredLogger) *ChatModelAdapter {
	return &ChatModelAdapter{
		provider: provider,
		model:    chatModel,
		logger:   logger.Or(log).With("provider", provider),
	}
}

func (a *ChatModelAdapter) Provider() Provider {
	return a.provider
}

func (a *ChatModelAdapter) GenerateResponse(ctx context.Context, messages []models.ChatMessage, opts *models.LLMOptions) (string, error) {
	if len(messages) == 0 {
		return "", &CallError{Provider: a.provider, Err: errEmptyConversation}
	}
	resp, err := a.model.Generate(ctx, convertMessages(messages), callOptions(opts)...)
	if err != nil {
		return "", &CallError{Provider: a.provider, Err: err}
	}
	if resp == nil {
		return "", &CallError{Provider: a.provider, Err: errors.New("provider returned no message")}
	}
	if usage := resp.ResponseMeta; usage != nil && usage.Usage != nil {
		a.logger.Debugw("completion usage",
			"prompt_tokens", usage.Usage.PromptTokens,
			"completion_tokens", usage.Usage.CompletionTokens,
			"finish_reason", usage.FinishReason)
	}
	return strings.TrimSpace(resp.Content), nil
}

func convertMessages(history []models.ChatMessage) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}

// callOptions maps set fields only; unset ones keep the model's configured defaults.
func callOptions(opts *models.LLMOptions) []model.Option {
	if opts.IsZero() {
		return nil
	}
	var out []model.Option
	if opts.Temperature != nil {
		out = append(out, model.WithTemperature(*opts.Temperature))
	}
	if opts.MaxTokens != nil {
		out = append(out, model.WithMaxTokens(*opts.MaxTokens))
	}
	if opts.Model != "" {
		out = append(out, model.WithModel(opts.Model))
	}
	return out
}

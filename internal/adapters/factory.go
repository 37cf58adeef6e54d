// Package adapters picks the messaging and LLM adapters from configuration.
// It is the only place that maps configuration to concrete adapter types.
package adapters

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"chatbridge/internal/config"
	"chatbridge/internal/dedupe"
	"chatbridge/internal/llm"
	"chatbridge/internal/logger"
	"chatbridge/internal/messaging"
	"chatbridge/internal/messaging/console"
	"chatbridge/internal/messaging/telegram"
	"chatbridge/internal/messaging/twilio"
	"chatbridge/internal/messaging/whatsapp"
)

// MessagingDeps carries runtime collaborators that do not come from configuration.
type MessagingDeps struct {
	Dedupe         dedupe.Store
	OnConsoleClose func()
	Logger         *zap.SugaredLogger
}

// ResolvePlatform returns the configured platform, or picks one from the
// credentials present: Telegram, then Twilio, then the WhatsApp placeholder,
// then the console.
func ResolvePlatform(cfg config.MessagingConfig) messaging.Platform {
	if cfg.Platform != "" {
		return messaging.Platform(cfg.Platform)
	}
	switch {
	case cfg.TelegramBotToken != "":
		return messaging.PlatformTelegram
	case cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "":
		return messaging.PlatformTwilio
	case cfg.WhatsAppVerifyToken != "":
		return messaging.PlatformWhatsApp
	default:
		return messaging.PlatformConsole
	}
}

// ResolveProvider returns the configured provider, or the first one with a
// key: OpenAI, Gemini, Claude. Without any key it falls back to the placeholder.
func ResolveProvider(cfg config.LLMConfig) llm.Provider {
	if cfg.Provider != "" {
		return llm.Provider(cfg.Provider)
	}
	switch {
	case cfg.OpenAIAPIKey != "":
		return llm.ProviderOpenAI
	case cfg.GeminiAPIKey != "":
		return llm.ProviderGemini
	case cfg.AnthropicAPIKey != "":
		return llm.ProviderClaude
	default:
		return llm.ProviderPlaceholder
	}
}

// NewMessaging builds the messaging adapter. Missing credentials for the
// chosen platform yield *models.AdapterConfigurationError.
func NewMessaging(cfg config.MessagingConfig, deps MessagingDeps) (messaging.Adapter, error) {
	log := logger.Or(deps.Logger)
	platform := ResolvePlatform(cfg)
	log.Infow("messaging platform selected", "platform", platform, "explicit", cfg.Platform != "")

	switch platform {
	case messaging.PlatformConsole:
		return console.New(console.Config{
			UserID:  cfg.ConsoleUserID,
			Prompt:  cfg.ConsolePrompt,
			OnClose: deps.OnConsoleClose,
		}, log), nil
	case messaging.PlatformTelegram:
		adapter, err := telegram.New(telegram.Config{
			Token:       cfg.TelegramBotToken,
			APIEndpoint: cfg.TelegramAPIEndpoint,
			PollTimeout: cfg.TelegramPollTimeout,
			Greeting:    cfg.TelegramGreeting,
		}, log)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case messaging.PlatformTwilio:
		adapter, err := twilio.New(twilio.Config{
			AccountSID:        cfg.TwilioAccountSID,
			AuthToken:         cfg.TwilioAuthToken,
			FromNumber:        cfg.TwilioFromNumber,
			WebhookPath:       cfg.TwilioWebhookPath,
			PublicURL:         cfg.TwilioPublicURL,
			ValidateSignature: cfg.TwilioValidateSignature,
		}, deps.Dedupe, log)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case messaging.PlatformWhatsApp:
		adapter, err := whatsapp.New(whatsapp.Config{
			VerifyToken: cfg.WhatsAppVerifyToken,
			WebhookPath: cfg.WhatsAppWebhookPath,
		}, deps.Dedupe, log)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("unknown messaging platform %q", platform)
	}
}

// NewLLM builds the LLM adapter. Missing keys for an explicitly chosen
// provider yield *models.AdapterConfigurationError.
func NewLLM(ctx context.Context, cfg config.LLMConfig, log *zap.SugaredLogger) (llm.Adapter, error) {
	log = logger.Or(log)
	provider := ResolveProvider(cfg)
	log.Infow("llm provider selected", "provider", provider, "explicit", cfg.Provider != "")

	switch provider {
	case llm.ProviderOpenAI:
		adapter, err := llm.NewOpenAI(ctx, llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}, log)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case llm.ProviderGemini:
		adapter, err := llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey:          cfg.GeminiAPIKey,
			Model:           cfg.GeminiModel,
			SafetyThreshold: cfg.GeminiSafetyThreshold,
		}, log)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case llm.ProviderClaude:
		adapter, err := llm.NewClaude(ctx, llm.ClaudeConfig{
			APIKey:    cfg.AnthropicAPIKey,
			BaseURL:   cfg.AnthropicBaseURL,
			Model:     cfg.ClaudeModel,
			MaxTokens: cfg.ClaudeMaxTokens,
		}, log)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case llm.ProviderPlaceholder:
		log.Warnw("no llm credentials configured, replies are placeholders")
		return llm.NewPlaceholder(cfg.PlaceholderReply), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}


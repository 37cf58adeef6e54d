package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"chatbridge/internal/models"
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

func NewOpenAI(ctx context.Context, cfg OpenAIConfig, log *zap.SugaredLogger) (*ChatModelAdapter, error) {
	if cfg.APIKey == "" {
		return nil, &models.AdapterConfigurationError{Adapter: string(ProviderOpenAI), Field: "OPENAI_API_KEY"}
	}
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init openai model: %w", err)
	}
	return NewChatModelAdapter(ProviderOpenAI, chatModel, log), nil
}

type GeminiConfig struct {
	APIKey string
	Model  string
	// SafetyThreshold is one of none, high, medium or low.
	SafetyThreshold string
}

func NewGemini(ctx context.Context, cfg GeminiConfig, log *zap.SugaredLogger) (*ChatModelAdapter, error) {
	if cfg.APIKey == "" {
		return nil, &models.AdapterConfigurationError{Adapter: string(ProviderGemini), Field: "GEMINI_API_KEY"}
	}
	safety, err := SafetySettings(cfg.SafetyThreshold)
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:         client,
		Model:          cfg.Model,
		SafetySettings: safety,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini model: %w", err)
	}
	return NewChatModelAdapter(ProviderGemini, chatModel, log), nil
}

var safetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// SafetySettings applies one block threshold to every harm category.
func SafetySettings(threshold string) ([]*genai.SafetySetting, error) {
	var level genai.HarmBlockThreshold
	switch strings.ToLower(strings.TrimSpace(threshold)) {
	case "", "medium":
		level = genai.HarmBlockThresholdBlockMediumAndAbove
	case "none":
		level = genai.HarmBlockThresholdBlockNone
	case "high":
		level = genai.HarmBlockThresholdBlockOnlyHigh
	case "low":
		level = genai.HarmBlockThresholdBlockLowAndAbove
	default:
		return nil, &models.AdapterConfigurationError{
			Adapter: string(ProviderGemini),
			Field:   "GEMINI_SAFETY_THRESHOLD",
			Reason:  fmt.Sprintf("has unknown value %q", threshold),
		}
	}
	settings := make([]*genai.SafetySetting, 0, len(safetyCategories))
	for _, category := range safetyCategories {
		settings = append(settings, &genai.SafetySetting{Category: category, Threshold: level})
	}
	return settings, nil
}

type ClaudeConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

func NewClaude(ctx context.Context, cfg ClaudeConfig, log *zap.SugaredLogger) (*ChatModelAdapter, error) {
	if cfg.APIKey == "" {
		return nil, &models.AdapterConfigurationError{Adapter: string(ProviderClaude), Field: "ANTHROPIC_API_KEY"}
	}
	var baseURLPtr *string
	if cfg.BaseURL != "" {
		baseURLPtr = &cfg.BaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	chatModel, err := claude.NewChatModel(ctx, &claude.Config{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		BaseURL:   baseURLPtr,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("init claude model: %w", err)
	}
	return NewChatModelAdapter(ProviderClaude, chatModel, log), nil
}

package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix namespaces every variable. Each one is also read under its bare
// name, so TELEGRAM_BOT_TOKEN works as well as CHATBRIDGE_MESSAGING_TELEGRAM_BOT_TOKEN.
const Prefix = "CHATBRIDGE"

// Config represents runtime configuration for the service.
type Config struct {
	Log       LogConfig
	Server    ServerConfig
	Chatbot   ChatbotConfig
	Workers   WorkerConfig
	Messaging MessagingConfig
	LLM       LLMConfig
	Redis     RedisConfig
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info" desc:"debug, info, warn or error"`
	Format string `envconfig:"LOG_FORMAT" default:"console" desc:"console or json"`
}

type ServerConfig struct {
	Addr            string        `envconfig:"HTTP_LISTEN" default:":8090"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

type ChatbotConfig struct {
	MaxHistoryLength int           `envconfig:"MAX_HISTORY_LENGTH" default:"10"`
	SystemPrompt     string        `envconfig:"SYSTEM_PROMPT"`
	LLMTimeout       time.Duration `envconfig:"LLM_TIMEOUT" default:"2m" desc:"0 disables the bound"`
	Temperature      *float32      `envconfig:"LLM_TEMPERATURE"`
	MaxTokens        *int          `envconfig:"LLM_MAX_TOKENS"`
	Model            string        `envconfig:"LLM_MODEL" desc:"per-call model override"`
	ResetCommands    []string      `envconfig:"RESET_COMMANDS" default:"/reset,/cancel"`
}

type WorkerConfig struct {
	MinWorkers        int           `envconfig:"MIN_WORKERS" default:"2"`
	MaxWorkers        int           `envconfig:"MAX_WORKERS" default:"16"`
	WorkerIdleTimeout time.Duration `envconfig:"WORKER_IDLE_TIMEOUT" default:"30s"`
}

type MessagingConfig struct {
	Platform string `envconfig:"MESSAGING_PLATFORM" desc:"console, telegram, twilio or whatsapp; empty picks from credentials"`

	ConsoleUserID string `envconfig:"CONSOLE_USER_ID" default:"console"`
	ConsolePrompt string `envconfig:"CONSOLE_PROMPT" default:"you> "`

	TelegramBotToken    string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIEndpoint string `envconfig:"TELEGRAM_API_ENDPOINT"`
	TelegramPollTimeout int    `envconfig:"TELEGRAM_POLL_TIMEOUT" default:"30"`
	TelegramGreeting    string `envconfig:"TELEGRAM_GREETING" default:"Hi! Send me a message and I will answer."`

	TwilioAccountSID        string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken         string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber        string `envconfig:"TWILIO_FROM_NUMBER" desc:"sender, e.g. whatsapp:+14155238886"`
	TwilioWebhookPath       string `envconfig:"TWILIO_WEBHOOK_PATH" default:"/webhook"`
	TwilioPublicURL         string `envconfig:"TWILIO_PUBLIC_URL" desc:"externally visible webhook URL used for signature checks"`
	TwilioValidateSignature bool   `envconfig:"TWILIO_VALIDATE_SIGNATURE" default:"false"`

	WhatsAppVerifyToken string `envconfig:"WHATSAPP_VERIFY_TOKEN"`
	WhatsAppWebhookPath string `envconfig:"WHATSAPP_WEBHOOK_PATH" default:"/whatsapp/webhook"`
}

type LLMConfig struct {
	Provider string `envconfig:"LLM_PROVIDER" desc:"openai, gemini, claude or placeholder; empty picks from credentials"`

	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	GeminiAPIKey          string `envconfig:"GEMINI_API_KEY"`
	GeminiModel           string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	GeminiSafetyThreshold string `envconfig:"GEMINI_SAFETY_THRESHOLD" default:"medium" desc:"none, high, medium or low"`

	AnthropicAPIKey  string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `envconfig:"ANTHROPIC_BASE_URL"`
	ClaudeModel      string `envconfig:"CLAUDE_MODEL" default:"claude-3-5-haiku-latest"`
	ClaudeMaxTokens  int    `envconfig:"CLAUDE_MAX_TOKENS" default:"1024"`

	PlaceholderReply string `envconfig:"PLACEHOLDER_REPLY" default:"No language model is configured yet, so this is a placeholder reply."`
}

type RedisConfig struct {
	URI       string        `envconfig:"REDIS_URI" desc:"empty keeps webhook dedupe in memory"`
	DedupeTTL time.Duration `envconfig:"DEDUPE_TTL" default:"10m"`
}

var (
	platforms = []string{"", "console", "telegram", "twilio", "whatsapp"}
	providers = []string{"", "openai", "gemini", "claude", "placeholder"}
)

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Messaging.Platform = strings.ToLower(strings.TrimSpace(c.Messaging.Platform))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	commands := c.Chatbot.ResetCommands[:0]
	for _, cmd := range c.Chatbot.ResetCommands {
		if cmd = strings.TrimSpace(cmd); cmd != "" {
			commands = append(commands, cmd)
		}
	}
	c.Chatbot.ResetCommands = commands
}

// Validate checks enum values and numeric bounds. Credentials are checked
// by the adapters that need them.
func (c *Config) Validate() error {
	if !slices.Contains(platforms, c.Messaging.Platform) {
		return fmt.Errorf("unknown messaging platform %q", c.Messaging.Platform)
	}
	if !slices.Contains(providers, c.LLM.Provider) {
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Chatbot.MaxHistoryLength < 2 {
		return fmt.Errorf("max history length must be at least 2, got %d", c.Chatbot.MaxHistoryLength)
	}
	if c.Chatbot.LLMTimeout < 0 {
		return fmt.Errorf("llm timeout must not be negative")
	}
	if c.Workers.MinWorkers < 1 {
		return fmt.Errorf("min workers must be at least 1")
	}
	if c.Workers.MaxWorkers < c.Workers.MinWorkers {
		return fmt.Errorf("max workers (%d) must not be below min workers (%d)", c.Workers.MaxWorkers, c.Workers.MinWorkers)
	}
	if c.Messaging.TwilioValidateSignature && c.Messaging.TwilioPublicURL == "" {
		return fmt.Errorf("twilio public url must be configured when signature validation is on")
	}
	return nil
}

// Usage prints the supported variables.
func Usage() error {
	var cfg Config
	tabs := tabwriter.NewWriter(os.Stdout, 1, 0, 4, ' ', 0)
	if err := envconfig.Usagef(Prefix, &cfg, tabs, envconfig.DefaultTableFormat); err != nil {
		return err
	}
	return tabs.Flush()
}

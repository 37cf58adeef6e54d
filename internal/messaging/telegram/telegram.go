// Package telegram receives messages through Bot API long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"chatbridge/internal/logger"
	"chatbridge/internal/messaging"
	"chatbridge/internal/models"
)

// MaxMessageLength is the Bot API limit for one text message.
const MaxMessageLength = 4096

const startCommand = "start"

type Config struct {
	Token string
	// APIEndpoint overrides tgbotapi.APIEndpoint, e.g. for a local Bot API server.
	APIEndpoint string
	PollTimeout int
	// Greeting answers /start without involving the chatbot. Empty forwards /start.
	Greeting string
}

type Adapter struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, log *zap.SugaredLogger) (*Adapter, error) {
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Token == "" {
		return nil, &models.AdapterConfigurationError{Adapter: string(messaging.PlatformTelegram), Field: "TELEGRAM_BOT_TOKEN"}
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	l := logger.Or(log).With("platform", messaging.PlatformTelegram)
	_ = tgbotapi.SetLogger(&zapBotLogger{log: l})
	return &Adapter{cfg: cfg, logger: l}, nil
}

func (a *Adapter) Platform() messaging.Platform {
	return messaging.PlatformTelegram
}

// Connect authenticates with getMe and starts long polling. A stopped bot
// cannot poll again, so every Connect builds a fresh client.
func (a *Adapter) Connect(ctx context.Context, handler messaging.InboundHandler) error {
	if handler == nil {
		return errors.New("telegram: handler required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		return nil
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(a.cfg.Token, a.cfg.APIEndpoint)
	if err != nil {
		a.logger.Errorw("create bot failed", "err", err)
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = a.cfg.PollTimeout
	updates := bot.GetUpdatesChan(updateConfig)

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.bot = bot
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.poll(connCtx, bot, updates, handler, a.done)

	a.logger.Infow("start polling", "bot", bot.Self.UserName)
	return nil
}

func (a *Adapter) poll(ctx context.Context, bot *tgbotapi.BotAPI, updates tgbotapi.UpdatesChannel, handler messaging.InboundHandler, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				a.logger.Infow("updates channel closed")
				return
			}
			a.handleUpdate(ctx, bot, update, handler)
		}
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update, handler messaging.InboundHandler) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if msg.IsCommand() && msg.Command() == startCommand && a.cfg.Greeting != "" {
		if _, err := bot.Send(tgbotapi.NewMessage(msg.Chat.ID, a.cfg.Greeting)); err != nil {
			a.logger.Errorw("send greeting failed", "chat_id", chatID, "err", err)
		}
		return
	}

	text := messageText(msg)
	if text == "" {
		return
	}
	payload := models.MessagePayload{
		UserID:          chatID,
		UserName:        senderName(msg),
		Text:            text,
		Timestamp:       time.Unix(int64(msg.Date), 0).UTC(),
		OriginalMessage: msg,
	}
	a.logger.Debugw("inbound received", "chat_id", chatID, "user_name", payload.UserName)
	if err := handler(ctx, payload); err != nil {
		a.logger.Errorw("handle inbound failed", "chat_id", chatID, "err", err)
	}
}

func messageText(msg *tgbotapi.Message) string {
	if text := strings.TrimSpace(msg.Text); text != "" {
		return text
	}
	if caption := strings.TrimSpace(msg.Caption); caption != "" {
		return caption
	}
	switch {
	case len(msg.Photo) > 0:
		return "[photo]"
	case msg.Document != nil:
		return fmt.Sprintf("[document: %s]", msg.Document.FileName)
	case msg.Voice != nil:
		return "[voice message]"
	case msg.Video != nil:
		return "[video]"
	case msg.Sticker != nil:
		return strings.TrimSpace("[sticker] " + msg.Sticker.Emoji)
	}
	return ""
}

func senderName(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return strings.TrimSpace(msg.Chat.Title)
	}
	if name := strings.TrimSpace(msg.From.UserName); name != "" {
		return name
	}
	return strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
}

func (a *Adapter) SendMessage(_ context.Context, userID, text string) error {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil {
		return &messaging.DeliveryError{Platform: messaging.PlatformTelegram, UserID: userID, Err: messaging.ErrNotConnected}
	}
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return &messaging.DeliveryError{Platform: messaging.PlatformTelegram, UserID: userID, Err: fmt.Errorf("chat id must be numeric: %w", err)}
	}
	for _, chunk := range messaging.SplitText(text, MaxMessageLength) {
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return &messaging.DeliveryError{Platform: messaging.PlatformTelegram, UserID: userID, Err: err}
		}
	}
	return nil
}

// Disconnect stops polling. The client stays available for sends so replies
// to turns already in flight still go out.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	bot, cancel, done := a.bot, a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	bot.StopReceivingUpdates()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.logger.Infow("stop polling")
	return nil
}

// CheckToken validates a bot token with getMe and returns the bot account.
func CheckToken(token, apiEndpoint string) (tgbotapi.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return tgbotapi.User{}, errors.New("token is empty")
	}
	if !strings.Contains(token, ":") {
		return tgbotapi.User{}, errors.New("token should look like <bot id>:<secret>")
	}
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, apiEndpoint)
	if err != nil {
		return tgbotapi.User{}, fmt.Errorf("getMe: %w", err)
	}
	return bot.Self, nil
}

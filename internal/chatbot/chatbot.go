// Package chatbot bridges one messaging adapter with one LLM adapter and
// keeps a bounded conversation history per user.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatbridge/internal/llm"
	"chatbridge/internal/logger"
	"chatbridge/internal/messaging"
	"chatbridge/internal/models"
	"chatbridge/internal/worker"
)

const (
	// FallbackText is sent when the model returns an empty completion.
	FallbackText = "Sorry, I could not come up with a response. Could you rephrase that?"
	// ApologyText is sent when the model call or the reply delivery fails.
	ApologyText = "Sorry, something went wrong while processing your message. Please try again later."
	// ResetText confirms a reset command.
	ResetText = "Conversation history cleared. Let's start over."
)

// ErrClosed is returned by Start after Shutdown.
var ErrClosed = errors.New("chatbot is shut down")

type Config struct {
	MaxHistoryLength int
	SystemPrompt     string
	// Options are passed to every completion call. Nil keeps provider defaults.
	Options *models.LLMOptions
	// LLMTimeout bounds one completion call. Zero disables the bound.
	LLMTimeout time.Duration
	// ResetCommands clear the sender's history instead of being answered.
	ResetCommands []string
	Workers       worker.Config
}

type Option func(*Chatbot)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Chatbot) { b.logger = l }
}

// WithHistory injects the history store, e.g. to share one between tests.
func WithHistory(h *ConversationHistory) Option {
	return func(b *Chatbot) { b.history = h }
}

// Chatbot wires a messaging adapter to an LLM adapter.
type Chatbot struct {
	messenger  messaging.Adapter
	llm        llm.Adapter
	cfg        Config
	history    *ConversationHistory
	dispatcher *worker.Dispatcher
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	state  State
	closed bool
}

func New(messenger messaging.Adapter, model llm.Adapter, cfg Config, opts ...Option) *Chatbot {
	if cfg.MaxHistoryLength <= 0 {
		cfg.MaxHistoryLength = DefaultMaxHistoryLength
	}
	b := &Chatbot{
		messenger: messenger,
		llm:       model,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logger.Or(b.logger).With("platform", messenger.Platform(), "provider", model.Provider())
	if b.history == nil {
		b.history = NewConversationHistory(cfg.MaxHistoryLength, cfg.SystemPrompt)
	}
	b.dispatcher = worker.NewDispatcher(cfg.Workers, b.logger)
	return b
}

// Start connects the messaging adapter. It is a no-op while listening and
// may be called again after Stop.
func (b *Chatbot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.state == StateListening {
		return nil
	}
	if err := b.messenger.Connect(ctx, b.enqueue); err != nil {
		return fmt.Errorf("connect %s: %w", b.messenger.Platform(), err)
	}
	b.state = StateListening
	b.logger.Infow("chatbot listening")
	return nil
}

// Stop disconnects the messaging adapter and keeps every history. Turns
// already queued still run. Calling Stop again is safe.
func (b *Chatbot) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateStopped {
		return nil
	}
	err := b.messenger.Disconnect(ctx)
	b.state = StateStopped
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", b.messenger.Platform(), err)
	}
	b.logger.Infow("chatbot stopped")
	return nil
}

// Drain waits until every queued turn has finished.
func (b *Chatbot) Drain(ctx context.Context) error {
	return b.dispatcher.Wait(ctx)
}

// Shutdown stops listening, finishes queued turns until ctx is done and
// releases the workers. The chatbot cannot be started again.
func (b *Chatbot) Shutdown(ctx context.Context) error {
	stopErr := b.Stop(ctx)
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return errors.Join(stopErr, b.dispatcher.Close(ctx))
}

func (b *Chatbot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// History returns a copy of the user's conversation.
func (b *Chatbot) History(userID string) []models.ChatMessage {
	return b.history.Get(userID)
}

// enqueue is the callback registered with the messaging adapter. It queues
// the turn on the user's lane and returns at once.
func (b *Chatbot) enqueue(_ context.Context, payload models.MessagePayload) error {
	return b.dispatcher.Submit(worker.Job{
		UserID: payload.UserID,
		Run: func(ctx context.Context) {
			b.HandleIncomingMessage(ctx, payload)
		},
	})
}

// HandleIncomingMessage runs one conversation turn. Every failure is logged
// and answered with a notice; nothing is returned to the caller.
func (b *Chatbot) HandleIncomingMessage(ctx context.Context, payload models.MessagePayload) {
	userID := payload.UserID
	log := b.logger.With("user_id", userID, "turn_id", uuid.NewString())

	text := strings.TrimSpace(payload.Text)
	if userID == "" || text == "" {
		log.Debugw("ignoring empty message")
		return
	}
	if b.isResetCommand(text) {
		b.history.Reset(userID)
		log.Infow("history reset")
		b.notify(ctx, log, userID, ResetText)
		return
	}

	history := b.history.Append(userID, models.ChatMessage{Role: models.RoleUser, Content: text})
	log.Debugw("calling model", "history_len", len(history))

	reply, err := b.complete(ctx, history)
	if err != nil {
		log.Errorw("generate response failed", "err", err)
		b.notify(ctx, log, userID, ApologyText)
		return
	}
	if reply == "" {
		log.Warnw("model returned an empty completion")
		b.notify(ctx, log, userID, FallbackText)
		return
	}

	b.history.Append(userID, models.ChatMessage{Role: models.RoleAssistant, Content: reply})
	if err := b.messenger.SendMessage(ctx, userID, reply); err != nil {
		log.Errorw("deliver reply failed", "err", err)
		b.notify(ctx, log, userID, ApologyText)
		return
	}
	log.Infow("turn completed", "reply_chars", len(reply))
}

func (b *Chatbot) complete(ctx context.Context, history []models.ChatMessage) (string, error) {
	if b.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.LLMTimeout)
		defer cancel()
	}
	reply, err := b.llm.GenerateResponse(ctx, history, b.cfg.Options)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// notify sends a fixed notice once; a failure is only logged.
func (b *Chatbot) notify(ctx context.Context, log *zap.SugaredLogger, userID, text string) {
	if err := b.messenger.SendMessage(ctx, userID, text); err != nil {
		log.Errorw("deliver notice failed", "err", err)
	}
}

func (b *Chatbot) isResetCommand(text string) bool {
	for _, cmd := range b.cfg.ResetCommands {
		if strings.EqualFold(text, cmd) {
			return true
		}
	}
	return false
}

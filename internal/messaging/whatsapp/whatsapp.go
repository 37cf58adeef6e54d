// Package whatsapp is a placeholder adapter for the WhatsApp Business Cloud
// API. Webhook verification and inbound parsing are complete; outbound
// messages are only logged until a Graph API sender is wired in.
package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatbridge/internal/dedupe"
	"chatbridge/internal/logger"
	"chatbridge/internal/messaging"
	"chatbridge/internal/models"
)

const (
	objectBusinessAccount = "whatsapp_business_account"
	dedupePrefix          = "whatsapp:"
)

type Config struct {
	VerifyToken string
	WebhookPath string
}

type webhookEvent struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image *struct {
		Caption string `json:"caption"`
	} `json:"image,omitempty"`
}

type Adapter struct {
	cfg    Config
	logger *zap.SugaredLogger
	dedupe dedupe.Store

	mu      sync.RWMutex
	handler messaging.InboundHandler
}

func New(cfg Config, store dedupe.Store, log *zap.SugaredLogger) (*Adapter, error) {
	if cfg.VerifyToken == "" {
		return nil, &models.AdapterConfigurationError{Adapter: string(messaging.PlatformWhatsApp), Field: "WHATSAPP_VERIFY_TOKEN"}
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/whatsapp/webhook"
	}
	if store == nil {
		store = dedupe.NewMemory(0)
	}
	return &Adapter{
		cfg:    cfg,
		logger: logger.Or(log).With("platform", messaging.PlatformWhatsApp),
		dedupe: store,
	}, nil
}

func (a *Adapter) Platform() messaging.Platform {
	return messaging.PlatformWhatsApp
}

func (a *Adapter) RegisterRoutes(r gin.IRouter) {
	r.GET(a.cfg.WebhookPath, a.verify)
	r.POST(a.cfg.WebhookPath, a.receive)
}

func (a *Adapter) Connect(_ context.Context, handler messaging.InboundHandler) error {
	if handler == nil {
		return errors.New("whatsapp: handler required")
	}
	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()
	a.logger.Infow("webhook listening", "path", a.cfg.WebhookPath)
	return nil
}

func (a *Adapter) Disconnect(context.Context) error {
	a.mu.Lock()
	a.handler = nil
	a.mu.Unlock()
	return nil
}

// SendMessage logs the reply. It never fails.
func (a *Adapter) SendMessage(_ context.Context, userID, text string) error {
	a.logger.Infow("outbound message (placeholder, not delivered)", "to", userID, "chars", len(text))
	return nil
}

// verify answers the subscription handshake.
func (a *Adapter) verify(c *gin.Context) {
	if c.Query("hub.mode") == "subscribe" && c.Query("hub.verify_token") == a.cfg.VerifyToken {
		c.String(http.StatusOK, c.Query("hub.challenge"))
		return
	}
	c.String(http.StatusForbidden, "verification failed")
}

func (a *Adapter) receive(c *gin.Context) {
	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler == nil {
		c.String(http.StatusServiceUnavailable, "not accepting messages")
		return
	}

	var event webhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if event.Object != objectBusinessAccount {
		c.JSON(http.StatusNotFound, gin.H{"error": "unsupported object"})
		return
	}

	ctx := c.Request.Context()
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				a.dispatch(ctx, handler, msg, names[msg.From])
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *Adapter) dispatch(ctx context.Context, handler messaging.InboundHandler, msg inboundMessage, name string) {
	text := messageText(msg)
	if msg.From == "" || text == "" {
		return
	}
	if msg.ID != "" {
		seen, err := a.dedupe.Seen(ctx, dedupePrefix+msg.ID)
		if err != nil {
			a.logger.Warnw("dedupe lookup failed", "message_id", msg.ID, "err", err)
		} else if seen {
			a.logger.Infow("dropping duplicate delivery", "message_id", msg.ID)
			return
		}
	}
	payload := models.MessagePayload{
		UserID:          msg.From,
		UserName:        name,
		Text:            text,
		Timestamp:       parseTimestamp(msg.Timestamp),
		OriginalMessage: msg,
	}
	if err := handler(ctx, payload); err != nil {
		a.logger.Errorw("handle inbound failed", "from", msg.From, "err", err)
		if msg.ID != "" {
			_ = a.dedupe.Forget(ctx, dedupePrefix+msg.ID)
		}
	}
}

func messageText(msg inboundMessage) string {
	switch {
	case msg.Text != nil:
		return strings.TrimSpace(msg.Text.Body)
	case msg.Image != nil && strings.TrimSpace(msg.Image.Caption) != "":
		return strings.TrimSpace(msg.Image.Caption)
	case msg.Type != "" && msg.Type != "text":
		return "[" + msg.Type + "]"
	}
	return ""
}

func parseTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

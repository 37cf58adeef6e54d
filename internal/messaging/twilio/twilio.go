// Package twilio serves the Twilio messaging webhook (WhatsApp or SMS) and
// replies through the Twilio REST API.
package twilio

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	twiliogo "github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	"chatbridge/internal/dedupe"
	"chatbridge/internal/logger"
	"chatbridge/internal/messaging"
	"chatbridge/internal/models"
)

// MaxMessageLength is the body limit of one Twilio message.
const MaxMessageLength = 1600

const (
	signatureHeader = "X-Twilio-Signature"
	dedupePrefix    = "twilio:"
	contentTypeXML  = "application/xml"
)

type Config struct {
	AccountSID  string
	AuthToken   string
	FromNumber  string
	WebhookPath string
	// PublicURL is the webhook URL as Twilio calls it; signatures are computed over it.
	PublicURL         string
	ValidateSignature bool
}

// messageCreator is the slice of the REST API used for replies.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type Adapter struct {
	cfg       Config
	logger    *zap.SugaredLogger
	dedupe    dedupe.Store
	messages  messageCreator
	validator twilioclient.RequestValidator
	emptyAck  []byte

	mu      sync.RWMutex
	handler messaging.InboundHandler
}

func New(cfg Config, store dedupe.Store, log *zap.SugaredLogger) (*Adapter, error) {
	switch {
	case cfg.AccountSID == "":
		return nil, configError("TWILIO_ACCOUNT_SID")
	case cfg.AuthToken == "":
		return nil, configError("TWILIO_AUTH_TOKEN")
	case cfg.FromNumber == "":
		return nil, configError("TWILIO_FROM_NUMBER")
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if store == nil {
		store = dedupe.NewMemory(0)
	}
	ack, err := twiml.Messages([]twiml.Element{})
	if err != nil {
		return nil, err
	}
	client := twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Adapter{
		cfg:       cfg,
		logger:    logger.Or(log).With("platform", messaging.PlatformTwilio),
		dedupe:    store,
		messages:  client.Api,
		validator: twilioclient.NewRequestValidator(cfg.AuthToken),
		emptyAck:  []byte(ack),
	}, nil
}

func configError(field string) error {
	return &models.AdapterConfigurationError{Adapter: string(messaging.PlatformTwilio), Field: field}
}

func (a *Adapter) Platform() messaging.Platform {
	return messaging.PlatformTwilio
}

// RegisterRoutes mounts the inbound webhook.
func (a *Adapter) RegisterRoutes(r gin.IRouter) {
	r.POST(a.cfg.WebhookPath, a.handleWebhook)
}

func (a *Adapter) Connect(_ context.Context, handler messaging.InboundHandler) error {
	if handler == nil {
		return errors.New("twilio: handler required")
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

func (a *Adapter) currentHandler() messaging.InboundHandler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.handler
}

// handleWebhook acknowledges every accepted delivery with empty TwiML right
// away; the reply is sent later through the REST API.
func (a *Adapter) handleWebhook(c *gin.Context) {
	handler := a.currentHandler()
	if handler == nil {
		c.String(http.StatusServiceUnavailable, "not accepting messages")
		return
	}
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "invalid form")
		return
	}
	if a.cfg.ValidateSignature && !a.validSignature(c) {
		a.logger.Warnw("rejected webhook with bad signature", "remote", c.ClientIP())
		c.String(http.StatusForbidden, "invalid signature")
		return
	}

	from := strings.TrimSpace(c.PostForm("From"))
	text := inboundText(c)
	if from == "" || text == "" {
		a.ack(c)
		return
	}

	ctx := c.Request.Context()
	sid := c.PostForm("MessageSid")
	if sid != "" {
		seen, err := a.dedupe.Seen(ctx, dedupePrefix+sid)
		if err != nil {
			a.logger.Warnw("dedupe lookup failed", "message_sid", sid, "err", err)
		} else if seen {
			a.logger.Infow("dropping duplicate delivery", "message_sid", sid)
			a.ack(c)
			return
		}
	}

	payload := models.MessagePayload{
		UserID:          from,
		UserName:        strings.TrimSpace(c.PostForm("ProfileName")),
		Text:            text,
		Timestamp:       time.Now().UTC(),
		OriginalMessage: c.Request.PostForm,
	}
	if err := handler(ctx, payload); err != nil {
		a.logger.Errorw("handle inbound failed", "from", from, "err", err)
		if sid != "" {
			if err := a.dedupe.Forget(ctx, dedupePrefix+sid); err != nil {
				a.logger.Warnw("dedupe forget failed", "message_sid", sid, "err", err)
			}
		}
	}
	a.ack(c)
}

func (a *Adapter) ack(c *gin.Context) {
	c.Data(http.StatusOK, contentTypeXML, a.emptyAck)
}

func (a *Adapter) validSignature(c *gin.Context) bool {
	signature := c.GetHeader(signatureHeader)
	if signature == "" {
		return false
	}
	params := make(map[string]string, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return a.validator.Validate(a.cfg.PublicURL, params, signature)
}

// inboundText returns the message body, or a marker for media-only messages.
func inboundText(c *gin.Context) string {
	if body := strings.TrimSpace(c.PostForm("Body")); body != "" {
		return body
	}
	numMedia, _ := strconv.Atoi(c.PostForm("NumMedia"))
	if numMedia <= 0 {
		return ""
	}
	if contentType := c.PostForm("MediaContentType0"); contentType != "" {
		return "[media: " + contentType + "]"
	}
	return "[media]"
}

func (a *Adapter) SendMessage(_ context.Context, userID, text string) error {
	for _, chunk := range messaging.SplitText(text, MaxMessageLength) {
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(userID)
		params.SetFrom(a.cfg.FromNumber)
		params.SetBody(chunk)
		resp, err := a.messages.CreateMessage(params)
		if err != nil {
			return &messaging.DeliveryError{Platform: messaging.PlatformTwilio, UserID: userID, Err: err}
		}
		if resp != nil && resp.Sid != nil {
			a.logger.Debugw("message queued", "to", userID, "sid", *resp.Sid)
		}
	}
	return nil
}

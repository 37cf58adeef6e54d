// Package messaging defines the boundary between a chat platform and the
// chatbot core.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"chatbridge/internal/models"
)

// Platform names a messaging adapter variant.
type Platform string

const (
	PlatformConsole  Platform = "console"
	PlatformTelegram Platform = "telegram"
	PlatformTwilio   Platform = "twilio"
	PlatformWhatsApp Platform = "whatsapp"
)

// InboundHandler receives every normalized inbound message. Adapters call it
// in transport order and do not wait on turn processing; the handler itself
// only queues the turn.
type InboundHandler func(ctx context.Context, payload models.MessagePayload) error

// Adapter connects the core to one platform.
type Adapter interface {
	Platform() Platform
	// Connect starts receiving and registers handler. Only one handler is kept.
	Connect(ctx context.Context, handler InboundHandler) error
	// SendMessage delivers text to userID, failing with *DeliveryError.
	SendMessage(ctx context.Context, userID, text string) error
	// Disconnect stops receiving. Calling it more than once is safe.
	Disconnect(ctx context.Context) error
}

// DeliveryError reports an outbound message the platform did not accept.
type DeliveryError struct {
	Platform Platform
	UserID   string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: deliver to %s: %v", e.Platform, e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ErrNotConnected is wrapped in a DeliveryError when sending before Connect.
var ErrNotConnected = errors.New("adapter not connected")

package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/flemzord/relaybot/internal/server"
	"github.com/flemzord/relaybot/pkg/message"
)

var _ server.WebhookHandler = (*WebhookReceiver)(nil)

// ErrWebhookSecret is returned when the secret token header does not match.
var ErrWebhookSecret = fmt.Errorf("telegram: invalid webhook secret token: %w", server.ErrUnauthorized)

// WebhookReceiver processes Telegram update payloads posted to the
// server's /webhooks/telegram route.
type WebhookReceiver struct {
	receiver
	secret string
}

// NewWebhookReceiver creates a new WebhookReceiver.
func NewWebhookReceiver(client *Client, inbox func(message.InboundMessage) error, logger *slog.Logger, secret string) *WebhookReceiver {
	return &WebhookReceiver{
		receiver: receiver{client: client, inbox: inbox, logger: logger},
		secret:   secret,
	}
}

// HandleWebhook implements server.WebhookHandler.
func (w *WebhookReceiver) HandleWebhook(ctx context.Context, _ string, body []byte, headers http.Header) error {
	if w.secret != "" {
		token := headers.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(w.secret), []byte(token)) != 1 {
			return ErrWebhookSecret
		}
	}

	var update Update
	if err := json.Unmarshal(body, &update); err != nil {
		return fmt.Errorf("telegram: invalid update JSON: %w", err)
	}

	// A full inbox is logged by handle; returning it would make Telegram
	// redeliver the update.
	_ = w.handle(ctx, &update)
	return nil
}

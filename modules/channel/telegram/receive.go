package telegram

import (
	"context"
	"errors"
	"log/slog"

	"github.com/flemzord/relaybot/pkg/message"
)

// receiver turns raw updates into inbox deliveries. It is shared by the
// poller and the webhook receiver.
type receiver struct {
	client *Client
	inbox  func(message.InboundMessage) error
	logger *slog.Logger
}

// handle converts one update and pushes it to the inbox. Button presses
// are acknowledged first so the client stops its loading indicator even
// when the router drops the event.
func (r *receiver) handle(ctx context.Context, update *Update) error {
	msg, err := convertInbound(update, ChannelName)
	if err != nil {
		if !errors.Is(err, errSkipUpdate) {
			r.logger.Warn("telegram: cannot convert update", "update_id", update.UpdateID, "error", err)
		} else {
			r.logger.Debug("skipping update", "update_id", update.UpdateID)
		}
		return nil
	}

	if msg.CallbackID != "" {
		if err := r.client.AnswerCallbackQuery(ctx, AnswerCallbackQueryRequest{CallbackQueryID: msg.CallbackID}); err != nil {
			r.logger.Debug("telegram: answerCallbackQuery failed", "error", err)
		}
	}

	if err := r.inbox(msg); err != nil {
		r.logger.Warn("failed to deliver update to inbox",
			"update_id", update.UpdateID,
			"error", err,
		)
		return err
	}
	return nil
}

package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/flemzord/relaybot/pkg/message"
)

// maxCaptionRunes is Telegram's caption limit for media messages.
const maxCaptionRunes = 1024

// sendOutbound delivers an OutboundMessage block by block. The keyboard is
// attached to the last block so it appears under the whole reply. Any
// failed block aborts the rest.
func (t *Telegram) sendOutbound(ctx context.Context, msg message.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.Chat.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", msg.Chat.ID, err)
	}

	replyTo := 0
	if msg.ReplyToID != "" {
		if v, err := strconv.Atoi(msg.ReplyToID); err == nil {
			replyTo = v
		} else {
			t.logger.Debug("ignoring non-numeric reply id", "reply_to", msg.ReplyToID)
		}
	}

	var hints message.OutboundHints
	if msg.Hints != nil {
		hints = *msg.Hints
	}

	blocks := msg.Blocks
	if len(blocks) == 0 && len(msg.Keyboard) > 0 {
		return fmt.Errorf("telegram: keyboard without content")
	}

	for i, block := range blocks {
		var markup *InlineKeyboardMarkup
		if i == len(blocks)-1 {
			markup = convertKeyboard(msg.Keyboard)
		}
		if err := t.sendBlock(ctx, chatID, replyTo, hints, block, markup); err != nil {
			return fmt.Errorf("telegram: send %s block: %w", block.Type, err)
		}
	}
	return nil
}

func (t *Telegram) sendBlock(ctx context.Context, chatID int64, replyTo int, hints message.OutboundHints, block message.ContentBlock, markup *InlineKeyboardMarkup) error {
	if block.Type == message.BlockText {
		_, err := t.client.SendMessage(ctx, SendMessageRequest{
			ChatID:                chatID,
			Text:                  block.Text,
			ParseMode:             hints.ParseMode,
			DisableWebPagePreview: hints.DisablePreview,
			DisableNotification:   hints.DisableNotification,
			ReplyToMessageID:      replyTo,
			ReplyMarkup:           markup,
		})
		return err
	}

	method, ok := mediaMethod(block)
	if !ok {
		t.logger.Debug("skipping unsupported block", "type", block.Type)
		return nil
	}
	req := SendMediaRequest{
		ChatID:              chatID,
		Caption:             truncateRunes(block.Caption, maxCaptionRunes),
		ParseMode:           hints.ParseMode,
		DisableNotification: hints.DisableNotification,
		ReplyToMessageID:    replyTo,
		ReplyMarkup:         markup,
	}
	switch {
	case block.HasInlineData():
		req.Data = block.Data
		req.FileName = block.FileName
	case block.FileID != "":
		req.Ref = block.FileID
	default:
		req.Ref = block.URL
	}
	_, err := t.client.SendMedia(ctx, method, req)
	return err
}

func mediaMethod(block message.ContentBlock) (MediaMethod, bool) {
	switch block.Type {
	case message.BlockImage:
		return SendPhoto, true
	case message.BlockAudio:
		if block.IsVoice {
			return SendVoice, true
		}
		return SendAudio, true
	case message.BlockVideo:
		return SendVideo, true
	case message.BlockFile:
		return SendDocument, true
	}
	return "", false
}

// convertKeyboard maps button rows to Telegram's inline keyboard. Buttons
// with a URL open a link; the others send their payload back as callback
// data.
func convertKeyboard(rows [][]message.Button) *InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	markup := &InlineKeyboardMarkup{InlineKeyboard: make([][]InlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		out := make([]InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btn := InlineKeyboardButton{Text: b.Text}
			if b.URL != "" {
				btn.URL = b.URL
			} else {
				btn.CallbackData = b.Payload
			}
			out = append(out, btn)
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, out)
	}
	return markup
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

package telegram

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/flemzord/relaybot/pkg/message"
)

// errSkipUpdate marks updates that carry nothing the bot reacts to.
var errSkipUpdate = errors.New("telegram: update carries no supported event")

// convertInbound transforms a Telegram Update into a platform-agnostic
// InboundMessage classified as a command, button press, text or media event.
func convertInbound(update *Update, channelName string) (message.InboundMessage, error) {
	if update.CallbackQuery != nil {
		return convertCallback(update, channelName)
	}

	msg := update.Message
	if msg == nil {
		return message.InboundMessage{}, errSkipUpdate
	}

	inbound := message.InboundMessage{
		ID:        strconv.Itoa(msg.MessageID),
		Timestamp: time.Unix(int64(msg.Date), 0),
		Channel:   channelName,
		Sender:    convertSender(msg.From),
		Chat:      convertChat(msg.Chat),
		Raw:       rawUpdate(update),
	}
	if msg.ReplyToMessage != nil {
		inbound.ReplyToID = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}

	if media, ok := mediaBlock(msg); ok {
		inbound.Kind = message.EventMedia
		inbound.Blocks = []message.ContentBlock{media}
		if msg.Caption != "" {
			inbound.Blocks = append(inbound.Blocks, message.NewTextBlock(msg.Caption))
		}
		return inbound, nil
	}

	if msg.Text == "" {
		return message.InboundMessage{}, errSkipUpdate
	}
	if cmd, args, ok := message.ParseCommand(msg.Text); ok {
		inbound.Kind = message.EventCommand
		inbound.Command = cmd
		inbound.Args = args
	} else {
		inbound.Kind = message.EventText
	}
	inbound.Blocks = []message.ContentBlock{message.NewTextBlock(msg.Text)}
	return inbound, nil
}

// convertCallback maps an inline keyboard press. The chat is the one
// holding the pressed message, or the presser's private chat when Telegram
// omits it (messages older than 48 hours).
func convertCallback(update *Update, channelName string) (message.InboundMessage, error) {
	cq := update.CallbackQuery
	if cq.Data == "" {
		return message.InboundMessage{}, errSkipUpdate
	}

	from := cq.From
	inbound := message.InboundMessage{
		ID:         "cb:" + cq.ID,
		Timestamp:  time.Now(),
		Channel:    channelName,
		Kind:       message.EventButton,
		Sender:     convertSender(&from),
		Payload:    cq.Data,
		CallbackID: cq.ID,
		Raw:        rawUpdate(update),
	}
	if cq.Message != nil {
		inbound.Chat = convertChat(cq.Message.Chat)
		inbound.ReplyToID = strconv.Itoa(cq.Message.MessageID)
	} else {
		inbound.Chat = message.Chat{ID: strconv.FormatInt(from.ID, 10), Type: message.ChatDM}
	}
	return inbound, nil
}

func rawUpdate(update *Update) json.RawMessage {
	raw, err := json.Marshal(update)
	if err != nil {
		return nil
	}
	return raw
}

// convertSender maps a Telegram User to a platform-agnostic Sender.
func convertSender(user *User) message.Sender {
	if user == nil {
		return message.Sender{}
	}
	displayName := user.FirstName
	if user.LastName != "" {
		displayName += " " + user.LastName
	}
	return message.Sender{
		ID:          strconv.FormatInt(user.ID, 10),
		Username:    user.Username,
		DisplayName: displayName,
	}
}

// convertChat maps a Telegram Chat to a platform-agnostic Chat.
func convertChat(chat Chat) message.Chat {
	title := chat.Title
	if title == "" {
		title = chat.Username
	}
	return message.Chat{
		ID:    strconv.FormatInt(chat.ID, 10),
		Type:  mapChatType(chat.Type),
		Title: title,
	}
}

// mapChatType converts Telegram chat type strings to message.ChatType.
func mapChatType(tgType string) message.ChatType {
	switch tgType {
	case "private":
		return message.ChatDM
	case "channel":
		return message.ChatBroadcast
	default:
		return message.ChatGroup
	}
}

// mediaBlock builds the block for the media a message carries. The payload
// stays on Telegram's servers and is referenced by FileID until fetched.
func mediaBlock(msg *Message) (message.ContentBlock, bool) {
	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		return message.ContentBlock{Type: message.BlockImage, FileID: largest.FileID, MIMEType: "image/jpeg"}, true
	case msg.Audio != nil:
		return message.ContentBlock{
			Type:     message.BlockAudio,
			FileID:   msg.Audio.FileID,
			MIMEType: msg.Audio.MIMEType,
			FileName: msg.Audio.FileName,
		}, true
	case msg.Voice != nil:
		return message.ContentBlock{
			Type:     message.BlockAudio,
			FileID:   msg.Voice.FileID,
			MIMEType: msg.Voice.MIMEType,
			FileName: "voice.ogg",
			IsVoice:  true,
		}, true
	case msg.Video != nil:
		return message.ContentBlock{
			Type:     message.BlockVideo,
			FileID:   msg.Video.FileID,
			MIMEType: msg.Video.MIMEType,
			FileName: msg.Video.FileName,
		}, true
	case msg.Document != nil:
		return message.ContentBlock{
			Type:     message.BlockFile,
			FileID:   msg.Document.FileID,
			MIMEType: msg.Document.MIMEType,
			FileName: msg.Document.FileName,
		}, true
	}
	return message.ContentBlock{}, false
}

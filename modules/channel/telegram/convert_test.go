package telegram

import (
	"errors"
	"testing"

	"github.com/flemzord/relaybot/pkg/message"
)

func TestConvertInbound_Command(t *testing.T) {
	update := &Update{
		UpdateID: 1,
		Message: &Message{
			MessageID: 10,
			From:      &User{ID: 42, FirstName: "Alice", LastName: "Liddell", Username: "alice"},
			Chat:      Chat{ID: 42, Type: "private"},
			Date:      1700000000,
			Text:      "/allow@relay_bot @bob",
		},
	}

	msg, err := convertInbound(update, ChannelName)
	if err != nil {
		t.Fatalf("convertInbound() error: %v", err)
	}
	if msg.Kind != message.EventCommand || msg.Command != "allow" || msg.Args != "@bob" {
		t.Errorf("kind/command/args = %q/%q/%q", msg.Kind, msg.Command, msg.Args)
	}
	if msg.Sender.ID != "42" || msg.Sender.Handle() != "@alice" || msg.Sender.DisplayName != "Alice Liddell" {
		t.Errorf("Sender = %+v", msg.Sender)
	}
	if msg.Chat.Type != message.ChatDM || msg.Channel != "telegram" || msg.ID != "10" {
		t.Errorf("msg = %+v", msg)
	}
	if len(msg.Raw) == 0 {
		t.Error("Raw is empty")
	}
}

func TestConvertInbound_Text(t *testing.T) {
	update := &Update{Message: &Message{
		MessageID:      11,
		From:           &User{ID: 42},
		Chat:           Chat{ID: -100, Type: "supergroup", Title: "Friends"},
		Text:           "https://youtu.be/dQw4w9WgXcQ",
		ReplyToMessage: &Message{MessageID: 9},
	}}

	msg, err := convertInbound(update, ChannelName)
	if err != nil {
		t.Fatalf("convertInbound() error: %v", err)
	}
	if msg.Kind != message.EventText {
		t.Errorf("Kind = %q, want text", msg.Kind)
	}
	if msg.TextContent() != "https://youtu.be/dQw4w9WgXcQ" {
		t.Errorf("TextContent() = %q", msg.TextContent())
	}
	if !msg.IsGroup() || msg.Chat.Title != "Friends" || msg.ReplyToID != "9" {
		t.Errorf("Chat = %+v, ReplyToID = %q", msg.Chat, msg.ReplyToID)
	}
}

func TestConvertInbound_Media(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		wantType message.BlockType
		wantFile string
		wantName string
		voice    bool
	}{
		{
			name:     "largest photo",
			msg:      Message{Photo: []PhotoSize{{FileID: "small"}, {FileID: "large"}}, Caption: "look"},
			wantType: message.BlockImage,
			wantFile: "large",
		},
		{
			name:     "audio",
			msg:      Message{Audio: &Audio{FileID: "a1", FileName: "song.mp3", MIMEType: "audio/mpeg"}},
			wantType: message.BlockAudio,
			wantFile: "a1",
			wantName: "song.mp3",
		},
		{
			name:     "voice",
			msg:      Message{Voice: &Voice{FileID: "v1", MIMEType: "audio/ogg"}},
			wantType: message.BlockAudio,
			wantFile: "v1",
			wantName: "voice.ogg",
			voice:    true,
		},
		{
			name:     "video",
			msg:      Message{Video: &Video{FileID: "m1", FileName: "clip.mp4"}},
			wantType: message.BlockVideo,
			wantFile: "m1",
			wantName: "clip.mp4",
		},
		{
			name:     "document",
			msg:      Message{Document: &Document{FileID: "d1", FileName: "notes.wav"}},
			wantType: message.BlockFile,
			wantFile: "d1",
			wantName: "notes.wav",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.msg
			m.MessageID = 5
			m.From = &User{ID: 1}
			m.Chat = Chat{ID: 1, Type: "private"}

			got, err := convertInbound(&Update{Message: &m}, ChannelName)
			if err != nil {
				t.Fatalf("convertInbound() error: %v", err)
			}
			if got.Kind != message.EventMedia {
				t.Errorf("Kind = %q, want media", got.Kind)
			}
			block, ok := got.Media()
			if !ok {
				t.Fatal("Media() ok = false")
			}
			if block.Type != tt.wantType || block.FileID != tt.wantFile || block.FileName != tt.wantName || block.IsVoice != tt.voice {
				t.Errorf("block = %+v", block)
			}
			if m.Caption != "" && got.TextContent() != m.Caption {
				t.Errorf("TextContent() = %q, want caption %q", got.TextContent(), m.Caption)
			}
		})
	}
}

func TestConvertInbound_Callback(t *testing.T) {
	update := &Update{CallbackQuery: &CallbackQuery{
		ID:      "cq1",
		From:    User{ID: 42, Username: "alice"},
		Message: &Message{MessageID: 77, Chat: Chat{ID: 42, Type: "private"}},
		Data:    "gen:image",
	}}

	msg, err := convertInbound(update, ChannelName)
	if err != nil {
		t.Fatalf("convertInbound() error: %v", err)
	}
	if msg.Kind != message.EventButton || msg.Payload != "gen:image" || msg.CallbackID != "cq1" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Chat.ID != "42" || msg.ReplyToID != "77" {
		t.Errorf("Chat.ID = %q, ReplyToID = %q", msg.Chat.ID, msg.ReplyToID)
	}
}

func TestConvertInbound_CallbackWithoutMessage(t *testing.T) {
	update := &Update{CallbackQuery: &CallbackQuery{ID: "cq2", From: User{ID: 9}, Data: "menu"}}

	msg, err := convertInbound(update, ChannelName)
	if err != nil {
		t.Fatalf("convertInbound() error: %v", err)
	}
	if msg.Chat.ID != "9" || msg.Chat.Type != message.ChatDM {
		t.Errorf("Chat = %+v, want DM with the presser", msg.Chat)
	}
}

func TestConvertInbound_Skips(t *testing.T) {
	tests := map[string]*Update{
		"empty update":          {UpdateID: 1},
		"no text or media":      {Message: &Message{MessageID: 1, Chat: Chat{ID: 1}}},
		"callback without data": {CallbackQuery: &CallbackQuery{ID: "x"}},
	}
	for name, update := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := convertInbound(update, ChannelName); !errors.Is(err, errSkipUpdate) {
				t.Errorf("error = %v, want errSkipUpdate", err)
			}
		})
	}
}

func TestMapChatType(t *testing.T) {
	tests := map[string]message.ChatType{
		"private":    message.ChatDM,
		"group":      message.ChatGroup,
		"supergroup": message.ChatGroup,
		"channel":    message.ChatBroadcast,
		"unknown":    message.ChatGroup,
	}
	for in, want := range tests {
		if got := mapChatType(in); got != want {
			t.Errorf("mapChatType(%q) = %q, want %q", in, got, want)
		}
	}
}

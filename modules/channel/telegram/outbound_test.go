package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/flemzord/relaybot/internal/channel"
	"github.com/flemzord/relaybot/pkg/message"
)

func TestSend_TextWithKeyboard(t *testing.T) {
	api := newFakeAPI(t)
	tg := newTestTelegram(api)

	out := message.NewTextMessage(message.Chat{ID: "42"}, "Welcome!").WithKeyboard(
		message.Row(message.Button{Text: "Chat", Payload: "gen:chat"}),
		message.Row(message.Button{Text: "Donate", URL: "https://example.com/donate"}),
	)
	out.ReplyToID = "10"
	out.Hints = &message.OutboundHints{DisablePreview: true, ParseMode: "HTML"}

	if err := tg.Send(context.Background(), out); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	calls := api.callsTo("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("sendMessage calls = %d, want 1", len(calls))
	}
	req := decodeBody[SendMessageRequest](t, calls[0].Body)
	if req.ChatID != 42 || req.Text != "Welcome!" || req.ReplyToMessageID != 10 {
		t.Errorf("request = %+v", req)
	}
	if !req.DisableWebPagePreview || req.ParseMode != "HTML" {
		t.Errorf("hints not applied: %+v", req)
	}
	kb := req.ReplyMarkup.InlineKeyboard
	if len(kb) != 2 || kb[0][0].CallbackData != "gen:chat" || kb[1][0].URL != "https://example.com/donate" || kb[1][0].CallbackData != "" {
		t.Errorf("keyboard = %+v", kb)
	}
}

func TestSend_KeyboardOnLastBlockOnly(t *testing.T) {
	api := newFakeAPI(t)
	tg := newTestTelegram(api)

	out := message.OutboundMessage{
		Chat: message.Chat{ID: "42"},
		Blocks: []message.ContentBlock{
			message.NewTextBlock("here it is"),
			message.NewImageBlock("https://example.com/a.png", "image/png"),
		},
		Keyboard: [][]message.Button{{{Text: "Menu", Payload: "menu"}}},
	}
	if err := tg.Send(context.Background(), out); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	text := decodeBody[SendMessageRequest](t, api.callsTo("sendMessage")[0].Body)
	if text.ReplyMarkup != nil {
		t.Error("keyboard attached to the first block")
	}
	photo := decodeBody[map[string]json.RawMessage](t, api.callsTo("sendPhoto")[0].Body)
	if _, ok := photo["reply_markup"]; !ok {
		t.Error("keyboard missing from the last block")
	}
}

func TestSend_MediaSources(t *testing.T) {
	api := newFakeAPI(t)
	tg := newTestTelegram(api)
	chat := message.Chat{ID: "5"}

	blocks := []message.ContentBlock{
		{Type: message.BlockAudio, FileID: "file-1", IsVoice: true},
		{Type: message.BlockVideo, URL: "https://example.com/v.mp4"},
		message.NewDataBlock(message.BlockFile, []byte("GIF89a"), "image/gif", "out.gif"),
	}
	for _, b := range blocks {
		if err := tg.Send(context.Background(), message.OutboundMessage{Chat: chat, Blocks: []message.ContentBlock{b}}); err != nil {
			t.Fatalf("Send(%s) error: %v", b.Type, err)
		}
	}

	voice := decodeBody[map[string]any](t, api.callsTo("sendVoice")[0].Body)
	if voice["voice"] != "file-1" {
		t.Errorf("sendVoice body = %v", voice)
	}
	video := decodeBody[map[string]any](t, api.callsTo("sendVideo")[0].Body)
	if video["video"] != "https://example.com/v.mp4" {
		t.Errorf("sendVideo body = %v", video)
	}
	doc := api.callsTo("sendDocument")
	if len(doc) != 1 || !strings.HasPrefix(doc[0].ContentType, "multipart/form-data") {
		t.Errorf("sendDocument = %+v, want a multipart upload", doc)
	}
}

func TestSend_TruncatesLongCaption(t *testing.T) {
	api := newFakeAPI(t)
	tg := newTestTelegram(api)

	block := message.NewImageBlock("https://example.com/a.png", "image/png")
	block.Caption = strings.Repeat("é", 2000)
	if err := tg.Send(context.Background(), message.OutboundMessage{Chat: message.Chat{ID: "1"}, Blocks: []message.ContentBlock{block}}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	body := decodeBody[map[string]any](t, api.callsTo("sendPhoto")[0].Body)
	caption, _ := body["caption"].(string)
	if n := len([]rune(caption)); n != maxCaptionRunes {
		t.Errorf("caption runes = %d, want %d", n, maxCaptionRunes)
	}
}

func TestSend_InvalidChatID(t *testing.T) {
	tg := newTestTelegram(newFakeAPI(t))
	err := tg.Send(context.Background(), message.NewTextMessage(message.Chat{ID: "not-a-number"}, "x"))
	if err == nil {
		t.Fatal("Send() error = nil, want error")
	}
}

func TestSend_StopsOnFirstFailure(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("sendMessage", func(w http.ResponseWriter, _ []byte) {
		writeJSON(t, w, APIResponse[json.RawMessage]{OK: false, ErrorCode: 403, Description: "Forbidden: bot was blocked by the user"})
	})
	tg := newTestTelegram(api)

	out := message.OutboundMessage{
		Chat: message.Chat{ID: "1"},
		Blocks: []message.ContentBlock{
			message.NewTextBlock("first"),
			message.NewImageBlock("https://example.com/a.png", ""),
		},
	}
	err := tg.Send(context.Background(), out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 403 {
		t.Fatalf("Send() error = %v, want APIError 403", err)
	}
	if n := len(api.callsTo("sendPhoto")); n != 0 {
		t.Errorf("sendPhoto calls = %d, want 0 after failure", n)
	}
}

func TestFetchFile(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("getFile", func(w http.ResponseWriter, body []byte) {
		req := decodeBody[getFileRequest](t, body)
		writeJSON(t, w, APIResponse[File]{OK: true, Result: File{FileID: req.FileID, FilePath: "music/" + req.FileID + ".mp3", FileSize: 4}})
	})
	api.addFile("music/f1.mp3", []byte("ID3!"))
	tg := newTestTelegram(api)

	data, err := tg.FetchFile(context.Background(), message.ContentBlock{Type: message.BlockAudio, FileID: "f1"})
	if err != nil {
		t.Fatalf("FetchFile() error: %v", err)
	}
	if string(data) != "ID3!" {
		t.Errorf("data = %q", data)
	}

	inline, err := tg.FetchFile(context.Background(), message.NewDataBlock(message.BlockFile, []byte("x"), "", "x.bin"))
	if err != nil || string(inline) != "x" {
		t.Errorf("FetchFile(inline) = %q, %v", inline, err)
	}
	if n := len(api.callsTo("getFile")); n != 1 {
		t.Errorf("getFile calls = %d, want 1", n)
	}
}

func TestFetchFile_Errors(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("getFile", func(w http.ResponseWriter, _ []byte) {
		writeJSON(t, w, APIResponse[File]{OK: true, Result: File{FilePath: "big", FileSize: MaxDownloadBytes + 1}})
	})
	tg := newTestTelegram(api)

	if _, err := tg.FetchFile(context.Background(), message.ContentBlock{Type: message.BlockFile}); !errors.Is(err, channel.ErrUnsupported) {
		t.Errorf("FetchFile(no id) error = %v, want ErrUnsupported", err)
	}
	if _, err := tg.FetchFile(context.Background(), message.ContentBlock{Type: message.BlockFile, FileID: "big"}); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("FetchFile(big) error = %v, want ErrFileTooLarge", err)
	}
}

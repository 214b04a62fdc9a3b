package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/relaybot/internal/config"
	"github.com/flemzord/relaybot/internal/core"
	"github.com/flemzord/relaybot/internal/security/securitytest"
	"github.com/flemzord/relaybot/internal/server"
	"github.com/flemzord/relaybot/pkg/message"
	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

func configure(t *testing.T, tg *Telegram, doc string) {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(doc), &node); err != nil {
		t.Fatalf("unmarshal yaml: %v", err)
	}
	if err := tg.Configure(node.Content[0]); err != nil {
		t.Fatalf("Configure() error: %v", err)
	}
}

// TestLifecycle runs Configure, Provision, Validate, Start, an inbound
// update, an outbound reply and Stop against a fake Bot API.
func TestLifecycle(t *testing.T) {
	api := newFakeAPI(t)
	var served atomic.Bool
	api.handle("getUpdates", func(w http.ResponseWriter, _ []byte) {
		if served.CompareAndSwap(false, true) {
			writeJSON(t, w, APIResponse[[]Update]{OK: true, Result: []Update{{
				UpdateID: 1,
				Message: &Message{
					MessageID: 100,
					From:      &User{ID: 42, FirstName: "Alice", Username: "alice"},
					Chat:      Chat{ID: 42, Type: "private"},
					Text:      "ping",
					Date:      int(time.Now().Unix()),
				},
			}}})
			return
		}
		writeJSON(t, w, APIResponse[[]Update]{OK: true, Result: []Update{}})
		time.Sleep(20 * time.Millisecond)
	})

	tg := &Telegram{}
	configure(t, tg, "mode: polling\npolling_timeout: 0\napi_url: \""+api.srv.URL+"\"\n")

	// The token comes from the credential store.
	appCtx := core.NewAppContext(discardLogger(), t.TempDir())
	appCtx.RegisterService(core.ServiceCredentials, securitytest.NewTestCredentialStore(config.CredTelegramToken, testToken))
	if err := tg.Provision(appCtx); err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	if tg.config.Token != testToken {
		t.Fatalf("token = %q, want the credential store value", tg.config.Token)
	}
	if err := tg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	var got collector
	tg.SetInbox(got.inbox)
	if err := tg.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, func() bool { return len(got.received()) == 1 })

	inbound := got.received()[0]
	if inbound.Sender.Username != "alice" || inbound.TextContent() != "ping" {
		t.Errorf("inbound = %+v", inbound)
	}

	if err := tg.Send(context.Background(), message.NewTextMessage(inbound.Chat, "pong")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	sent := api.callsTo("sendMessage")
	if len(sent) != 1 || decodeBody[SendMessageRequest](t, sent[0].Body).Text != "pong" {
		t.Errorf("sendMessage calls = %+v", sent)
	}

	if err := tg.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if n := len(api.callsTo("deleteWebhook")); n != 1 {
		t.Errorf("deleteWebhook calls = %d, want 1 before polling", n)
	}
}

func TestLifecycleWebhook(t *testing.T) {
	api := newFakeAPI(t)
	dispatcher := server.NewWebhookDispatcher(discardLogger())

	tg := &Telegram{}
	configure(t, tg, "token: \""+testToken+"\"\nmode: webhook\nwebhook_url: https://bot.example.com/webhooks/telegram\nwebhook_secret: s3cret\napi_url: \""+api.srv.URL+"\"\n")

	appCtx := core.NewAppContext(discardLogger(), t.TempDir())
	appCtx.RegisterService(core.ServiceWebhooks, dispatcher)
	if err := tg.Provision(appCtx); err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	if err := tg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	var got collector
	tg.SetInbox(got.inbox)
	if err := tg.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	set := api.callsTo("setWebhook")
	if len(set) != 1 {
		t.Fatalf("setWebhook calls = %d, want 1", len(set))
	}
	if req := decodeBody[SetWebhookRequest](t, set[0].Body); req.SecretToken != "s3cret" || req.URL != "https://bot.example.com/webhooks/telegram" {
		t.Errorf("setWebhook request = %+v", req)
	}

	r := chi.NewRouter()
	r.Post("/webhooks/{source}", dispatcher.ServeHTTP)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram",
		strings.NewReader(`{"update_id":1,"message":{"message_id":2,"from":{"id":42,"first_name":"A"},"chat":{"id":42,"type":"private"},"text":"/help"}}`))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "s3cret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if msgs := got.received(); len(msgs) != 1 || msgs[0].Command != "help" {
		t.Errorf("received = %+v", msgs)
	}

	if err := tg.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if n := len(api.callsTo("deleteWebhook")); n != 1 {
		t.Errorf("deleteWebhook calls = %d, want 1 on stop", n)
	}
}

func TestWebhookModeNeedsServer(t *testing.T) {
	api := newFakeAPI(t)
	tg := &Telegram{}
	configure(t, tg, "token: \""+testToken+"\"\nmode: webhook\nwebhook_url: https://x.example.com/webhooks/telegram\napi_url: \""+api.srv.URL+"\"\n")
	if err := tg.Provision(core.NewAppContext(discardLogger(), t.TempDir())); err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	tg.SetInbox(func(message.InboundMessage) error { return nil })
	if err := tg.Start(); err == nil {
		t.Fatal("Start() error = nil, want missing server error")
	}
}

func TestStartWithoutInbox(t *testing.T) {
	tg := newTestTelegram(newFakeAPI(t))
	if err := tg.Start(); err == nil {
		t.Fatal("Start() error = nil, want ErrNoInbox")
	}
}

func TestModuleRegistered(t *testing.T) {
	info, ok := core.GetModule(ModuleID)
	if !ok {
		t.Fatal("channel.telegram module not registered")
	}
	if _, ok := info.New().(*Telegram); !ok {
		t.Errorf("New() returned %T, want *Telegram", info.New())
	}
}

func TestValidateRejectsEmptyToken(t *testing.T) {
	tg := &Telegram{}
	tg.config.defaults()
	if err := tg.Validate(); err == nil {
		t.Error("Validate() should error with empty token")
	}
}

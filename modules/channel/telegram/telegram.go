package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/relaybot/internal/channel"
	"github.com/flemzord/relaybot/internal/config"
	"github.com/flemzord/relaybot/internal/core"
	"github.com/flemzord/relaybot/internal/security"
	"github.com/flemzord/relaybot/internal/server"
	"github.com/flemzord/relaybot/pkg/message"
	"gopkg.in/yaml.v3"
)

// ModuleID is the identifier of the Telegram channel module.
const ModuleID = "channel.telegram"

// ChannelName is the value set on InboundMessage.Channel.
const ChannelName = "telegram"

func init() {
	core.RegisterModule(&Telegram{})
}

// Compile-time interface guards.
var (
	_ channel.Channel       = (*Telegram)(nil)
	_ channel.FileFetcher   = (*Telegram)(nil)
	_ channel.LengthLimited = (*Telegram)(nil)
	_ core.Configurable     = (*Telegram)(nil)
	_ core.Provisioner      = (*Telegram)(nil)
	_ core.Validator        = (*Telegram)(nil)
	_ core.Starter          = (*Telegram)(nil)
	_ core.Stopper          = (*Telegram)(nil)
)

// Telegram implements the Telegram Bot API channel.
type Telegram struct {
	config  Config
	client  *Client
	logger  *slog.Logger
	inbox   func(message.InboundMessage) error
	botUser *User
	appCtx  *core.AppContext

	// Set during Start() depending on mode.
	poller          *Poller
	webhookReceiver *WebhookReceiver
}

// ModuleInfo implements core.Module.
func (t *Telegram) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Telegram{} },
	}
}

// Configure implements core.Configurable.
func (t *Telegram) Configure(node *yaml.Node) error {
	if err := node.Decode(&t.config); err != nil {
		return fmt.Errorf("telegram: decode config: %w", err)
	}
	t.config.defaults()
	return nil
}

// Provision implements core.Provisioner. An empty token falls back to the
// bot token held in the credential store.
func (t *Telegram) Provision(ctx *core.AppContext) error {
	t.config.defaults()
	t.appCtx = ctx
	t.logger = ctx.Logger
	if t.config.Token == "" {
		if creds, ok := core.Service[*security.CredentialStore](ctx, core.ServiceCredentials); ok {
			t.config.Token, _ = creds.Get(config.CredTelegramToken)
		}
	}
	t.client = NewClient(t.config.Token, t.config.APIURL)
	return nil
}

// Validate implements core.Validator.
func (t *Telegram) Validate() error {
	if t.config.Token == "" {
		return errors.New("telegram: token is required")
	}
	return t.config.validate()
}

// Start implements core.Starter. It checks the token with getMe, then
// starts polling or registers the webhook.
func (t *Telegram) Start() error {
	if t.inbox == nil {
		return fmt.Errorf("telegram: %w", channel.ErrNoInbox)
	}

	user, err := t.client.GetMe(context.Background())
	if err != nil {
		return fmt.Errorf("telegram: getMe failed (check token): %w", err)
	}
	t.botUser = user
	t.logger.Info("telegram bot authenticated",
		"id", user.ID,
		"username", user.Username,
	)

	switch t.config.Mode {
	case "polling":
		// A webhook left behind by an earlier run makes getUpdates fail.
		if err := t.client.DeleteWebhook(context.Background()); err != nil {
			t.logger.Warn("telegram: deleteWebhook before polling failed", "error", err)
		}
		t.poller = NewPoller(t.client, t.inbox, t.logger, t.config)
		t.poller.Start()
		t.logger.Info("telegram polling started", "timeout", t.config.PollingTimeout)

	case "webhook":
		if t.config.WebhookSecret == "" {
			t.logger.Warn("telegram webhook running without secret_token, " +
				"set webhook_secret for production deployments")
		}
		t.webhookReceiver = NewWebhookReceiver(t.client, t.inbox, t.logger, t.config.WebhookSecret)
		if err := t.registerWebhook(); err != nil {
			return err
		}
		if err := t.client.SetWebhook(context.Background(), SetWebhookRequest{
			URL:            t.config.WebhookURL,
			SecretToken:    t.config.WebhookSecret,
			AllowedUpdates: t.config.AllowedUpdates,
		}); err != nil {
			return fmt.Errorf("telegram: setWebhook failed: %w", err)
		}
		t.logger.Info("telegram webhook configured", "url", t.config.WebhookURL)
	}

	return nil
}

// registerWebhook attaches the receiver to the HTTP server's dispatcher.
// Telegram authenticates with its own secret header, so no HMAC secret is
// registered.
func (t *Telegram) registerWebhook() error {
	dispatcher, ok := core.Service[*server.WebhookDispatcher](t.appCtx, core.ServiceWebhooks)
	if !ok {
		return errors.New("telegram: webhook mode needs the server.http module")
	}
	dispatcher.Register(ChannelName, t.webhookReceiver, "")
	return nil
}

// Stop implements core.Stopper.
func (t *Telegram) Stop(ctx context.Context) error {
	t.logger.Info("telegram channel stopping")

	switch t.config.Mode {
	case "polling":
		if t.poller != nil {
			t.poller.Stop()
		}
	case "webhook":
		if err := t.client.DeleteWebhook(ctx); err != nil {
			t.logger.Warn("telegram: failed to delete webhook on shutdown", "error", err)
		}
	}
	return nil
}

// Send implements channel.Channel.
func (t *Telegram) Send(ctx context.Context, msg message.OutboundMessage) error {
	return t.sendOutbound(ctx, msg)
}

// SetInbox implements channel.Channel.
func (t *Telegram) SetInbox(fn func(msg message.InboundMessage) error) {
	t.inbox = fn
}

// MaxMessageLength implements channel.LengthLimited.
func (t *Telegram) MaxMessageLength() int {
	return t.config.MaxMessageLength
}

// Package openai implements the backend.openai module: chat completions and
// image generation against the OpenAI API or any compatible server.
package openai

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/flemzord/relaybot/internal/config"
	"github.com/flemzord/relaybot/internal/core"
	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/internal/security"
	"gopkg.in/yaml.v3"
)

// ModuleID is the identifier under which the back end registers.
const ModuleID = "backend.openai"

func init() {
	core.RegisterModule(&Backend{})
}

// Compile-time interface guards.
var (
	_ gateway.Backend      = (*Backend)(nil)
	_ gateway.Availability = (*Backend)(nil)
	_ gateway.Named        = (*Backend)(nil)
	_ core.Module          = (*Backend)(nil)
	_ core.Configurable    = (*Backend)(nil)
	_ core.Provisioner     = (*Backend)(nil)
	_ core.Validator       = (*Backend)(nil)
)

// Backend serves the chat and image kinds.
type Backend struct {
	config Config
	logger *slog.Logger
	client *http.Client
	creds  *security.CredentialStore
}

// ModuleInfo implements core.Module.
func (b *Backend) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Backend{} },
	}
}

// Configure implements core.Configurable.
func (b *Backend) Configure(node *yaml.Node) error {
	if err := node.Decode(&b.config); err != nil {
		return err
	}
	b.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The back end registers itself with
// the gateway service published by the application.
func (b *Backend) Provision(ctx *core.AppContext) error {
	b.config.defaults()
	b.logger = ctx.Logger
	b.client = &http.Client{Timeout: b.config.parsedTimeout()}
	b.creds, _ = core.Service[*security.CredentialStore](ctx, core.ServiceCredentials)

	gw, ok := core.Service[*gateway.Gateway](ctx, core.ServiceGateway)
	if !ok {
		return errors.New("backend.openai: gateway service not available")
	}
	if err := gw.Register(b.Name(), b); err != nil {
		return fmt.Errorf("backend.openai: %w", err)
	}
	if b.Available() != nil {
		b.logger.Warn("no API key configured, chat and image generation are unavailable")
	}
	return nil
}

// Validate implements core.Validator. A missing key is not an error here:
// it only makes the back end unavailable.
func (b *Backend) Validate() error {
	return b.config.validate()
}

// Name implements gateway.Named.
func (b *Backend) Name() string {
	return "openai"
}

// Kinds implements gateway.Backend.
func (b *Backend) Kinds() []gateway.Kind {
	out := make([]gateway.Kind, 0, len(b.config.Kinds))
	for _, k := range b.config.Kinds {
		out = append(out, gateway.Kind(k))
	}
	return out
}

// Available implements gateway.Availability.
func (b *Backend) Available() error {
	if b.apiKey() == "" {
		return fmt.Errorf("%w: openai: no API key", gateway.ErrConfig)
	}
	return nil
}

// apiKey prefers the module configuration over the credential store.
func (b *Backend) apiKey() string {
	if b.config.APIKey != "" {
		return b.config.APIKey
	}
	if b.creds == nil {
		return ""
	}
	key, _ := b.creds.Get(config.CredOpenAIKey)
	return key
}

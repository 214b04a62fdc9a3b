// Package convert implements the backend.convert module, which converts a
// received file to another format with an ffmpeg subprocess.
package convert

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/flemzord/relaybot/internal/core"
	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/internal/security"
	"gopkg.in/yaml.v3"
)

// ModuleID is the identifier under which the back end registers.
const ModuleID = "backend.convert"

func init() {
	core.RegisterModule(&Backend{})
}

var (
	_ gateway.Backend      = (*Backend)(nil)
	_ gateway.Availability = (*Backend)(nil)
	_ gateway.Named        = (*Backend)(nil)
	_ core.Module          = (*Backend)(nil)
	_ core.Configurable    = (*Backend)(nil)
	_ core.Provisioner     = (*Backend)(nil)
	_ core.Validator       = (*Backend)(nil)
)

// Backend serves the convert kind.
type Backend struct {
	config   Config
	logger   *slog.Logger
	creds    *security.CredentialStore
	lookPath func(string) (string, error)
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

// Provision implements core.Provisioner.
func (b *Backend) Provision(ctx *core.AppContext) error {
	b.config.defaults()
	b.logger = ctx.Logger
	b.creds, _ = core.Service[*security.CredentialStore](ctx, core.ServiceCredentials)

	gw, ok := core.Service[*gateway.Gateway](ctx, core.ServiceGateway)
	if !ok {
		return errors.New("backend.convert: gateway service not available")
	}
	if err := gw.Register(b.Name(), b); err != nil {
		return fmt.Errorf("backend.convert: %w", err)
	}
	if err := b.Available(); err != nil {
		b.logger.Warn("file conversion unavailable", "error", err)
	}
	return nil
}

// Validate implements core.Validator.
func (b *Backend) Validate() error {
	return b.config.validate()
}

// Name implements gateway.Named.
func (b *Backend) Name() string {
	return "ffmpeg"
}

// Kinds implements gateway.Backend.
func (b *Backend) Kinds() []gateway.Kind {
	return []gateway.Kind{gateway.KindConvert}
}

// Available implements gateway.Availability. It reports ErrConfig when the
// ffmpeg binary cannot be found.
func (b *Backend) Available() error {
	if _, err := b.binary(); err != nil {
		return fmt.Errorf("%w: ffmpeg: %v", gateway.ErrConfig, err)
	}
	return nil
}

func (b *Backend) binary() (string, error) {
	look := b.lookPath
	if look == nil {
		look = exec.LookPath
	}
	return look(b.config.FFmpegPath)
}

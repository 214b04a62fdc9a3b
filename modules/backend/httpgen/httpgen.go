// Package httpgen implements the backend.httpgen module. It exposes
// JSON-over-HTTP generation services such as DeepAI, the HuggingFace
// inference API or a local inference server as gateway back ends, using
// gjson paths to locate the answer in each service's response.
package httpgen

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/flemzord/relaybot/internal/core"
	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/internal/security"
	"gopkg.in/yaml.v3"
)

// ModuleID is the identifier under which the module registers.
const ModuleID = "backend.httpgen"

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ gateway.Backend      = (*Endpoint)(nil)
	_ gateway.Availability = (*Endpoint)(nil)
	_ gateway.Named        = (*Endpoint)(nil)
	_ core.Module          = (*Module)(nil)
	_ core.Configurable    = (*Module)(nil)
	_ core.Provisioner     = (*Module)(nil)
	_ core.Validator       = (*Module)(nil)
)

// Module owns the configured endpoints.
type Module struct {
	config    Config
	logger    *slog.Logger
	endpoints []*Endpoint
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return err
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	if err := m.config.validate(); err != nil {
		return err
	}

	gw, ok := core.Service[*gateway.Gateway](ctx, core.ServiceGateway)
	if !ok {
		return errors.New("backend.httpgen: gateway service not available")
	}
	creds, _ := core.Service[*security.CredentialStore](ctx, core.ServiceCredentials)
	client := &http.Client{Timeout: m.config.parsedTimeout()}

	for _, ec := range m.config.Endpoints {
		ep := NewEndpoint(ec, client, creds)
		if err := gw.Register(ep.Name(), ep); err != nil {
			return fmt.Errorf("backend.httpgen: %w", err)
		}
		if err := ep.Available(); err != nil {
			m.logger.Warn("endpoint unavailable", "endpoint", ec.Name, "error", err)
		}
		m.endpoints = append(m.endpoints, ep)
	}
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if len(m.config.Endpoints) == 0 {
		return errors.New("backend.httpgen: at least one endpoint is required")
	}
	return m.config.validate()
}

// Endpoints returns the provisioned endpoints.
func (m *Module) Endpoints() []*Endpoint {
	return m.endpoints
}

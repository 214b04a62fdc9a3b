package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/core"
	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// ModuleID is the identifier of the HTTP server module.
const ModuleID = "server.http"

func init() {
	core.RegisterModule(&Server{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Server)(nil)
	_ core.Provisioner  = (*Server)(nil)
	_ core.Validator    = (*Server)(nil)
	_ core.Starter      = (*Server)(nil)
	_ core.Stopper      = (*Server)(nil)
)

// Server is the HTTP server module. Channels in webhook mode find its
// dispatcher under core.ServiceWebhooks.
type Server struct {
	config      Config
	appCtx      *core.AppContext
	logger      *slog.Logger
	server      *http.Server
	listener    net.Listener
	metrics     *Metrics
	gatherer    prometheus.Gatherer
	dispatcher  *WebhookDispatcher
	authLimiter *security.KeyedLimiter
	startedAt   time.Time

	// Resolved at Start() from the service registry.
	store   *access.Store
	gateway *gateway.Gateway
	audit   *security.AuditLogger
}

// ModuleInfo implements core.Module.
func (s *Server) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Server{} },
	}
}

// Configure implements core.Configurable.
func (s *Server) Configure(node *yaml.Node) error {
	if err := node.Decode(&s.config); err != nil {
		return err
	}
	s.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The dispatcher is published here so
// channels can register during their own Start.
func (s *Server) Provision(ctx *core.AppContext) error {
	s.config.defaults()
	s.appCtx = ctx
	s.logger = ctx.Logger

	reg, _ := core.Service[prometheus.Registerer](ctx, core.ServiceRegisterer)
	s.metrics = NewMetrics(reg)
	s.gatherer = gathererFor(reg)
	s.authLimiter = security.NewKeyedLimiter(1, 10)

	s.dispatcher = NewWebhookDispatcher(s.logger)
	s.dispatcher.maxBody = s.config.MaxBodyBytes
	for source, cfg := range s.config.Webhooks {
		if cfg.Secret != "" {
			s.dispatcher.SetSecret(source, cfg.Secret)
			s.logger.Info("webhook source configured", "source", source)
		}
	}
	ctx.RegisterService(core.ServiceWebhooks, s.dispatcher)
	return nil
}

// Validate implements core.Validator.
func (s *Server) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", s.config.Bind); err != nil {
		return fmt.Errorf("server: invalid bind address %q", s.config.Bind)
	}
	return nil
}

// Start implements core.Starter. Optional services degrade gracefully.
func (s *Server) Start() error {
	s.store, _ = core.Service[*access.Store](s.appCtx, core.ServiceStore)
	s.gateway, _ = core.Service[*gateway.Gateway](s.appCtx, core.ServiceGateway)
	s.audit, _ = core.Service[*security.AuditLogger](s.appCtx, core.ServiceAudit)
	s.startedAt = time.Now()

	s.server = &http.Server{
		Addr:              s.config.Bind,
		Handler:           s.buildRouter(),
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.config.Bind)
	if err != nil {
		return fmt.Errorf("server: listen failed: %w", err)
	}
	s.listener = ln

	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http serve error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	return s.server.Shutdown(shutdownCtx)
}

package app

import (
	"context"
	"fmt"

	"github.com/flemzord/relaybot/internal/channel"
	"github.com/flemzord/relaybot/internal/core"
	"github.com/flemzord/relaybot/internal/router"
)

// routerModule wraps a *router.Router to satisfy core.Module, core.Starter,
// and core.Stopper, so the router participates in the App lifecycle.
type routerModule struct {
	router *router.Router
	ctx    context.Context
}

func (m *routerModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: core.ServiceRouter}
}

func (m *routerModule) Start() error {
	m.router.Start(m.ctx)
	return nil
}

func (m *routerModule) Stop(ctx context.Context) error {
	m.router.Stop(ctx)
	return nil
}

// wireRouter creates the dispatcher and the router, installs the router
// inbox on every loaded channel, and appends the router to the app
// lifecycle. Sender and Files in cfg are replaced by the dispatcher. Must
// be called after LoadModules and before Start.
func wireRouter(app *core.App, appCtx *core.AppContext, cfg router.Config) (*router.Router, error) {
	dispatcher := channel.NewDispatcher()
	var channels []channel.Channel

	for _, mod := range app.Modules() {
		ch, ok := mod.(channel.Channel)
		if !ok {
			continue
		}
		id := mod.ModuleInfo().ID
		name := id.Name()
		if err := dispatcher.Register(name, ch); err != nil {
			return nil, fmt.Errorf("registering channel %s: %w", id, err)
		}
		channels = append(channels, ch)
		cfg.Logger.Info("router: registered channel", "channel", name)
	}

	cfg.Sender = dispatcher
	cfg.Files = dispatcher
	r, err := router.NewRouter(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}

	for _, ch := range channels {
		ch.SetInbox(r.Submit)
	}
	appCtx.RegisterService(core.ServiceInbox, r.Submit)
	appCtx.RegisterService(core.ServiceRouter, r)

	// The router starts last so every channel is ready to deliver replies,
	// and stops first so no worker sends through a stopped channel.
	app.AppendModule(core.ServiceRouter, &routerModule{
		router: r,
		ctx:    context.Background(),
	})

	if len(channels) == 0 {
		cfg.Logger.Warn("router: no channel loaded, the bot cannot receive messages")
	}
	cfg.Logger.Info("router: wired", "channels", len(channels))
	return r, nil
}

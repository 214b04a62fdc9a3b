package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/core"
	"github.com/robfig/cron/v3"
)

// ErrConfig marks a configuration problem that prevents startup.
var ErrConfig = errors.New("config error")

// Validate checks a loaded Config. Every problem is reported, joined; each
// one wraps ErrConfig.
func Validate(cfg *Config) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...))
	}

	if cfg.Version != "1" {
		fail("unsupported version %q (supported: \"1\")", cfg.Version)
	}

	if strings.TrimSpace(cfg.Bot.Token) == "" {
		fail("bot.token is required (or set %sBOT_TOKEN)", EnvPrefix)
	}
	if len(cfg.Bot.Admins) == 0 {
		fail("bot.admins must list at least one administrator (or set %sBOT_ADMINS)", EnvPrefix)
	}
	for i, h := range cfg.Bot.Admins {
		if _, err := access.NormalizeHandle(h); err != nil {
			fail("bot.admins[%d]: %v", i, err)
		}
	}
	if cfg.Bot.FloodRate < 0 || cfg.Bot.FloodBurst < 0 || cfg.Bot.BroadcastRate < 0 {
		fail("bot rate limits must not be negative")
	}

	switch cfg.Store.Driver {
	case "json", "sqlite":
	default:
		fail("store.driver %q is not one of json, sqlite", cfg.Store.Driver)
	}

	if cfg.Gateway.Concurrency < 0 {
		fail("gateway.concurrency must not be negative")
	}
	if cfg.Gateway.Timeout < 0 {
		fail("gateway.timeout must not be negative")
	}

	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		fail("log.level: %v", err)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		fail("log.format %q is not one of text, json", cfg.Log.Format)
	}

	if cfg.Backup.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Backup.Schedule); err != nil {
			fail("backup.schedule %q: %v", cfg.Backup.Schedule, err)
		}
	}

	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			fail("unknown module %q", id)
		}
	}

	return errors.Join(errs...)
}

// ParseLevel converts a level name into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
	return lvl, nil
}

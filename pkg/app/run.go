// Package app provides the shared entry point used by the relaybot CLI and
// the OS service wrapper.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/flemzord/relaybot/internal/config"
)

const shutdownTimeout = 30 * time.Second

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called; no file at all is valid and
	// leaves the environment as the only source.
	ConfigPath string

	// EnvFile is loaded into the environment before the config. Defaults
	// to ".env"; a missing file is ignored.
	EnvFile string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// LogLevel overrides log.level when non-nil.
	LogLevel *slog.Level

	// Modules overrides the module list derived from the config when
	// non-nil.
	Modules []string
}

// LoadConfig reads the env file, then the configuration, and validates it.
func LoadConfig(params RunParams) (*config.Config, error) {
	envFile := params.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	cfgPath := params.ConfigPath
	if cfgPath == "" {
		cfgPath = ResolveConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Run loads configuration, starts every module, and blocks until SIGINT or
// SIGTERM. SIGHUP reopens the log files so external rotation works.
func Run(params RunParams) error {
	return RunContext(context.Background(), params)
}

// RunContext is Run that also returns once ctx is cancelled.
func RunContext(ctx context.Context, params RunParams) error {
	cfg, err := LoadConfig(params)
	if err != nil {
		return err
	}

	rt, err := Build(ctx, cfg, params)
	if err != nil {
		return err
	}
	if err := rt.Start(); err != nil {
		rt.Shutdown(context.WithoutCancel(ctx))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

loop:
	for {
		select {
		case <-ctx.Done():
			rt.Logger.Info("shutdown requested")
			break loop
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				rt.Logger.Info("SIGHUP received, rotating log files")
				if err := rt.Rotate(); err != nil {
					rt.Logger.Error("log rotation failed", "error", err)
				}
				continue
			}
			rt.Logger.Info("shutdown signal received", "signal", sig.String())
			break loop
		}
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	rt.Shutdown(stopCtx)
	rt.Logger.Info("shutdown complete")
	return nil
}

// ResolveConfigPath searches for a config file in standard locations and
// returns "" when none exists.
// Search order: $RELAYBOT_CONFIG → $XDG_CONFIG_HOME/relaybot/relaybot.yaml
// (or ~/.config/relaybot/relaybot.yaml) → ./relaybot.yaml
func ResolveConfigPath() string {
	if path := os.Getenv(config.EnvPrefix + "CONFIG"); path != "" {
		return path
	}

	var candidates []string
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "relaybot", "relaybot.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "relaybot", "relaybot.yaml"))
	}
	candidates = append(candidates, "relaybot.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// DefaultConfigPath is where `relaybot init` writes when no path is given.
func DefaultConfigPath() string {
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		return filepath.Join(xdg, "relaybot", "relaybot.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "relaybot", "relaybot.yaml")
	}
	return "relaybot.yaml"
}

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/config"
	"github.com/flemzord/relaybot/pkg/app"
)

// initAnswers is what the interactive form collects.
type initAnswers struct {
	Token      string
	Admins     string
	Driver     string
	Restrict   bool
	OpenAIKey  string
	DeepAIKey  string
	HTTPServer bool
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Interactively write a starter configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.DefaultConfigPath()
			if len(args) == 1 {
				path = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			answers := initAnswers{Driver: "json"}
			if err := initForm(&answers).Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				return err
			}

			cfg, err := answers.config()
			if err != nil {
				return err
			}
			if err := config.Write(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}

func initForm(a *initAnswers) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("From @BotFather.").
				EchoMode(huh.EchoModePassword).
				Value(&a.Token).
				Validate(requireValue("token")),
			huh.NewInput().
				Title("Administrators").
				Description("Comma-separated handles, e.g. @alice,@bob.").
				Value(&a.Admins).
				Validate(validateHandles),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("State store").
				Options(
					huh.NewOption("JSON file", "json"),
					huh.NewOption("SQLite database", "sqlite"),
				).
				Value(&a.Driver),
			huh.NewConfirm().
				Title("Restrict generation to allowed users?").
				Value(&a.Restrict),
			huh.NewConfirm().
				Title("Enable the HTTP server (health, metrics, webhooks)?").
				Value(&a.HTTPServer),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("OpenAI API key (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&a.OpenAIKey),
			huh.NewInput().
				Title("DeepAI API key (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&a.DeepAIKey),
		),
	)
}

func requireValue(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func validateHandles(s string) error {
	handles := splitHandles(s)
	if len(handles) == 0 {
		return errors.New("at least one administrator is required")
	}
	for _, h := range handles {
		if _, err := access.NormalizeHandle(h); err != nil {
			return err
		}
	}
	return nil
}

func splitHandles(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// config turns the answers into a configuration. Defaults are left to the
// loader so the written file stays short.
func (a initAnswers) config() (*config.Config, error) {
	if err := validateHandles(a.Admins); err != nil {
		return nil, err
	}
	cfg := &config.Config{
		Version: "1",
		Bot: config.BotConfig{
			Token:              strings.TrimSpace(a.Token),
			Admins:             splitHandles(a.Admins),
			RestrictGeneration: a.Restrict,
		},
		Store: config.StoreConfig{Driver: a.Driver},
		Credentials: config.Credentials{
			OpenAIKey: strings.TrimSpace(a.OpenAIKey),
			DeepAIKey: strings.TrimSpace(a.DeepAIKey),
		},
	}
	if a.HTTPServer {
		var node yaml.Node
		if err := node.Encode(map[string]string{"bind": "127.0.0.1:8080"}); err != nil {
			return nil, err
		}
		cfg.Modules = map[string]yaml.Node{"server.http": node}
	}
	return cfg, nil
}

// Package main is the entry point for the relaybot CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/relaybot/internal/config"
	"github.com/flemzord/relaybot/internal/core"
	"github.com/flemzord/relaybot/pkg/app"

	// Compiled-in modules.
	_ "github.com/flemzord/relaybot/internal/server"
	_ "github.com/flemzord/relaybot/modules/backend/convert"
	_ "github.com/flemzord/relaybot/modules/backend/httpgen"
	_ "github.com/flemzord/relaybot/modules/backend/openai"
	_ "github.com/flemzord/relaybot/modules/backend/youtube"
	_ "github.com/flemzord/relaybot/modules/channel/telegram"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relaybot",
		Short:         "An anonymous relay bot with AI generation and media tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("env-file", ".env", "Dotenv file loaded before the configuration")
	root.AddCommand(versionCmd(), startCmd(), configCmd(), initCmd(), exportCmd(), serviceCmd())
	return root
}

// runParams collects the flags shared by every command that loads the
// configuration.
func runParams(cmd *cobra.Command) (app.RunParams, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	params := app.RunParams{
		ConfigPath: cfgPath,
		EnvFile:    envFile,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
	if cmd.Flags().Lookup("log-level") != nil {
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			level, err := config.ParseLevel(lvl)
			if err != nil {
				return params, err
			}
			params.LogLevel = &level
		}
	}
	return params, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "relaybot %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Fprintln(out, "\nNo compiled modules.")
				return
			}
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range mods {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start relaybot with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			return app.Run(params)
		},
	}
	cmd.Flags().String("log-level", "", "Override log.level (debug, info, warn, error)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				params.ConfigPath = args[0]
			}
			cfg, err := app.LoadConfig(params)
			if err != nil {
				return err
			}

			ids := config.Resolve(cfg)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d modules, store: %s at %s)\n", len(ids), cfg.Store.Driver, cfg.Store.Path)
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	})
	return cmd
}

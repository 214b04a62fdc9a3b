package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/access/sqlitestore"
	"github.com/flemzord/relaybot/internal/config"
	"github.com/flemzord/relaybot/pkg/app"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the persisted access state as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			cfg, err := app.LoadConfig(params)
			if err != nil {
				return err
			}
			history, _ := cmd.Flags().GetInt("history")
			outPath, _ := cmd.Flags().GetString("out")

			var out io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				out = f
			}
			return exportState(cmd.Context(), cfg, history, out)
		},
	}
	cmd.Flags().StringP("out", "o", "", "Write to this file instead of stdout")
	cmd.Flags().Int("history", 0, "With the sqlite store, also print this many previous revisions")
	return cmd
}

// exportState writes the current state, and optionally its history, as
// indented JSON.
func exportState(ctx context.Context, cfg *config.Config, history int, out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if cfg.Store.Driver != "sqlite" {
		if history > 0 {
			return errors.New("--history requires store.driver: sqlite")
		}
		st, err := access.NewFilePersister(cfg.Store.Path).Load(ctx)
		if err != nil {
			return fmt.Errorf("reading %s: %w", cfg.Store.Path, err)
		}
		return enc.Encode(st)
	}

	p, err := sqlitestore.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	st, err := p.Load(ctx)
	if err != nil {
		return fmt.Errorf("reading %s: %w", cfg.Store.Path, err)
	}
	if history <= 0 {
		return enc.Encode(st)
	}
	revs, err := p.History(ctx, history)
	if err != nil {
		return err
	}
	return enc.Encode(struct {
		Current *access.State          `json:"current"`
		History []sqlitestore.Revision `json:"history"`
	}{st, revs})
}

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/relaybot/pkg/app"
)

// program adapts app.RunContext to the service manager's Start/Stop calls.
type program struct {
	params app.RunParams
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		err := app.RunContext(ctx, p.params)
		if err != nil && !service.Interactive() {
			if logger, lerr := s.Logger(nil); lerr == nil {
				_ = logger.Error(err)
			}
		}
		p.done <- err
	}()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "service <install|uninstall|start|stop|restart|run>",
		Short:     "Manage relaybot as an OS service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: append([]string{"run"}, service.ControlAction[:]...),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			svc, err := newService(params)
			if err != nil {
				return err
			}
			if args[0] == "run" {
				return svc.Run()
			}
			if err := service.Control(svc, args[0]); err != nil {
				return fmt.Errorf("service %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", args[0])
			return nil
		},
	}
	return cmd
}

// newService describes the installed unit. The config and env file are
// made absolute so the service does not depend on its working directory.
func newService(params app.RunParams) (service.Service, error) {
	args := []string{"service", "run"}
	if params.ConfigPath == "" {
		params.ConfigPath = app.ResolveConfigPath()
	}
	if params.ConfigPath != "" {
		abs, err := filepath.Abs(params.ConfigPath)
		if err != nil {
			return nil, err
		}
		params.ConfigPath = abs
		args = append(args, "--config", abs)
	}
	if params.EnvFile != "" {
		abs, err := filepath.Abs(params.EnvFile)
		if err != nil {
			return nil, err
		}
		params.EnvFile = abs
		args = append(args, "--env-file", abs)
	}

	return service.New(&program{params: params}, &service.Config{
		Name:        "relaybot",
		DisplayName: "relaybot",
		Description: "Anonymous relay bot with AI generation and media tools.",
		Arguments:   args,
	})
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/uber/lsp-bridge/src/bridge/app"
	"github.com/uber/lsp-bridge/src/bridge/controller/daemon"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"
)

const _adminTimeout = 30 * time.Second

// daemonAction is one daemon subcommand run against the registry.
type daemonAction func(ctx context.Context, c daemon.Controller, root string, out io.Writer) error

func newDaemonCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage per-project daemons",
	}

	sub := func(use, short string, action daemonAction) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runDaemonAction(cmd.Context(), f, cmd.OutOrStdout(), action)
			},
		}
	}
	cmd.AddCommand(
		sub("start", "Start the daemon for the project unless one is running", startDaemon),
		sub("status", "Show the daemon for the project", daemonStatus),
		sub("stop", "Stop the daemon for the project", stopDaemon),
		sub("list", "List every registered daemon", listDaemons),
		sub("cleanup", "Remove records of daemons that are gone", cleanupDaemons),
	)
	return cmd
}

// runDaemonAction builds the registry side of the application, runs action and tears it down.
func runDaemonAction(ctx context.Context, f *flags, out io.Writer, action daemonAction) error {
	root := f.projectPath
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}

	var c daemon.Controller
	a := fx.New(
		app.DaemonAdminModule,
		fx.Supply(entity.Mode{Kind: entity.ModeDaemon}),
		fx.Supply(f.overrides()),
		fx.NopLogger,
		fx.Populate(&c),
	)
	if err := a.Err(); err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, _adminTimeout)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(context.Background())

	return action(ctx, c, root, out)
}

func startDaemon(ctx context.Context, c daemon.Controller, root string, out io.Writer) error {
	endpoint, err := c.EnsureDaemon(ctx, root)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, endpoint)
	return err
}

func daemonStatus(ctx context.Context, c daemon.Controller, root string, out io.Writer) error {
	status, ok, err := c.Status(ctx, root)
	if err != nil {
		return err
	}
	if !ok {
		_, err = fmt.Fprintf(out, "no daemon for %s\n", root)
		return err
	}
	return writeYAML(out, status)
}

func stopDaemon(ctx context.Context, c daemon.Controller, root string, out io.Writer) error {
	if err := c.StopDaemon(ctx, root); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "stopped daemon for %s\n", root)
	return err
}

func listDaemons(ctx context.Context, c daemon.Controller, _ string, out io.Writer) error {
	statuses, err := c.List(ctx)
	if err != nil {
		return err
	}
	if statuses == nil {
		statuses = []entity.DaemonStatus{}
	}
	return writeYAML(out, statuses)
}

func cleanupDaemons(ctx context.Context, c daemon.Controller, _ string, out io.Writer) error {
	removed, err := c.Cleanup(ctx)
	if err != nil {
		return err
	}
	if removed == nil {
		removed = []string{}
	}
	return writeYAML(out, map[string][]string{"removed": removed})
}

func writeYAML(out io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return enc.Close()
}

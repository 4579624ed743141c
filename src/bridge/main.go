package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/uber/lsp-bridge/src/bridge/app"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	"github.com/uber/lsp-bridge/src/bridge/internal/core"
	"github.com/uber/lsp-bridge/src/bridge/internal/mode"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// flags are shared by every command.
type flags struct {
	server      bool
	port        int
	projectPath string
	mode        string
	logLevel    string
	noEngine    bool
}

// overrides layers the flags that were set over the configuration files.
func (f *flags) overrides() core.Overrides {
	o := core.Overrides{}
	if f.port > 0 {
		o.Set("http.port", f.port)
	}
	if f.projectPath != "" {
		o.Set("project.root", f.projectPath)
	}
	if f.logLevel != "" {
		o.Set("logging.level", f.logLevel)
	}
	if f.noEngine {
		o.Set("engine.enabled", false)
	}
	return o
}

func opts(m entity.Mode, o core.Overrides) fx.Option {
	return fx.Options(
		app.ModeModule(m),
		fx.Supply(o),
		fx.WithLogger(newFxLogger),
	)
}

func mcpOpts(o core.Overrides) fx.Option {
	return fx.Options(
		app.MCPModule,
		fx.Supply(o),
		fx.WithLogger(newFxLogger),
	)
}

// newFxLogger keeps Fx's own events at debug level in the bridge log.
func newFxLogger(logger *zap.Logger) fxevent.Logger {
	l := &fxevent.ZapLogger{Logger: logger}
	l.UseLogLevel(zap.DebugLevel)
	return l
}

func newRootCmd(f *flags) *cobra.Command {
	root := &cobra.Command{
		Use:     entity.ProductName,
		Short:   "Serve code intelligence tools backed by a language server",
		Version: entity.Version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := mode.ValidateOverride(f.mode); err != nil {
				return err
			}
			m := mode.Select(mode.Detect(f.server, f.mode, f.port))
			// Run exits the process with the shutdown exit code.
			fx.New(opts(m, f.overrides())).Run()
			return nil
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.projectPath, "project-path", "", "project root (defaults to the working directory)")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	root.Flags().BoolVar(&f.server, "server", false, "serve in this process instead of forwarding to a daemon")
	root.Flags().IntVar(&f.port, "port", 0, "serve HTTP on this port (with --server)")
	root.Flags().StringVar(&f.mode, "mode", "", `force the mode: "direct" or "daemon"`)
	root.Flags().BoolVar(&f.noEngine, "no-engine", false, "do not start the engine; only static tools work")

	root.AddCommand(newDaemonCmd(f), newMCPCmd(f))
	return root
}

func newMCPCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tools over the Model Context Protocol on stdio",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			fx.New(mcpOpts(f.overrides())).Run()
			return nil
		},
	}
}

func main() {
	if err := newRootCmd(&flags{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

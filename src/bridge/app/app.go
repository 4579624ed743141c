// Package app assembles the Fx modules for each way the bridge can run.
package app

import (
	"context"
	"time"

	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/controller/daemon"
	"github.com/uber/lsp-bridge/src/bridge/controller/dispatcher"
	"github.com/uber/lsp-bridge/src/bridge/controller/engine"
	"github.com/uber/lsp-bridge/src/bridge/controller/watcher"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	daemonclient "github.com/uber/lsp-bridge/src/bridge/gateway/daemon-client"
	"github.com/uber/lsp-bridge/src/bridge/handler/httpserver"
	mcpserver "github.com/uber/lsp-bridge/src/bridge/handler/mcp-server"
	"github.com/uber/lsp-bridge/src/bridge/handler/stdio"
	"github.com/uber/lsp-bridge/src/bridge/internal/clock"
	"github.com/uber/lsp-bridge/src/bridge/internal/core"
	"github.com/uber/lsp-bridge/src/bridge/internal/executor"
	"github.com/uber/lsp-bridge/src/bridge/internal/fs"
	"github.com/uber/lsp-bridge/src/bridge/internal/ports"
	"github.com/uber/lsp-bridge/src/bridge/internal/serverinfofile"
	"github.com/uber/lsp-bridge/src/bridge/repository/registry"
	"go.uber.org/fx"
)

// Module holds what every mode needs: configuration, logging, metrics and the OS wrappers.
var Module = fx.Options(
	core.ConfigModule,
	core.LoggerModule,
	fs.Module,
	clock.Module,
	executor.Module,
	serverinfofile.Module,
	fx.Provide(newRootScope),
	fx.Decorate(decorateConfigProvider),
)

// engineModule runs commands in this process.
var engineModule = fx.Options(
	engine.Module,
	dispatcher.Module,
	watcher.Module,
)

// registryModule gives access to the daemons registered on this host.
var registryModule = fx.Options(
	registry.Module,
	ports.Module,
	daemon.Module,
	fx.Provide(daemonclient.New),
)

// DaemonAdminModule is used by the daemon subcommands.
var DaemonAdminModule = fx.Options(
	Module,
	registryModule,
)

// MCPModule serves the tool catalog over MCP on stdio.
var MCPModule = fx.Options(
	Module,
	engineModule,
	mcpserver.Module,
	fx.Supply(entity.Mode{Kind: entity.ModeDirect, Transport: entity.TransportStdio}),
)

// ModeModule returns the application for m.
func ModeModule(m entity.Mode) fx.Option {
	opts := []fx.Option{Module, fx.Supply(m)}
	switch {
	case m.Kind == entity.ModeDaemon:
		opts = append(opts,
			registryModule,
			fx.Provide(daemonclient.NewForwarder),
			fx.Provide(
				func(f daemonclient.Forwarder) dispatcher.Controller { return f },
				func(c daemon.Controller) daemonclient.Resolver { return c },
			),
			stdio.Module,
		)
	case m.Transport == entity.TransportHTTP:
		opts = append(opts, engineModule, registryModule, httpserver.Module)
	default:
		opts = append(opts, engineModule, stdio.Module)
	}
	return fx.Options(opts...)
}

func newRootScope(lc fx.Lifecycle, m entity.Mode) tally.Scope {
	rs, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix: "lsp_bridge",
		Tags: map[string]string{
			"mode": m.String(),
		},
	}, 1*time.Second)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return closer.Close()
		},
	})

	return rs
}

package daemonclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"github.com/uber/lsp-bridge/src/bridge/mapper"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyProjectRoot = "project.root"
	_toolsListCommand     = "tools/list"
	_maxAttempts          = 2
)

// Resolver finds or starts the daemon that serves a project.
type Resolver interface {
	// EnsureDaemon returns the endpoint of a healthy daemon for root, starting one if needed.
	EnsureDaemon(ctx context.Context, root string) (entity.Endpoint, error)
	// Evict drops the registry record for root if it still points at endpoint.
	Evict(ctx context.Context, root string, endpoint entity.Endpoint) error
}

// Forwarder runs commands on the project's daemon. It has the same shape as the in-process
// dispatcher so that the line loop can serve either.
type Forwarder interface {
	Dispatch(ctx context.Context, cmd entity.Command) entity.ToolResult
	Tools() []mcp.Tool
}

// ForwarderParams are inbound parameters to initialize a new Forwarder.
type ForwarderParams struct {
	fx.In

	Config   config.Provider
	Logger   *zap.SugaredLogger
	Stats    tally.Scope
	Gateway  Gateway
	Resolver Resolver
}

type forwarder struct {
	root     string
	gateway  Gateway
	resolver Resolver
	logger   *zap.SugaredLogger
	stats    tally.Scope
}

// NewForwarder returns a Forwarder for the configured project root, or the working directory
// when none is configured.
func NewForwarder(p ForwarderParams) (Forwarder, error) {
	var root string
	if err := p.Config.Get(_configKeyProjectRoot).Populate(&root); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyProjectRoot, err)
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}

	return &forwarder{
		root:     root,
		gateway:  p.Gateway,
		resolver: p.Resolver,
		logger:   p.Logger.With("component", "forwarder"),
		stats:    p.Stats.SubScope("forwarder"),
	}, nil
}

func (f *forwarder) Dispatch(ctx context.Context, cmd entity.Command) entity.ToolResult {
	var lastErr error
	for attempt := 1; attempt <= _maxAttempts; attempt++ {
		endpoint, err := f.resolver.EnsureDaemon(ctx, f.root)
		if err != nil {
			f.stats.Counter("resolve_errors").Inc(1)
			return mapper.ErrorToToolResult(err)
		}

		result, err := f.gateway.Call(ctx, endpoint, cmd)
		if err == nil {
			f.stats.Counter("forwarded").Inc(1)
			return result
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}

		f.logger.Warnw("daemon call failed", "command", cmd.Name, "endpoint", endpoint, "attempt", attempt, "error", err)
		if err := f.resolver.Evict(ctx, f.root, endpoint); err != nil {
			f.logger.Warnw("evicting daemon record", "endpoint", endpoint, "error", err)
		}
	}

	f.stats.Counter("unreachable").Inc(1)
	return mapper.ErrorToToolResult(bridgeerrors.Wrap(bridgeerrors.KindDaemonUnreachable, lastErr, "daemon for %s is unreachable", f.root))
}

// Tools fetches the catalog from the daemon. It returns nil when the daemon cannot supply one.
func (f *forwarder) Tools() []mcp.Tool {
	result := f.Dispatch(context.Background(), entity.NewCommand(_toolsListCommand, nil))
	if !result.OK() {
		f.logger.Warnw("fetching tool catalog", "error", result.Err.Message)
		return nil
	}

	raw, err := json.Marshal(result.Result)
	if err != nil {
		f.logger.Warnw("encoding tool catalog", "error", err)
		return nil
	}
	var list struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		f.logger.Warnw("decoding tool catalog", "error", err)
		return nil
	}
	return list.Tools
}

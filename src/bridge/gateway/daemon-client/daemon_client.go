// Package daemonclient talks to per-project daemons over their loopback HTTP interface.
package daemonclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/uber/lsp-bridge/src/bridge/entity"
	"github.com/uber/lsp-bridge/src/bridge/factory"
	"github.com/uber/lsp-bridge/src/bridge/mapper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// HeaderRequestID carries the id of a forwarded request.
	HeaderRequestID = "X-Request-Id"

	// PathHealth, PathShutdown and PathJSONRPC are the fixed daemon routes.
	PathHealth   = "/health"
	PathShutdown = "/shutdown"
	PathJSONRPC  = "/jsonrpc"

	_contentTypeJSON = "application/json"
	_maxBodyBytes    = 64 << 20
)

// Module is the Fx module for this package.
var Module = fx.Provide(New, NewForwarder)

// Gateway sends requests to a daemon. Errors are transport failures; command failures are
// carried in the returned ToolResult.
type Gateway interface {
	// Health probes the daemon's health endpoint.
	Health(ctx context.Context, endpoint entity.Endpoint) (entity.HealthStatus, error)
	// Shutdown asks the daemon to exit.
	Shutdown(ctx context.Context, endpoint entity.Endpoint) error
	// Call posts cmd to the daemon and decodes its ToolResult.
	Call(ctx context.Context, endpoint entity.Endpoint, cmd entity.Command) (entity.ToolResult, error)
}

// Params are inbound parameters to initialize a new Gateway.
type Params struct {
	fx.In

	Logger *zap.SugaredLogger
}

type gateway struct {
	client *http.Client
	logger *zap.SugaredLogger
}

// New returns a Gateway. Deadlines come from the caller's context.
func New(p Params) Gateway {
	return &gateway{
		client: &http.Client{},
		logger: p.Logger.With("component", "daemon-client"),
	}
}

func (g *gateway) Health(ctx context.Context, endpoint entity.Endpoint) (entity.HealthStatus, error) {
	var health entity.HealthStatus
	status, body, err := g.do(ctx, http.MethodGet, endpoint, PathHealth, nil)
	if err != nil {
		return health, err
	}
	if status != http.StatusOK {
		return health, fmt.Errorf("health probe of %s returned %d", endpoint, status)
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return health, fmt.Errorf("decoding health of %s: %w", endpoint, err)
	}
	if health.Status != entity.HealthOK {
		return health, fmt.Errorf("daemon at %s reports status %q", endpoint, health.Status)
	}
	return health, nil
}

func (g *gateway) Shutdown(ctx context.Context, endpoint entity.Endpoint) error {
	status, _, err := g.do(ctx, http.MethodPost, endpoint, PathShutdown, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("shutdown of %s returned %d", endpoint, status)
	}
	return nil
}

func (g *gateway) Call(ctx context.Context, endpoint entity.Endpoint, cmd entity.Command) (entity.ToolResult, error) {
	params := cmd.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return entity.ToolResult{}, fmt.Errorf("encoding params of %s: %w", cmd.Name, err)
	}

	// Non-2xx statuses still carry a ToolResult body.
	_, body, err := g.do(ctx, http.MethodPost, endpoint, "/"+strings.TrimPrefix(cmd.Name, "/"), payload)
	if err != nil {
		return entity.ToolResult{}, err
	}
	result, err := mapper.WireToToolResult(body)
	if err != nil {
		return entity.ToolResult{}, fmt.Errorf("decoding response of %s from %s: %w", cmd.Name, endpoint, err)
	}
	return result, nil
}

func (g *gateway) do(ctx context.Context, method string, endpoint entity.Endpoint, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, string(endpoint)+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", _contentTypeJSON)
	}
	req.Header.Set(HeaderRequestID, factory.RequestID())

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, _maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}
	g.logger.Debugw("daemon request", "method", method, "path", path, "status", resp.StatusCode, "request_id", req.Header.Get(HeaderRequestID))
	return resp.StatusCode, body, nil
}

// Package dispatcher validates tool commands and routes them to engine or static handlers.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/controller/engine"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"github.com/uber/lsp-bridge/src/bridge/internal/fs"
	"github.com/uber/lsp-bridge/src/bridge/mapper"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyTimeout = "dispatcher.timeout"

	// _maxCommandTimeout caps the per-command timeout_ms override.
	_maxCommandTimeout = 10 * time.Minute
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Controller executes tool commands.
type Controller interface {
	// Dispatch runs cmd and reports its outcome. Failures are carried in the result, never returned.
	Dispatch(ctx context.Context, cmd entity.Command) entity.ToolResult
	// Tools returns the command catalog as tool definitions.
	Tools() []mcp.Tool
}

// Params are inbound parameters to initialize a new dispatcher.
type Params struct {
	fx.In

	Config config.Provider
	Logger *zap.SugaredLogger
	Stats  tally.Scope
	Engine engine.Controller
	FS     fs.BridgeFS
}

type controller struct {
	engine  engine.Controller
	fs      fs.BridgeFS
	logger  *zap.SugaredLogger
	stats   tally.Scope
	catalog *catalog
	timeout time.Duration
}

// New creates a dispatcher over the given engine.
func New(p Params) (Controller, error) {
	c := &controller{
		engine:  p.Engine,
		fs:      p.FS,
		logger:  p.Logger.With("component", "dispatcher"),
		stats:   p.Stats.SubScope("dispatcher"),
		catalog: newCatalog(),
	}
	if err := c.processConfig(p.Config); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *controller) Tools() []mcp.Tool {
	return c.catalog.tools()
}

func (c *controller) Dispatch(ctx context.Context, cmd entity.Command) entity.ToolResult {
	start := time.Now()
	result, err := c.dispatch(ctx, cmd)

	scope := c.stats.Tagged(map[string]string{"command": cmd.Name})
	scope.Timer("latency").Record(time.Since(start))
	if err != nil {
		scope.Counter("errors").Inc(1)
		if bridgeerrors.IsCallerError(err) {
			c.logger.Debugw("rejected command", "command", cmd.Name, "error", err)
		} else {
			c.logger.Warnw("command failed", "command", cmd.Name, "error", err, "elapsed", time.Since(start))
		}
		return mapper.ErrorToToolResult(err)
	}
	scope.Counter("success").Inc(1)
	return entity.Success(result)
}

func (c *controller) dispatch(ctx context.Context, cmd entity.Command) (interface{}, error) {
	entry, ok := c.catalog.lookup(cmd.Name)
	if !ok {
		return nil, bridgeerrors.New(bridgeerrors.KindMethodNotFound, "unknown command %q", cmd.Name)
	}
	cmd.RequiredParameters = entry.tool.InputSchema.Required
	if err := validate(entry.tool, cmd); err != nil {
		return nil, err
	}

	if !entry.engine {
		return c.routeStatic(ctx, cmd)
	}
	if !c.engine.Enabled() {
		return nil, bridgeerrors.New(bridgeerrors.KindEngineNotReady, "engine disabled")
	}

	timeout := c.timeout
	if v, ok := cmd.Param(_paramTimeoutMS); ok {
		if ms, ok := toFloat(v); ok {
			timeout = commandTimeout(ms)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.routeEngine(ctx, cmd)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindEngineTimeout, err, "%s timed out after %s", cmd.Name, timeout)
	}
	return result, err
}

// commandTimeout converts a timeout_ms value, clamping it before the conversion can overflow.
func commandTimeout(ms float64) time.Duration {
	if ms >= float64(_maxCommandTimeout/time.Millisecond) {
		return _maxCommandTimeout
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func (c *controller) routeStatic(ctx context.Context, cmd entity.Command) (interface{}, error) {
	switch cmd.Name {
	case ToolExpandSnippet:
		return c.expandSnippet(cmd)
	case ToolProjectStructure:
		return c.projectStructure()
	case ToolAnalyzeDependencies:
		return c.analyzeDependencies()
	case ToolCodeMetrics:
		return c.codeMetrics(cmd)
	case ToolCapabilities:
		return c.capabilities(), nil
	case ToolsList:
		return toolsListResult{Tools: c.catalog.tools()}, nil
	}
	return nil, bridgeerrors.New(bridgeerrors.KindMethodNotFound, "unknown command %q", cmd.Name)
}

func (c *controller) routeEngine(ctx context.Context, cmd entity.Command) (interface{}, error) {
	switch cmd.Name {
	case ToolAnalyzeSymbol:
		return c.analyzeSymbol(ctx, cmd)
	case ToolFindReferences:
		return c.findReferences(ctx, cmd)
	case ToolGetHover:
		return c.getHover(ctx, cmd)
	case ToolFindImplementations:
		return c.findImplementations(ctx, cmd)
	case ToolGetDiagnostics:
		return c.getDiagnostics(cmd)
	case ToolComplete:
		return c.complete(ctx, cmd)
	case ToolSignatureHelp:
		return c.signatureHelp(ctx, cmd)
	case ToolGetCompletions:
		return c.getCompletions(ctx, cmd)
	case ToolResolveImport:
		return c.resolveImport(ctx, cmd)
	case ToolRename:
		return c.rename(ctx, cmd)
	case ToolExtractFunction:
		return c.extractFunction(ctx, cmd)
	case ToolInline:
		return c.inline(ctx, cmd)
	case ToolOrganizeImports:
		return c.organizeImports(ctx, cmd)
	case ToolFindDeadCode:
		return c.findDeadCode()
	case ToolSuggestImprovements:
		return c.suggestImprovements(ctx, cmd)
	}
	return nil, bridgeerrors.New(bridgeerrors.KindMethodNotFound, "unknown command %q", cmd.Name)
}

// request sends method to the engine within ctx's deadline and decodes the response into out.
func (c *controller) request(ctx context.Context, method string, params, out interface{}) error {
	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return bridgeerrors.Wrap(bridgeerrors.KindEngineTimeout, context.DeadlineExceeded, "%s", method)
		}
	}

	raw, err := c.engine.Request(ctx, method, params, timeout)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return bridgeerrors.Wrap(bridgeerrors.KindProtocol, err, "decoding %s result", method)
	}
	return nil
}

func (c *controller) root() string {
	return c.engine.ProjectRoot()
}

func (c *controller) positionParams(cmd entity.Command) (protocol.TextDocumentPositionParams, error) {
	file, _ := stringParam(cmd, _paramFile)
	line, _ := intParam(cmd, _paramLine)
	column, _ := intParam(cmd, _paramColumn)
	return mapper.ToolPositionToParams(c.root(), file, line, column)
}

func (c *controller) processConfig(cfg config.Provider) error {
	value := cfg.Get(_configKeyTimeout)
	if !value.HasValue() {
		return fmt.Errorf("missing field %q in config", _configKeyTimeout)
	}
	if err := value.Populate(&c.timeout); err != nil {
		return fmt.Errorf("getting config field %q: %w", _configKeyTimeout, err)
	}
	if c.timeout <= 0 {
		return fmt.Errorf("getting config field %q: must be positive", _configKeyTimeout)
	}
	return nil
}

func stringParam(cmd entity.Command, key string) (string, bool) {
	v, ok := cmd.Param(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intParam(cmd entity.Command, key string) (int, bool) {
	v, ok := cmd.Param(key)
	if !ok {
		return 0, false
	}
	f, ok := toFloat(v)
	return int(f), ok
}

func boolParam(cmd entity.Command, key string, fallback bool) bool {
	v, ok := cmd.Param(key)
	if !ok {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		return fallback
	}
	return b
}

// position is the 1-based position echoed back to callers.
type position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func echoPosition(cmd entity.Command) position {
	line, _ := intParam(cmd, _paramLine)
	column, _ := intParam(cmd, _paramColumn)
	return position{Line: line, Column: column}
}

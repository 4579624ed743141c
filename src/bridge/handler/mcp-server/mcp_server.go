// Package mcpserver exposes the tool catalog over the Model Context Protocol on stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/controller/dispatcher"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves MCP on stdin for the lifetime of the application and stops it when input ends.
var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(func(Server) {}),
)

// Server wraps an MCP server whose tools are backed by the dispatcher.
type Server interface {
	// Serve reads MCP messages from in until EOF or ctx is done.
	Serve(ctx context.Context, in io.Reader, out io.Writer) error
	// MCP returns the underlying server.
	MCP() *server.MCPServer
}

// Params are inbound parameters to initialize a new Server.
type Params struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Logger     *zap.SugaredLogger
	Stats      tally.Scope
	Dispatcher dispatcher.Controller
}

type mcpServer struct {
	mcp        *server.MCPServer
	dispatcher dispatcher.Controller
	logger     *zap.SugaredLogger
	stats      tally.Scope
}

// New registers every catalog tool on a fresh MCP server and, through the lifecycle, serves stdio with it.
func New(p Params) Server {
	s := &mcpServer{
		mcp: server.NewMCPServer(entity.ProductName, entity.Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		dispatcher: p.Dispatcher,
		logger:     p.Logger.With("component", "mcp"),
		stats:      p.Stats.SubScope("mcp"),
	}

	var tools []server.ServerTool
	for _, tool := range p.Dispatcher.Tools() {
		if tool.Name == dispatcher.ToolsList {
			continue
		}
		tools = append(tools, server.ServerTool{Tool: tool, Handler: s.handlerFor(tool.Name)})
	}
	s.mcp.AddTools(tools...)

	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				exitCode := 0
				if err := s.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
					s.logger.Errorw("serving mcp", "error", err)
					exitCode = 1
				}
				if err := p.Shutdowner.Shutdown(fx.ExitCode(exitCode)); err != nil {
					s.logger.Warnw("requesting shutdown", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return s
}

func (s *mcpServer) MCP() *server.MCPServer {
	return s.mcp
}

func (s *mcpServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(&zapWriter{logger: s.logger}, "", 0))
	return stdio.Listen(ctx, in, out)
}

func (s *mcpServer) handlerFor(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.stats.Tagged(map[string]string{"tool": name}).Counter("calls").Inc(1)
		result := s.dispatcher.Dispatch(ctx, entity.NewCommand(name, req.GetArguments()))
		if !result.OK() {
			s.stats.Tagged(map[string]string{"tool": name}).Counter("errors").Inc(1)
			return mcp.NewToolResultError(result.Err.Message), nil
		}
		text, err := json.Marshal(result.Result)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("encoding result", err), nil
		}
		return mcp.NewToolResultText(string(text)), nil
	}
}

// zapWriter routes the stdio server's error log into the bridge logger.
type zapWriter struct {
	logger *zap.SugaredLogger
}

func (w *zapWriter) Write(p []byte) (int, error) {
	w.logger.Warn(string(p))
	return len(p), nil
}

// Package stdio serves line-delimited JSON requests on the process's standard streams.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/controller/dispatcher"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"github.com/uber/lsp-bridge/src/bridge/mapper"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const _configKeyStdio = "stdio"

// Module serves stdin for the lifetime of the application and stops it when input ends.
var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(func(Handler) {}),
)

// Handler runs the line loop.
type Handler interface {
	// Serve reads requests from in until EOF and writes one response line per request to out.
	// It returns nil on EOF once every in-flight request has been answered.
	Serve(ctx context.Context, in io.Reader, out io.Writer) error
}

// Config holds the stdio section of the configuration.
type Config struct {
	MaxLineBytes int `yaml:"maxLineBytes"`
	Concurrency  int `yaml:"concurrency"`
}

// Params are inbound parameters to initialize a new Handler.
type Params struct {
	fx.In

	Config     config.Provider
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Logger     *zap.SugaredLogger
	Stats      tally.Scope
	Dispatcher dispatcher.Controller
}

type handler struct {
	cfg        Config
	dispatcher dispatcher.Controller
	logger     *zap.SugaredLogger
	stats      tally.Scope
}

// New creates a Handler and, through the lifecycle, serves the process's stdin with it.
func New(p Params) (Handler, error) {
	h := &handler{
		dispatcher: p.Dispatcher,
		logger:     p.Logger.With("component", "stdio"),
		stats:      p.Stats.SubScope("stdio"),
	}
	if err := h.processConfig(p.Config); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				exitCode := 0
				if err := h.Serve(ctx, os.Stdin, os.Stdout); err != nil {
					h.logger.Errorw("reading stdin", "error", err)
					exitCode = 1
				}
				if err := p.Shutdowner.Shutdown(fx.ExitCode(exitCode)); err != nil {
					h.logger.Warnw("requesting shutdown", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return h, nil
}

func (h *handler) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, min(64*1024, h.cfg.MaxLineBytes)), h.cfg.MaxLineBytes)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, h.cfg.Concurrency)
	)
	write := func(line []byte) {
		mu.Lock()
		defer mu.Unlock()
		if _, err := out.Write(append(line, '\n')); err != nil {
			h.logger.Warnw("writing response", "error", err)
		}
	}
	defer wg.Wait()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		// The scanner reuses its buffer.
		line = append([]byte(nil), line...)

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if resp := h.handleLine(ctx, line); resp != nil {
				write(resp)
			}
		}()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading request line: %w", err)
	}
	return nil
}

// handleLine returns the encoded response for line, or nil for a notification.
func (h *handler) handleLine(ctx context.Context, line []byte) []byte {
	h.stats.Counter("requests").Inc(1)

	var req mapper.Request
	if err := json.Unmarshal(line, &req); err != nil {
		h.stats.Counter("parse_errors").Inc(1)
		h.logger.Debugw("unparsable request", "error", err)
		return mapper.ParseErrorResponse(err)
	}

	var result entity.ToolResult
	if cmd, err := mapper.RequestToCommand(req); err != nil {
		result = mapper.ErrorToToolResult(err)
	} else {
		result = h.dispatcher.Dispatch(ctx, cmd)
	}
	if req.IsNotification() {
		return nil
	}

	data, err := mapper.ToolResultToResponse(req.VersionKey(), req.ID, result)
	if err != nil {
		h.logger.Errorw("encoding response", "id", string(req.ID), "error", err)
		data, _ = mapper.ToolResultToResponse(req.VersionKey(), req.ID,
			mapper.ErrorToToolResult(bridgeerrors.Wrap(bridgeerrors.KindProtocol, err, "encoding response")))
	}
	return data
}

func (h *handler) processConfig(cfg config.Provider) error {
	if err := cfg.Get(_configKeyStdio).Populate(&h.cfg); err != nil {
		return fmt.Errorf("getting config field %q: %w", _configKeyStdio, err)
	}
	if h.cfg.MaxLineBytes <= 0 {
		return fmt.Errorf("missing field %q in config", _configKeyStdio+".maxLineBytes")
	}
	if h.cfg.Concurrency <= 0 {
		h.cfg.Concurrency = 1
	}
	return nil
}

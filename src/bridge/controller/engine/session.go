package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	"github.com/uber/lsp-bridge/src/bridge/internal/correlator"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"github.com/uber/lsp-bridge/src/bridge/internal/executor"
	"github.com/uber/lsp-bridge/src/bridge/internal/framing"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// session is one engine process and the protocol state running over its standard streams.
type session struct {
	proc   executor.Process
	writer *framing.Writer
	reader *framing.Reader
	corr   *correlator.Correlator

	logger      *zap.SugaredLogger
	stats       tally.Scope
	diagnostics *diagnosticsCache

	mu      sync.Mutex
	state   entity.SessionState
	termErr error

	// ready is closed when the handshake completes, done when the session terminates
	// and exited once the process has been reaped.
	ready  chan struct{}
	done   chan struct{}
	exited chan struct{}
}

func newSession(proc executor.Process, maxMessageBytes int64, logger *zap.SugaredLogger, stats tally.Scope, diagnostics *diagnosticsCache) *session {
	logger = logger.With("pid", proc.Pid())
	return &session{
		proc:        proc,
		writer:      framing.NewWriter(proc.Stdin()),
		reader:      framing.NewReader(proc.Stdout(), maxMessageBytes),
		corr:        correlator.New(logger, stats),
		logger:      logger,
		stats:       stats,
		diagnostics: diagnostics,
		state:       entity.SessionUninitialized,
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
	}
}

func (s *session) State() entity.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error every request fails with once the session has terminated.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}

func (s *session) setState(state entity.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != entity.SessionTerminated {
		s.state = state
	}
}

// handshake runs initialize and initialized, then marks the session Ready.
func (s *session) handshake(params *protocol.InitializeParams, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.initialize(ctx, params, timeout)
	if err != nil {
		if s.State() == entity.SessionInitializing {
			s.logger.Errorw("engine handshake failed", "error", err)
		}
		s.terminate(bridgeerrors.Wrap(bridgeerrors.KindEngineCrashed, err, "engine handshake failed"))
		if killErr := s.proc.Kill(); killErr != nil {
			s.logger.Warnw("killing engine", "error", killErr)
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == entity.SessionInitializing {
		s.state = entity.SessionReady
		close(s.ready)
		s.logger.Infow("engine ready")
	}
}

func (s *session) initialize(ctx context.Context, params *protocol.InitializeParams, timeout time.Duration) error {
	raw, err := s.call(ctx, protocol.MethodInitialize, params, timeout)
	if err != nil {
		return err
	}
	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return bridgeerrors.Wrap(bridgeerrors.KindProtocol, err, "decoding initialize result")
	}
	if result.ServerInfo != nil {
		s.logger.Infow("engine initialized", "name", result.ServerInfo.Name, "version", result.ServerInfo.Version)
	}
	return s.notify(protocol.MethodInitialized, &protocol.InitializedParams{})
}

// call sends one request and waits up to timeout for its response.
func (s *session) call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	id, slot, err := s.corr.Register(method, time.Now().Add(timeout))
	if err != nil {
		return nil, err
	}

	msg, err := jsonrpc2.NewCall(id, method, params)
	if err != nil {
		s.corr.Remove(id)
		return nil, bridgeerrors.Wrap(bridgeerrors.KindInvalidParams, err, "encoding %s params", method)
	}
	if err := s.writer.Write(msg); err != nil {
		s.corr.Remove(id)
		return nil, s.writeFailure(err)
	}
	return s.corr.Await(ctx, id, slot, timeout)
}

func (s *session) notify(method string, params interface{}) error {
	msg, err := jsonrpc2.NewNotification(method, params)
	if err != nil {
		return bridgeerrors.Wrap(bridgeerrors.KindInvalidParams, err, "encoding %s params", method)
	}
	if err := s.writer.Write(msg); err != nil {
		return s.writeFailure(err)
	}
	return nil
}

func (s *session) writeFailure(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case entity.SessionTerminated:
		return s.termErr
	case entity.SessionShuttingDown:
		return bridgeerrors.Wrap(bridgeerrors.KindEngineShutdown, err, "writing to engine")
	}
	return bridgeerrors.Wrap(bridgeerrors.KindEngineCrashed, err, "writing to engine")
}

// readLoop routes engine output until the stream ends, then terminates the session and reaps the process.
func (s *session) readLoop() {
	defer close(s.exited)

	err := s.corr.Serve(context.Background(), s.reader, s)

	switch s.State() {
	case entity.SessionShuttingDown, entity.SessionTerminated:
		s.terminate(bridgeerrors.New(bridgeerrors.KindEngineShutdown, "engine shut down"))
	default:
		s.stats.Counter("crashes").Inc(1)
		s.logger.Warnw("engine exited unexpectedly", "error", err)
		s.terminate(bridgeerrors.Wrap(bridgeerrors.KindEngineCrashed, err, "engine exited"))
		if killErr := s.proc.Kill(); killErr != nil {
			s.logger.Warnw("killing engine", "error", killErr)
		}
	}

	if waitErr := s.proc.Wait(); waitErr != nil {
		s.logger.Debugw("engine process exited", "error", waitErr)
	}
}

// terminate moves the session to Terminated and fails every outstanding request with err.
// Only the first call has any effect.
func (s *session) terminate(err error) {
	s.mu.Lock()
	if s.state == entity.SessionTerminated {
		s.mu.Unlock()
		return
	}
	s.state = entity.SessionTerminated
	s.termErr = err
	close(s.done)
	s.mu.Unlock()

	if n := s.corr.FailAll(err); n > 0 {
		s.logger.Infow("failed outstanding engine requests", "count", n, "error", err)
	}
}

// stop performs the shutdown/exit exchange and reaps the process, killing it after grace.
func (s *session) stop(ctx context.Context, grace time.Duration) error {
	s.mu.Lock()
	prev := s.state
	if prev != entity.SessionTerminated {
		s.state = entity.SessionShuttingDown
	}
	s.mu.Unlock()

	var err error
	if prev == entity.SessionReady {
		shutdownCtx, cancel := context.WithTimeout(ctx, grace)
		_, shutdownErr := s.call(shutdownCtx, protocol.MethodShutdown, nil, grace)
		cancel()
		if shutdownErr != nil {
			err = multierr.Append(err, fmt.Errorf("engine shutdown request: %w", shutdownErr))
		} else {
			err = multierr.Append(err, s.notify(protocol.MethodExit, nil))
		}
	}

	if closeErr := s.proc.Stdin().Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		err = multierr.Append(err, fmt.Errorf("closing engine stdin: %w", closeErr))
	}

	if !waitClosed(ctx, s.exited, grace) {
		s.logger.Warnw("engine did not exit in time, killing it", "grace", grace)
		err = multierr.Append(err, s.proc.Kill())
		if !waitClosed(context.Background(), s.exited, grace) {
			err = multierr.Append(err, bridgeerrors.New(bridgeerrors.KindEngineShutdown, "engine did not exit after kill"))
		}
	}

	s.terminate(bridgeerrors.New(bridgeerrors.KindEngineShutdown, "engine shut down"))
	return err
}

// HandleNotification stores diagnostics and logs engine messages.
func (s *session) HandleNotification(_ context.Context, n *jsonrpc2.Notification) {
	s.stats.Counter("notifications").Inc(1)

	switch n.Method() {
	case protocol.MethodTextDocumentPublishDiagnostics:
		var params protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(n.Params(), &params); err != nil {
			s.logger.Warnw("decoding diagnostics", "error", err)
			return
		}
		s.diagnostics.set(params.URI, params.Diagnostics)
	case protocol.MethodWindowLogMessage:
		var params protocol.LogMessageParams
		if err := json.Unmarshal(n.Params(), &params); err == nil {
			s.logger.Debugw("engine log", "type", params.Type.String(), "message", params.Message)
		}
	case protocol.MethodWindowShowMessage:
		var params protocol.ShowMessageParams
		if err := json.Unmarshal(n.Params(), &params); err == nil {
			s.logger.Infow("engine message", "type", params.Type.String(), "message", params.Message)
		}
	default:
		s.logger.Debugw("engine notification", "method", n.Method())
	}
}

// HandleCall answers engine-initiated requests with a null result. The reply is written off the
// read loop so an engine that stops draining its stdin cannot stall routing.
func (s *session) HandleCall(_ context.Context, c *jsonrpc2.Call) {
	s.stats.Counter("notifications").Inc(1)
	s.logger.Debugw("engine request", "method", c.Method(), "id", c.ID())

	resp, err := jsonrpc2.NewResponse(c.ID(), nil, nil)
	if err != nil {
		s.logger.Warnw("building reply", "method", c.Method(), "error", err)
		return
	}
	go func() {
		if err := s.writer.Write(resp); err != nil {
			s.logger.Warnw("replying to engine request", "method", c.Method(), "error", err)
		}
	}()
}

func waitClosed(ctx context.Context, ch <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

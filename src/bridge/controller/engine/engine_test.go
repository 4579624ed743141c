package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"github.com/uber/lsp-bridge/src/bridge/internal/executor"
	"github.com/uber/lsp-bridge/src/bridge/internal/executor/executormock"
	"github.com/uber/lsp-bridge/src/bridge/internal/fs"
	"github.com/uber/lsp-bridge/src/bridge/internal/serverinfofile/serverinfofilemock"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx/fxtest"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() Config {
	return Config{
		Enabled:           true,
		Command:           "rust-analyzer",
		ReadyPolicy:       entity.ReadyPolicyQueue,
		ReadyQueueSize:    4,
		RequestTimeout:    time.Second,
		InitializeTimeout: time.Second,
		ShutdownTimeout:   time.Second,
	}
}

func newTestController(t *testing.T, exec executor.Executor, cfg Config) (*controller, tally.TestScope) {
	scope := tally.NewTestScope("testing", make(map[string]string))
	c := &controller{
		cfg:         cfg,
		logger:      zap.NewNop().Sugar(),
		stats:       scope,
		executor:    exec,
		diagnostics: newDiagnosticsCache(),
		queue:       make(chan struct{}, cfg.ReadyQueueSize),
		root:        t.TempDir(),
	}
	t.Cleanup(func() {
		c.Stop(context.Background())
	})
	return c, scope
}

// expectEngines makes the executor hand out the given engines in order.
func expectEngines(ctrl *gomock.Controller, engines ...*fakeEngine) *executormock.MockExecutor {
	exec := executormock.NewMockExecutor(ctrl)
	for _, e := range engines {
		e := e
		exec.EXPECT().Start(gomock.Any()).Return(e, nil)
	}
	return exec
}

func counterValue(scope tally.TestScope, name string) int64 {
	if c, ok := scope.Snapshot().Counters()[name+"+"]; ok {
		return c.Value()
	}
	return 0
}

func waitReady(t *testing.T, c *controller) {
	require.Eventually(t, func() bool { return c.State() == entity.SessionReady }, time.Second, 5*time.Millisecond)
}

func TestRequestRoundTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
		if call.Method() == protocol.MethodTextDocumentHover {
			return map[string]interface{}{"contents": "fn main()"}, nil, true
		}
		return defaultHandler(call)
	})
	c, scope := newTestController(t, expectEngines(ctrl, engine), testConfig())

	require.NoError(t, c.Start(context.Background(), c.root))
	got, err := c.Request(context.Background(), protocol.MethodTextDocumentHover, map[string]interface{}{}, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"contents":"fn main()"}`, string(got))

	assert.Equal(t, entity.SessionReady, c.State())
	assert.Equal(t, 0, c.session.corr.Len())
	assert.Equal(t, []string{
		protocol.MethodInitialize,
		protocol.MethodInitialized,
		protocol.MethodTextDocumentHover,
	}, engine.receivedMethods())
	assert.Equal(t, int64(1), counterValue(scope, "testing.requests"))
}

func TestInitializeParams(t *testing.T) {
	ctrl := gomock.NewController(t)
	received := make(chan protocol.InitializeParams, 1)
	engine := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
		if call.Method() == protocol.MethodInitialize {
			var params protocol.InitializeParams
			if err := decodeParams(call, &params); err == nil {
				received <- params
			}
		}
		return defaultHandler(call)
	})
	c, _ := newTestController(t, expectEngines(ctrl, engine), testConfig())

	require.NoError(t, c.Start(context.Background(), c.root))
	params := <-received
	assert.Equal(t, entity.ProductName, params.ClientInfo.Name)
	assert.Equal(t, c.root, params.RootURI.Filename())
	require.Len(t, params.WorkspaceFolders, 1)
	assert.Equal(t, string(params.RootURI), params.WorkspaceFolders[0].URI)
	require.NotNil(t, params.Capabilities.TextDocument)
	assert.NotNil(t, params.Capabilities.TextDocument.CodeAction.ResolveSupport)
	waitReady(t, c)
}

func TestRequestTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
		if call.Method() == protocol.MethodTextDocumentReferences {
			return nil, nil, false
		}
		return defaultHandler(call)
	})
	c, scope := newTestController(t, expectEngines(ctrl, engine), testConfig())
	require.NoError(t, c.Start(context.Background(), c.root))
	waitReady(t, c)

	timeout := 50 * time.Millisecond
	start := time.Now()
	_, err := c.Request(context.Background(), protocol.MethodTextDocumentReferences, nil, timeout)
	assert.GreaterOrEqual(t, time.Since(start), timeout)
	assert.ErrorIs(t, err, bridgeerrors.ErrEngineTimeout)
	assert.Equal(t, 0, c.session.corr.Len())
	assert.Equal(t, int64(1), counterValue(scope, "testing.timeouts"))

	// The late response is discarded and the session stays usable.
	held := engine.heldCalls()
	require.Len(t, held, 1)
	require.NoError(t, engine.reply(held[0].ID(), []interface{}{}, nil))

	_, err = c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 0)
	assert.NoError(t, err)
}

func TestOutOfOrderResponses(t *testing.T) {
	const n = 5
	ctrl := gomock.NewController(t)
	engine := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
		if call.Method() == protocol.MethodWorkspaceSymbol {
			return nil, nil, false
		}
		return defaultHandler(call)
	})
	c, _ := newTestController(t, expectEngines(ctrl, engine), testConfig())
	require.NoError(t, c.Start(context.Background(), c.root))
	waitReady(t, c)

	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			query := string(rune('a' + i))
			got, err := c.Request(context.Background(), protocol.MethodWorkspaceSymbol, &protocol.WorkspaceSymbolParams{Query: query}, 0)
			if assert.NoError(t, err) {
				assert.NoError(t, json.Unmarshal(got, &results[i]))
			}
		}(i)
	}

	require.Eventually(t, func() bool { return len(engine.heldCalls()) == n }, time.Second, 5*time.Millisecond)
	held := engine.heldCalls()
	for i := len(held) - 1; i >= 0; i-- {
		var params protocol.WorkspaceSymbolParams
		require.NoError(t, decodeParams(held[i], &params))
		require.NoError(t, engine.reply(held[i].ID(), "result-"+params.Query, nil))
	}
	wg.Wait()

	for i, got := range results {
		assert.Equal(t, "result-"+string(rune('a'+i)), got)
	}
}

func TestEngineErrorResponse(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
		if call.Method() == protocol.MethodTextDocumentRename {
			return nil, jsonrpc2.NewError(jsonrpc2.Code(-32803), "No references found at position"), true
		}
		return defaultHandler(call)
	})
	c, _ := newTestController(t, expectEngines(ctrl, engine), testConfig())
	require.NoError(t, c.Start(context.Background(), c.root))

	_, err := c.Request(context.Background(), protocol.MethodTextDocumentRename, nil, 0)
	var bridgeErr *bridgeerrors.BridgeError
	require.True(t, errors.As(err, &bridgeErr))
	assert.Equal(t, bridgeerrors.KindEngineError, bridgeErr.Kind)
	assert.Equal(t, int64(-32803), bridgeErr.Code)
}

func TestCrashFailsPendingAndRestarts(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
		if call.Method() == protocol.MethodTextDocumentReferences {
			return nil, nil, false
		}
		return defaultHandler(call)
	})
	second := newFakeEngine(defaultHandler)
	c, scope := newTestController(t, expectEngines(ctrl, first, second), testConfig())
	require.NoError(t, c.Start(context.Background(), c.root))

	for i := 0; i < 5; i++ {
		_, err := c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 0)
		require.NoError(t, err)
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Request(context.Background(), protocol.MethodTextDocumentReferences, nil, 0)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return len(first.heldCalls()) == 2 }, time.Second, 5*time.Millisecond)

	var heldIDs []jsonrpc2.ID
	for _, call := range first.heldCalls() {
		heldIDs = append(heldIDs, call.ID())
	}
	assert.ElementsMatch(t, []jsonrpc2.ID{jsonrpc2.NewNumberID(7), jsonrpc2.NewNumberID(8)}, heldIDs)

	first.die()
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, <-errs, bridgeerrors.ErrEngineCrashed)
	}
	require.Eventually(t, func() bool { return c.State() == entity.SessionTerminated }, time.Second, 5*time.Millisecond)

	got, err := c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got, "a null result decodes to an empty message")
	assert.Equal(t, entity.SessionReady, c.State())

	// The fresh session numbers its requests from 1 again.
	assert.Equal(t, jsonrpc2.NewNumberID(1), second.receivedCallIDs()[0])
	assert.Equal(t, int64(1), counterValue(scope, "testing.crashes"))
	assert.Equal(t, int64(1), counterValue(scope, "testing.restarts"))
}

func TestReadyQueue(t *testing.T) {
	t.Run("queued request runs after handshake", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		release := make(chan struct{})
		engine := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
			if call.Method() == protocol.MethodInitialize {
				<-release
			}
			return defaultHandler(call)
		})
		c, _ := newTestController(t, expectEngines(ctrl, engine), testConfig())
		require.NoError(t, c.Start(context.Background(), c.root))
		assert.Equal(t, entity.SessionInitializing, c.State())

		errs := make(chan error, 1)
		go func() {
			_, err := c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 0)
			errs <- err
		}()
		require.Eventually(t, func() bool { return len(c.queue) == 1 }, time.Second, 5*time.Millisecond)

		close(release)
		assert.NoError(t, <-errs)
	})

	t.Run("full queue fails fast", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		release := make(chan struct{})
		engine := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
			if call.Method() == protocol.MethodInitialize {
				<-release
			}
			return defaultHandler(call)
		})
		cfg := testConfig()
		cfg.ReadyQueueSize = 1
		c, _ := newTestController(t, expectEngines(ctrl, engine), cfg)
		require.NoError(t, c.Start(context.Background(), c.root))

		errs := make(chan error, 1)
		go func() {
			_, err := c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 0)
			errs <- err
		}()
		require.Eventually(t, func() bool { return len(c.queue) == 1 }, time.Second, 5*time.Millisecond)

		_, err := c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 0)
		assert.ErrorIs(t, err, bridgeerrors.ErrEngineNotReady)

		close(release)
		assert.NoError(t, <-errs)
	})

	t.Run("caller deadline applies while queued", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		release := make(chan struct{})
		engine := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
			if call.Method() == protocol.MethodInitialize {
				<-release
			}
			return defaultHandler(call)
		})
		c, _ := newTestController(t, expectEngines(ctrl, engine), testConfig())
		require.NoError(t, c.Start(context.Background(), c.root))

		_, err := c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 20*time.Millisecond)
		assert.ErrorIs(t, err, bridgeerrors.ErrEngineTimeout)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = c.Request(ctx, protocol.MethodTextDocumentHover, nil, 0)
		assert.ErrorIs(t, err, context.Canceled)

		close(release)
		waitReady(t, c)
	})
}

func TestFailFastPolicy(t *testing.T) {
	ctrl := gomock.NewController(t)
	release := make(chan struct{})
	engine := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
		if call.Method() == protocol.MethodInitialize {
			<-release
		}
		return defaultHandler(call)
	})
	cfg := testConfig()
	cfg.ReadyPolicy = entity.ReadyPolicyFailFast
	c, _ := newTestController(t, expectEngines(ctrl, engine), cfg)
	require.NoError(t, c.Start(context.Background(), c.root))

	_, err := c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 0)
	assert.ErrorIs(t, err, bridgeerrors.ErrEngineNotReady)

	close(release)
	waitReady(t, c)
	_, err = c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 0)
	assert.NoError(t, err)
}

func TestHandshakeFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	release := make(chan struct{})
	engine := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
		if call.Method() == protocol.MethodInitialize {
			<-release
			return nil, jsonrpc2.NewError(jsonrpc2.InternalError, "failed to load workspace"), true
		}
		return defaultHandler(call)
	})
	c, _ := newTestController(t, expectEngines(ctrl, engine), testConfig())
	require.NoError(t, c.Start(context.Background(), c.root))

	errs := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 0)
		errs <- err
	}()
	require.Eventually(t, func() bool { return len(c.queue) == 1 }, time.Second, 5*time.Millisecond)
	close(release)

	err := <-errs
	assert.ErrorIs(t, err, bridgeerrors.ErrEngineCrashed)
	assert.Contains(t, err.Error(), "failed to load workspace")
	require.Eventually(t, func() bool { return c.State() == entity.SessionTerminated }, time.Second, 5*time.Millisecond)
}

func TestSpawnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := executormock.NewMockExecutor(ctrl)
	exec.EXPECT().Start(gomock.Any()).Return(nil, errors.New("executable file not found in $PATH"))
	c, _ := newTestController(t, exec, testConfig())

	_, err := c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 0)
	assert.ErrorIs(t, err, bridgeerrors.ErrEngineNotReady)
	assert.Equal(t, entity.SessionUninitialized, c.State())
}

func TestEngineDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	cfg := testConfig()
	cfg.Enabled = false
	c, _ := newTestController(t, executormock.NewMockExecutor(ctrl), cfg)

	_, err := c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 0)
	assert.ErrorIs(t, err, bridgeerrors.ErrEngineNotReady)
	assert.Contains(t, err.Error(), "engine disabled")
	assert.ErrorIs(t, c.Notify(context.Background(), protocol.MethodWorkspaceDidChangeWatchedFiles, nil), bridgeerrors.ErrEngineNotReady)
	assert.False(t, c.Enabled())
}

func TestNotifyRequiresReady(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := newFakeEngine(defaultHandler)
	c, _ := newTestController(t, expectEngines(ctrl, engine), testConfig())

	assert.ErrorIs(t, c.Notify(context.Background(), protocol.MethodWorkspaceDidChangeWatchedFiles, nil), bridgeerrors.ErrEngineNotReady)

	require.NoError(t, c.Start(context.Background(), c.root))
	waitReady(t, c)
	require.NoError(t, c.Notify(context.Background(), protocol.MethodWorkspaceDidChangeWatchedFiles, &protocol.DidChangeWatchedFilesParams{}))
	assert.Eventually(t, func() bool {
		methods := engine.receivedMethods()
		return methods[len(methods)-1] == protocol.MethodWorkspaceDidChangeWatchedFiles
	}, time.Second, 5*time.Millisecond)
}

func TestStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
		if call.Method() == protocol.MethodTextDocumentReferences {
			return nil, nil, false
		}
		return defaultHandler(call)
	})
	c, _ := newTestController(t, expectEngines(ctrl, engine), testConfig())
	require.NoError(t, c.Start(context.Background(), c.root))
	waitReady(t, c)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), protocol.MethodTextDocumentReferences, nil, 0)
		errs <- err
	}()
	require.Eventually(t, func() bool { return len(engine.heldCalls()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop(context.Background()))
	assert.ErrorIs(t, <-errs, bridgeerrors.ErrEngineShutdown)
	assert.Equal(t, entity.SessionTerminated, c.State())

	methods := engine.receivedMethods()
	assert.Equal(t, []string{protocol.MethodShutdown, protocol.MethodExit}, methods[len(methods)-2:])

	_, err := c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 0)
	assert.ErrorIs(t, err, bridgeerrors.ErrEngineShutdown)
	assert.ErrorIs(t, c.Start(context.Background(), c.root), bridgeerrors.ErrEngineShutdown)
}

func TestStopUnresponsiveEngine(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
		if call.Method() == protocol.MethodShutdown {
			return nil, nil, false
		}
		return defaultHandler(call)
	})
	cfg := testConfig()
	cfg.ShutdownTimeout = 20 * time.Millisecond
	c, _ := newTestController(t, expectEngines(ctrl, engine), cfg)
	require.NoError(t, c.Start(context.Background(), c.root))
	waitReady(t, c)

	err := c.Stop(context.Background())
	assert.ErrorIs(t, err, bridgeerrors.ErrEngineTimeout)
	assert.Equal(t, entity.SessionTerminated, c.State())
	assert.NotContains(t, engine.receivedMethods(), protocol.MethodExit)
}

func TestStartWithDifferentRoot(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := newFakeEngine(defaultHandler)
	second := newFakeEngine(defaultHandler)
	c, _ := newTestController(t, expectEngines(ctrl, first, second), testConfig())
	original := c.root
	require.NoError(t, c.Start(context.Background(), original))
	waitReady(t, c)

	other := t.TempDir()
	err := c.Start(context.Background(), other)
	assert.Equal(t, bridgeerrors.KindInvalidParams, bridgeerrors.KindOf(err))
	assert.Equal(t, original, c.ProjectRoot(), "a live session keeps its root")

	assert.NoError(t, c.Start(context.Background(), original))
	assert.NoError(t, c.Start(context.Background(), ""))

	first.die()
	require.Eventually(t, func() bool { return c.State() == entity.SessionTerminated }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Start(context.Background(), other))
	waitReady(t, c)
	assert.Equal(t, other, c.ProjectRoot())
}

func TestEngineNotifications(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := newFakeEngine(defaultHandler)
	c, scope := newTestController(t, expectEngines(ctrl, engine), testConfig())
	require.NoError(t, c.Start(context.Background(), c.root))
	waitReady(t, c)

	doc := protocol.DocumentURI("file:///project/src/main.rs")
	diagnostics, err := jsonrpc2.NewNotification(protocol.MethodTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI: doc,
		Diagnostics: []protocol.Diagnostic{{
			Severity: protocol.DiagnosticSeverityWarning,
			Code:     "unused_variables",
			Message:  "unused variable: `x`",
		}},
	})
	require.NoError(t, err)
	require.NoError(t, engine.send(diagnostics))

	logMessage, err := jsonrpc2.NewNotification(protocol.MethodWindowLogMessage, &protocol.LogMessageParams{
		Type:    protocol.MessageTypeInfo,
		Message: "indexing",
	})
	require.NoError(t, err)
	require.NoError(t, engine.send(logMessage))

	configuration, err := jsonrpc2.NewCall(jsonrpc2.NewStringID("cfg-1"), protocol.MethodWorkspaceConfiguration, map[string]interface{}{"items": []interface{}{}})
	require.NoError(t, err)
	require.NoError(t, engine.send(configuration))

	require.Eventually(t, func() bool { return len(engine.receivedResponses()) == 1 }, time.Second, 5*time.Millisecond)
	resp := engine.receivedResponses()[0]
	assert.Equal(t, jsonrpc2.NewStringID("cfg-1"), resp.ID())
	assert.NoError(t, resp.Err())
	assert.Empty(t, resp.Result(), "a null result decodes to an empty message")

	cached := c.Diagnostics()
	require.Len(t, cached[doc], 1)
	assert.Equal(t, "unused variable: `x`", cached[doc][0].Message)
	assert.Equal(t, int64(3), counterValue(scope, "testing.notifications"))

	// An empty publication clears the document.
	clear, err := jsonrpc2.NewNotification(protocol.MethodTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{URI: doc})
	require.NoError(t, err)
	require.NoError(t, engine.send(clear))
	assert.Eventually(t, func() bool { return len(c.Diagnostics()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestEngineRequestDoesNotStallReader(t *testing.T) {
	ctrl := gomock.NewController(t)
	busy := make(chan struct{})
	release := make(chan struct{})
	engine := newFakeEngine(func(call *jsonrpc2.Call) (interface{}, error, bool) {
		if call.Method() == protocol.MethodTextDocumentHover {
			// The engine stops draining its stdin until released.
			close(busy)
			<-release
		}
		return defaultHandler(call)
	})
	c, _ := newTestController(t, expectEngines(ctrl, engine), testConfig())
	require.NoError(t, c.Start(context.Background(), c.root))
	waitReady(t, c)

	hoverErr := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), protocol.MethodTextDocumentHover, nil, 0)
		hoverErr <- err
	}()
	<-busy
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	defer unblock()

	configuration, err := jsonrpc2.NewCall(jsonrpc2.NewStringID("cfg-1"), protocol.MethodWorkspaceConfiguration, nil)
	require.NoError(t, err)
	require.NoError(t, engine.send(configuration))

	doc := protocol.DocumentURI("file:///project/src/lib.rs")
	diagnostics, err := jsonrpc2.NewNotification(protocol.MethodTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         doc,
		Diagnostics: []protocol.Diagnostic{{Message: "dead code"}},
	})
	require.NoError(t, err)
	sent := make(chan error, 1)
	go func() { sent <- engine.send(diagnostics) }()

	require.Eventually(t, func() bool { return len(c.Diagnostics()[doc]) == 1 }, time.Second, 5*time.Millisecond,
		"notifications are routed while the reply to the engine is pending")
	require.NoError(t, <-sent)

	unblock()
	require.NoError(t, <-hoverErr)
	require.Eventually(t, func() bool { return len(engine.receivedResponses()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, jsonrpc2.NewStringID("cfg-1"), engine.receivedResponses()[0].ID())
}

func TestNew(t *testing.T) {
	newProvider := func(t *testing.T, engine map[string]interface{}) config.Provider {
		provider, err := config.NewStaticProvider(map[string]interface{}{
			"engine":  engine,
			"project": map[string]interface{}{"root": t.TempDir()},
		})
		require.NoError(t, err)
		return provider
	}

	t.Run("disabled engine starts without spawning", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		lc := fxtest.NewLifecycle(t)
		c, err := New(Params{
			Config:         newProvider(t, map[string]interface{}{"enabled": false}),
			Lifecycle:      lc,
			Logger:         zap.NewNop().Sugar(),
			Stats:          tally.NoopScope,
			Executor:       executormock.NewMockExecutor(ctrl),
			FS:             fs.New(),
			ServerInfoFile: serverinfofilemock.NewMockServerInfoFile(ctrl),
		})
		require.NoError(t, err)
		lc.RequireStart().RequireStop()
		assert.False(t, c.Enabled())
		assert.NotEmpty(t, c.ProjectRoot())
	})

	t.Run("enabled engine is started and stopped with the lifecycle", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		lc := fxtest.NewLifecycle(t)
		infoFile := serverinfofilemock.NewMockServerInfoFile(ctrl)
		infoFile.EXPECT().UpdateField("output:engine", gomock.Any()).Return(nil)
		engine := newFakeEngine(defaultHandler)
		executorMock := executormock.NewMockExecutor(ctrl)
		var started *exec.Cmd
		executorMock.EXPECT().Start(gomock.Any()).DoAndReturn(func(cmd *exec.Cmd) (executor.Process, error) {
			started = cmd
			return engine, nil
		})

		c, err := New(Params{
			Config: newProvider(t, map[string]interface{}{
				"enabled":           true,
				"command":           "rust-analyzer",
				"args":              []string{"--log-file", "ra.log"},
				"readyQueueSize":    8,
				"requestTimeout":    "1s",
				"initializeTimeout": "1s",
				"shutdownTimeout":   "1s",
				"logDir":            t.TempDir(),
			}),
			Lifecycle:      lc,
			Logger:         zap.NewNop().Sugar(),
			Stats:          tally.NoopScope,
			Executor:       executorMock,
			FS:             fs.New(),
			ServerInfoFile: infoFile,
		})
		require.NoError(t, err)

		lc.RequireStart()
		require.NotNil(t, started)
		assert.Equal(t, []string{"rust-analyzer", "--log-file", "ra.log"}, started.Args)
		assert.Equal(t, c.ProjectRoot(), started.Dir)
		require.Eventually(t, func() bool { return c.State() == entity.SessionReady }, time.Second, 5*time.Millisecond)

		lc.RequireStop()
		assert.Equal(t, entity.SessionTerminated, c.State())
	})

	t.Run("config errors", func(t *testing.T) {
		tests := []struct {
			name    string
			engine  map[string]interface{}
			wantErr string
		}{
			{
				name:    "missing command",
				engine:  map[string]interface{}{"enabled": true},
				wantErr: `missing field "engine.command" in config`,
			},
			{
				name:    "unknown policy",
				engine:  map[string]interface{}{"enabled": false, "readyPolicy": "sometimes"},
				wantErr: `unknown ready policy "sometimes"`,
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				ctrl := gomock.NewController(t)
				_, err := New(Params{
					Config:         newProvider(t, tt.engine),
					Lifecycle:      fxtest.NewLifecycle(t),
					Logger:         zap.NewNop().Sugar(),
					Stats:          tally.NoopScope,
					Executor:       executormock.NewMockExecutor(ctrl),
					FS:             fs.New(),
					ServerInfoFile: serverinfofilemock.NewMockServerInfoFile(ctrl),
				})
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			})
		}
	})

	t.Run("missing engine section", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		provider, err := config.NewStaticProvider(map[string]interface{}{})
		require.NoError(t, err)
		_, err = New(Params{
			Config:         provider,
			Lifecycle:      fxtest.NewLifecycle(t),
			Logger:         zap.NewNop().Sugar(),
			Stats:          tally.NoopScope,
			Executor:       executormock.NewMockExecutor(ctrl),
			FS:             fs.New(),
			ServerInfoFile: serverinfofilemock.NewMockServerInfoFile(ctrl),
		})
		assert.EqualError(t, err, `missing field "engine" in config`)
	})
}

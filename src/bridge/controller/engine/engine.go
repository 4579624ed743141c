// Package engine supervises the code-intelligence engine subprocess and its protocol session.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"github.com/uber/lsp-bridge/src/bridge/internal/executor"
	"github.com/uber/lsp-bridge/src/bridge/internal/fs"
	"github.com/uber/lsp-bridge/src/bridge/internal/logfilewriter"
	"github.com/uber/lsp-bridge/src/bridge/internal/serverinfofile"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyEngine      = "engine"
	_configKeyProjectRoot = "project.root"
	_outputName           = "engine"

	_errStartEngine = "starting engine %q"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Controller owns the engine process and the single protocol session running on it.
type Controller interface {
	// Start spawns a session for root if none is live. It returns once the process is running;
	// the handshake continues in the background. A live session for another root is an
	// InvalidParams error.
	Start(ctx context.Context, root string) error
	// Request sends method to the engine and waits for its response.
	// A zero timeout selects the configured request timeout.
	Request(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error)
	// Notify sends a notification. The session must be Ready.
	Notify(ctx context.Context, method string, params interface{}) error
	// Stop shuts the session down and rejects later requests.
	Stop(ctx context.Context) error

	State() entity.SessionState
	ProjectRoot() string
	Enabled() bool
	// Diagnostics returns the latest published diagnostics, keyed by document URI.
	Diagnostics() map[protocol.DocumentURI][]protocol.Diagnostic
}

// Config holds the engine section of the configuration.
type Config struct {
	Enabled           bool               `yaml:"enabled"`
	Command           string             `yaml:"command"`
	Args              []string           `yaml:"args"`
	ReadyPolicy       entity.ReadyPolicy `yaml:"readyPolicy"`
	ReadyQueueSize    int                `yaml:"readyQueueSize"`
	RequestTimeout    time.Duration      `yaml:"requestTimeout"`
	InitializeTimeout time.Duration      `yaml:"initializeTimeout"`
	ShutdownTimeout   time.Duration      `yaml:"shutdownTimeout"`
	MaxMessageBytes   int64              `yaml:"maxMessageBytes"`
	LogDir            string             `yaml:"logDir"`
}

// Params are inbound parameters to initialize a new engine controller.
type Params struct {
	fx.In

	Config         config.Provider
	Lifecycle      fx.Lifecycle
	Logger         *zap.SugaredLogger
	Stats          tally.Scope
	Executor       executor.Executor
	FS             fs.BridgeFS
	ServerInfoFile serverinfofile.ServerInfoFile
}

type controller struct {
	cfg      Config
	logger   *zap.SugaredLogger
	stats    tally.Scope
	executor executor.Executor
	stderr   logfilewriter.OutputWriter

	diagnostics *diagnosticsCache
	queue       chan struct{}

	mu      sync.Mutex
	root    string
	session *session
	stopped bool
}

// New constructs the engine controller. The engine is started when the application starts.
func New(p Params) (Controller, error) {
	c := &controller{
		logger:      p.Logger.With("component", "engine"),
		stats:       p.Stats.SubScope("engine"),
		executor:    p.Executor,
		diagnostics: newDiagnosticsCache(),
	}
	if err := c.processConfig(p.Config, p.FS); err != nil {
		return nil, err
	}
	c.queue = make(chan struct{}, c.cfg.ReadyQueueSize)

	if c.cfg.Enabled {
		stderr, err := logfilewriter.SetupOutputWriter(logfilewriter.Params{
			FS:             p.FS,
			Lifecycle:      p.Lifecycle,
			ServerInfoFile: p.ServerInfoFile,
			Dir:            c.cfg.LogDir,
		}, _outputName)
		if err != nil {
			return nil, fmt.Errorf("setting up engine output: %w", err)
		}
		c.stderr = stderr
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !c.cfg.Enabled {
				c.logger.Infow("engine disabled, only static commands are available")
				return nil
			}
			// A failed spawn is retried on the first request.
			if err := c.Start(ctx, c.ProjectRoot()); err != nil {
				c.logger.Warnw("engine did not start", "error", err)
			}
			return nil
		},
		OnStop: c.Stop,
	})
	return c, nil
}

func (c *controller) Start(ctx context.Context, root string) error {
	if !c.cfg.Enabled {
		return bridgeerrors.New(bridgeerrors.KindEngineNotReady, "engine disabled")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return bridgeerrors.New(bridgeerrors.KindEngineShutdown, "engine controller stopped")
	}
	live := c.session != nil && c.session.State() != entity.SessionTerminated
	if root != "" && root != c.root {
		if live {
			return bridgeerrors.New(bridgeerrors.KindInvalidParams, "engine already serves %s, cannot switch to %s", c.root, root)
		}
		c.root = root
	}
	if live {
		return nil
	}
	return c.spawnLocked()
}

func (c *controller) Request(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	if !c.cfg.Enabled {
		return nil, bridgeerrors.New(bridgeerrors.KindEngineNotReady, "engine disabled")
	}
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	deadline := time.Now().Add(timeout)

	s, err := c.liveSession()
	if err != nil {
		return nil, err
	}
	if err := c.awaitReady(ctx, s, deadline); err != nil {
		return nil, err
	}

	c.stats.Counter("requests").Inc(1)
	result, err := s.call(ctx, method, params, time.Until(deadline))
	if bridgeerrors.Is(err, bridgeerrors.ErrEngineTimeout) {
		c.stats.Counter("timeouts").Inc(1)
	}
	return result, err
}

func (c *controller) Notify(ctx context.Context, method string, params interface{}) error {
	if !c.cfg.Enabled {
		return bridgeerrors.New(bridgeerrors.KindEngineNotReady, "engine disabled")
	}

	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil || s.State() != entity.SessionReady {
		return bridgeerrors.New(bridgeerrors.KindEngineNotReady, "engine is not ready")
	}
	return s.notify(method, params)
}

func (c *controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	s := c.session
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.stop(ctx, c.cfg.ShutdownTimeout)
}

func (c *controller) State() entity.SessionState {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil {
		return entity.SessionUninitialized
	}
	return s.State()
}

func (c *controller) ProjectRoot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

func (c *controller) Enabled() bool {
	return c.cfg.Enabled
}

func (c *controller) Diagnostics() map[protocol.DocumentURI][]protocol.Diagnostic {
	return c.diagnostics.all()
}

// liveSession returns the current session, replacing it with a fresh one if it has terminated.
func (c *controller) liveSession() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, bridgeerrors.New(bridgeerrors.KindEngineShutdown, "engine controller stopped")
	}
	if c.session != nil && c.session.State() != entity.SessionTerminated {
		return c.session, nil
	}
	if c.session != nil {
		c.stats.Counter("restarts").Inc(1)
		c.logger.Infow("restarting engine", "previous_error", c.session.Err())
	}
	if err := c.spawnLocked(); err != nil {
		return nil, err
	}
	return c.session, nil
}

// awaitReady blocks until s completes its handshake, following the configured ready policy.
func (c *controller) awaitReady(ctx context.Context, s *session, deadline time.Time) error {
	switch s.State() {
	case entity.SessionReady:
		return nil
	case entity.SessionTerminated:
		return s.Err()
	case entity.SessionShuttingDown:
		return bridgeerrors.New(bridgeerrors.KindEngineShutdown, "engine is shutting down")
	}

	if c.cfg.ReadyPolicy == entity.ReadyPolicyFailFast {
		return bridgeerrors.New(bridgeerrors.KindEngineNotReady, "engine is %s", s.State())
	}

	select {
	case c.queue <- struct{}{}:
		defer func() { <-c.queue }()
	default:
		return bridgeerrors.New(bridgeerrors.KindEngineNotReady, "%d requests already waiting for the engine", cap(c.queue))
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return s.Err()
	case <-timer.C:
		return bridgeerrors.New(bridgeerrors.KindEngineTimeout, "engine did not become ready in time")
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return bridgeerrors.Wrap(bridgeerrors.KindEngineTimeout, ctx.Err(), "waiting for engine")
		}
		return bridgeerrors.Wrap(bridgeerrors.KindInternal, ctx.Err(), "waiting for engine")
	}
}

// spawnLocked starts a new engine process and session. c.mu must be held.
func (c *controller) spawnLocked() error {
	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.root
	if c.stderr != nil {
		cmd.Stderr = c.stderr
	}

	proc, err := c.executor.Start(cmd)
	if err != nil {
		return bridgeerrors.Wrap(bridgeerrors.KindEngineNotReady, err, _errStartEngine, c.cfg.Command)
	}

	s := newSession(proc, c.cfg.MaxMessageBytes, c.logger, c.stats, c.diagnostics)
	c.session = s
	c.logger.Infow("engine started", "pid", proc.Pid(), "root", c.root)

	s.setState(entity.SessionInitializing)
	go s.readLoop()
	go s.handshake(c.initializeParams(), c.cfg.InitializeTimeout)
	return nil
}

func (c *controller) initializeParams() *protocol.InitializeParams {
	rootURI := uri.File(c.root)
	return &protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		ClientInfo: &protocol.ClientInfo{
			Name:    entity.ProductName,
			Version: entity.Version,
		},
		RootPath: c.root,
		RootURI:  rootURI,
		WorkspaceFolders: []protocol.WorkspaceFolder{
			{URI: string(rootURI), Name: filepath.Base(c.root)},
		},
		Capabilities: protocol.ClientCapabilities{
			Workspace: &protocol.WorkspaceClientCapabilities{
				WorkspaceEdit: &protocol.WorkspaceClientCapabilitiesWorkspaceEdit{
					DocumentChanges: true,
				},
				DidChangeWatchedFiles: &protocol.DidChangeWatchedFilesWorkspaceClientCapabilities{},
				Symbol:                &protocol.WorkspaceSymbolClientCapabilities{},
				WorkspaceFolders:      true,
			},
			TextDocument: &protocol.TextDocumentClientCapabilities{
				Hover: &protocol.HoverTextDocumentClientCapabilities{
					ContentFormat: []protocol.MarkupKind{protocol.Markdown, protocol.PlainText},
				},
				Completion:     &protocol.CompletionTextDocumentClientCapabilities{},
				SignatureHelp:  &protocol.SignatureHelpTextDocumentClientCapabilities{},
				Implementation: &protocol.ImplementationTextDocumentClientCapabilities{},
				References:     &protocol.ReferencesTextDocumentClientCapabilities{},
				CodeAction: &protocol.CodeActionClientCapabilities{
					CodeActionLiteralSupport: &protocol.CodeActionClientCapabilitiesLiteralSupport{
						CodeActionKind: &protocol.CodeActionClientCapabilitiesKind{
							ValueSet: []protocol.CodeActionKind{
								protocol.QuickFix,
								protocol.RefactorExtract,
								protocol.RefactorInline,
								protocol.SourceOrganizeImports,
							},
						},
					},
					IsPreferredSupport: true,
					DataSupport:        true,
					ResolveSupport: &protocol.CodeActionClientCapabilitiesResolveSupport{
						Properties: []string{"edit"},
					},
				},
				PublishDiagnostics: &protocol.PublishDiagnosticsClientCapabilities{
					RelatedInformation: true,
				},
				Rename: &protocol.RenameClientCapabilities{
					PrepareSupport: true,
				},
			},
		},
	}
}

func (c *controller) processConfig(cfg config.Provider, bridgeFS fs.BridgeFS) error {
	value := cfg.Get(_configKeyEngine)
	if !value.HasValue() {
		return fmt.Errorf("missing field %q in config", _configKeyEngine)
	}
	if err := value.Populate(&c.cfg); err != nil {
		return fmt.Errorf("getting config field %q: %w", _configKeyEngine, err)
	}

	if c.cfg.Enabled && c.cfg.Command == "" {
		return fmt.Errorf("missing field %q in config", _configKeyEngine+".command")
	}
	if c.cfg.ReadyPolicy == "" {
		c.cfg.ReadyPolicy = entity.ReadyPolicyQueue
	}
	if !c.cfg.ReadyPolicy.Valid() {
		return fmt.Errorf("getting config field %q: unknown ready policy %q", _configKeyEngine+".readyPolicy", c.cfg.ReadyPolicy)
	}
	if c.cfg.ReadyQueueSize <= 0 {
		c.cfg.ReadyQueueSize = 1
	}

	var root string
	if err := cfg.Get(_configKeyProjectRoot).Populate(&root); err != nil {
		return fmt.Errorf("getting config field %q: %w", _configKeyProjectRoot, err)
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}
	canonical, err := bridgeFS.Canonicalize(root)
	if err != nil {
		return fmt.Errorf("resolving project root %q: %w", root, err)
	}
	c.root = canonical
	return nil
}

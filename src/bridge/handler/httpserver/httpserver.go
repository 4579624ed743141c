// Package httpserver serves the command catalog over loopback HTTP. A daemon is this server
// running for one project.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/controller/daemon"
	"github.com/uber/lsp-bridge/src/bridge/controller/dispatcher"
	"github.com/uber/lsp-bridge/src/bridge/controller/engine"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	"github.com/uber/lsp-bridge/src/bridge/factory"
	daemonclient "github.com/uber/lsp-bridge/src/bridge/gateway/daemon-client"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"github.com/uber/lsp-bridge/src/bridge/internal/serverinfofile"
	"github.com/uber/lsp-bridge/src/bridge/mapper"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyHTTP        = "http"
	_configKeyIdleTimeout = "daemon.idleTimeout"

	_infoKeyAddress     = "http-address"
	_infoKeyPort        = "port"
	_infoKeyPID         = "pid"
	_infoKeyProjectRoot = "project-root"

	_maxBodyBytes      = 16 << 20
	_readHeaderTimeout = 10 * time.Second
	_statusShutdown    = "shutting down"
)

// Module serves HTTP for the lifetime of the application.
var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(func(Server) {}),
)

// Server is the daemon's HTTP surface.
type Server interface {
	// Handler returns the router serving every route.
	Handler() http.Handler
	// Addr returns the address being listened on, once started.
	Addr() string
}

// Config holds the http section of the configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Params are inbound parameters to initialize a new Server.
type Params struct {
	fx.In

	Config         config.Provider
	Lifecycle      fx.Lifecycle
	Shutdowner     fx.Shutdowner
	Logger         *zap.SugaredLogger
	Stats          tally.Scope
	Dispatcher     dispatcher.Controller
	Engine         engine.Controller
	Daemon         daemon.Controller
	ServerInfoFile serverinfofile.ServerInfoFile
}

type server struct {
	cfg         Config
	idleTimeout time.Duration
	started     time.Time

	dispatcher dispatcher.Controller
	engine     engine.Controller
	daemon     daemon.Controller
	infoFile   serverinfofile.ServerInfoFile
	shutdowner fx.Shutdowner
	logger     *zap.SugaredLogger
	stats      tally.Scope
	router     chi.Router

	httpServer *http.Server
	addr       string

	// inFlight counts running requests; the idle timer only runs while it is zero.
	idleMu    sync.Mutex
	idleTimer *time.Timer
	inFlight  int

	registerCancel context.CancelFunc
	registerDone   chan struct{}
	shutdownOnce   sync.Once
}

// New creates the Server. It listens when the application starts.
func New(p Params) (Server, error) {
	s := &server{
		started:    time.Now(),
		dispatcher: p.Dispatcher,
		engine:     p.Engine,
		daemon:     p.Daemon,
		infoFile:   p.ServerInfoFile,
		shutdowner: p.Shutdowner,
		logger:     p.Logger.With("component", "http"),
		stats:      p.Stats.SubScope("http"),
	}
	if err := s.processConfig(p.Config); err != nil {
		return nil, err
	}
	s.router = s.routes()

	p.Lifecycle.Append(fx.Hook{
		OnStart: s.start,
		OnStop:  s.stop,
	})
	return s, nil
}

func (s *server) Handler() http.Handler {
	return s.router
}

func (s *server) Addr() string {
	return s.addr
}

func (s *server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(s.touch)

	r.Get("/", s.health)
	r.Get(daemonclient.PathHealth, s.health)
	r.Get("/tools/list", s.toolsList)
	r.Post(daemonclient.PathShutdown, s.shutdown)
	r.Post(daemonclient.PathJSONRPC, s.jsonrpc)
	r.Post("/*", s.command)
	return r
}

func (s *server) start(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	s.addr = ln.Addr().String()
	port := ln.Addr().(*net.TCPAddr).Port

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: _readHeaderTimeout,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("http server stopped", "error", err)
			s.requestShutdown()
		}
	}()
	s.logger.Infow("serving http", "address", s.addr, "project_root", s.engine.ProjectRoot())

	for key, value := range map[string]string{
		_infoKeyAddress:     s.addr,
		_infoKeyPort:        strconv.Itoa(port),
		_infoKeyPID:         strconv.Itoa(os.Getpid()),
		_infoKeyProjectRoot: s.engine.ProjectRoot(),
	} {
		if err := s.infoFile.UpdateField(key, value); err != nil {
			s.logger.Warnw("writing server info", "key", key, "error", err)
		}
	}

	if s.idleTimeout > 0 {
		s.idleMu.Lock()
		s.idleTimer = time.AfterFunc(s.idleTimeout, s.idle)
		s.idleMu.Unlock()
	}

	// The spawning client holds the registry lock until this server answers health probes,
	// so registration must not block startup.
	registerCtx, cancel := context.WithCancel(context.Background())
	s.registerCancel = cancel
	s.registerDone = make(chan struct{})
	go func() {
		defer close(s.registerDone)
		if err := s.daemon.Register(registerCtx, s.engine.ProjectRoot(), port, os.Getpid()); err != nil && registerCtx.Err() == nil {
			s.logger.Warnw("registering daemon", "error", err)
		}
	}()
	return nil
}

func (s *server) stop(ctx context.Context) error {
	s.idleMu.Lock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.idleMu.Unlock()

	if s.registerCancel != nil {
		s.registerCancel()
		<-s.registerDone
	}
	if err := s.daemon.Unregister(ctx, s.engine.ProjectRoot(), os.Getpid()); err != nil {
		s.logger.Warnw("unregistering daemon", "error", err)
	}

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *server) idle() {
	s.idleMu.Lock()
	busy := s.inFlight > 0 || s.idleTimer == nil
	s.idleMu.Unlock()
	// The timer may fire just as a request starts.
	if busy {
		return
	}

	s.logger.Infow("idle timeout reached, shutting down", "idle_timeout", s.idleTimeout)
	s.stats.Counter("idle_shutdowns").Inc(1)
	s.requestShutdown()
}

func (s *server) requestShutdown() {
	s.shutdownOnce.Do(func() {
		if err := s.shutdowner.Shutdown(); err != nil {
			s.logger.Warnw("requesting shutdown", "error", err)
		}
	})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	state := "disabled"
	if s.engine.Enabled() {
		state = s.engine.State().String()
	}
	writeJSON(w, http.StatusOK, entity.HealthStatus{
		Status:      entity.HealthOK,
		ProjectRoot: s.engine.ProjectRoot(),
		PID:         os.Getpid(),
		UptimeMS:    time.Since(s.started).Milliseconds(),
		EngineState: state,
	})
}

func (s *server) shutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": _statusShutdown})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	go s.requestShutdown()
}

func (s *server) toolsList(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, entity.NewCommand(dispatcher.ToolsList, nil))
}

// command runs POST /{method} with the body as params.
func (s *server) command(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, _maxBodyBytes))
	if err != nil {
		s.fail(w, bridgeerrors.Wrap(bridgeerrors.KindParseError, err, "reading body"))
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		s.fail(w, bridgeerrors.New(bridgeerrors.KindParseError, "body is not valid JSON"))
		return
	}
	params, err := mapper.ParamsToMap(body)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.run(w, r, entity.NewCommand(chi.URLParam(r, "*"), params))
}

// jsonrpc accepts a whole line-protocol request.
func (s *server) jsonrpc(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, _maxBodyBytes))
	if err != nil {
		s.fail(w, bridgeerrors.Wrap(bridgeerrors.KindParseError, err, "reading body"))
		return
	}

	var req mapper.Request
	if err := json.Unmarshal(body, &req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write(mapper.ParseErrorResponse(err))
		return
	}

	var result entity.ToolResult
	if cmd, err := mapper.RequestToCommand(req); err != nil {
		result = mapper.ErrorToToolResult(err)
	} else {
		result = s.dispatcher.Dispatch(r.Context(), cmd)
	}
	if req.IsNotification() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	data, err := mapper.ToolResultToResponse(req.VersionKey(), req.ID, result)
	if err != nil {
		s.fail(w, bridgeerrors.Wrap(bridgeerrors.KindProtocol, err, "encoding response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(result))
	w.Write(data)
}

func (s *server) run(w http.ResponseWriter, r *http.Request, cmd entity.Command) {
	result := s.dispatcher.Dispatch(r.Context(), cmd)
	writeJSON(w, StatusFor(result), mapper.ToolResultToWire(result))
}

func (s *server) fail(w http.ResponseWriter, err error) {
	result := mapper.ErrorToToolResult(err)
	writeJSON(w, StatusFor(result), mapper.ToolResultToWire(result))
}

// StatusFor returns the HTTP status reported for a result.
func StatusFor(r entity.ToolResult) int {
	if r.OK() {
		return http.StatusOK
	}
	switch r.Err.Kind {
	case bridgeerrors.KindInvalidParams, bridgeerrors.KindParseError:
		return http.StatusBadRequest
	case bridgeerrors.KindMethodNotFound:
		return http.StatusNotFound
	case bridgeerrors.KindEngineTimeout:
		return http.StatusGatewayTimeout
	case bridgeerrors.KindEngineNotReady, bridgeerrors.KindEngineCrashed:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// requestID propagates the caller's request id or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(daemonclient.HeaderRequestID)
		if id == "" {
			id = factory.RequestID()
		}
		w.Header().Set(daemonclient.HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		s.stats.Tagged(map[string]string{"status": strconv.Itoa(ww.Status())}).Counter("requests").Inc(1)
		s.stats.Timer("latency").Record(elapsed)
		s.logger.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", elapsed,
			"request_id", w.Header().Get(daemonclient.HeaderRequestID),
		)
	})
}

// touch pauses the idle timer while any request runs and restarts it when the last one ends.
func (s *server) touch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestStarted()
		defer s.requestDone()
		next.ServeHTTP(w, r)
	})
}

func (s *server) requestStarted() {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	s.inFlight++
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
}

func (s *server) requestDone() {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	s.inFlight--
	if s.inFlight == 0 && s.idleTimer != nil {
		s.idleTimer.Reset(s.idleTimeout)
	}
}

func (s *server) processConfig(cfg config.Provider) error {
	if err := cfg.Get(_configKeyHTTP).Populate(&s.cfg); err != nil {
		return fmt.Errorf("getting config field %q: %w", _configKeyHTTP, err)
	}
	if s.cfg.Host == "" {
		return fmt.Errorf("missing field %q in config", _configKeyHTTP+".host")
	}
	if err := cfg.Get(_configKeyIdleTimeout).Populate(&s.idleTimeout); err != nil {
		return fmt.Errorf("getting config field %q: %w", _configKeyIdleTimeout, err)
	}
	return nil
}

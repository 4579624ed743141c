// Package watcher forwards workspace file changes to the engine.
package watcher

import (
	"context"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/controller/engine"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	"github.com/uber/lsp-bridge/src/bridge/internal/fs"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyWatcher = "watcher"

	_methodDidChangeWatchedFiles = "workspace/didChangeWatchedFiles"
	_defaultDebounce             = 300 * time.Millisecond
	_notifyTimeout               = 5 * time.Second
)

// Module watches the project root for the lifetime of the application.
var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(func(Controller) {}),
)

// Controller batches file system events under the project root into engine notifications.
type Controller interface {
	// Watching reports whether a watch is active.
	Watching() bool
}

// Config holds the watcher section of the configuration.
type Config struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Params are inbound parameters to initialize a new watcher controller.
type Params struct {
	fx.In

	Config    config.Provider
	Lifecycle fx.Lifecycle
	Logger    *zap.SugaredLogger
	Stats     tally.Scope
	Engine    engine.Controller
	FS        fs.BridgeFS
}

type controller struct {
	cfg    Config
	engine engine.Controller
	fs     fs.BridgeFS
	logger *zap.SugaredLogger
	stats  tally.Scope

	root    string
	watcher *fsnotify.Watcher
	closer  chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	pending map[string]protocol.FileChangeType
}

// New creates the watcher controller. The watch starts with the application when enabled.
func New(p Params) (Controller, error) {
	c := &controller{
		engine:  p.Engine,
		fs:      p.FS,
		logger:  p.Logger.With("component", "watcher"),
		stats:   p.Stats.SubScope("watcher"),
		pending: make(map[string]protocol.FileChangeType),
	}
	if err := p.Config.Get(_configKeyWatcher).Populate(&c.cfg); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyWatcher, err)
	}
	if c.cfg.Debounce <= 0 {
		c.cfg.Debounce = _defaultDebounce
	}
	if !c.cfg.Enabled || !p.Engine.Enabled() {
		return c, nil
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return c.start(p.Engine.ProjectRoot())
		},
		OnStop: func(context.Context) error {
			return c.stop()
		},
	})
	return c, nil
}

func (c *controller) Watching() bool {
	return c.watcher != nil
}

func (c *controller) start(root string) error {
	if root == "" {
		c.logger.Warn("no project root, file watching disabled")
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	c.root = root
	c.watcher = w
	if err := c.addTree(root); err != nil {
		w.Close()
		c.watcher = nil
		return err
	}

	c.closer = make(chan struct{})
	c.done = make(chan struct{})
	go c.handleChanges()
	c.logger.Infow("watching project", "root", root)
	return nil
}

func (c *controller) stop() error {
	if c.watcher == nil {
		return nil
	}
	close(c.closer)
	<-c.done
	return c.watcher.Close()
}

// addTree watches dir and every directory below it that is not skipped.
func (c *controller) addTree(dir string) error {
	return c.fs.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			// Directories can vanish between the event and the walk.
			c.logger.Debugw("walking directory", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != c.root && c.skipped(path) {
			return filepath.SkipDir
		}
		if err := c.watcher.Add(path); err != nil {
			return fmt.Errorf("watching %q: %w", path, err)
		}
		return nil
	})
}

// skipped reports whether path lies in a build output or hidden directory.
func (c *controller) skipped(path string) bool {
	rel, err := filepath.Rel(c.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "target" || (strings.HasPrefix(part, ".") && part != ".") {
			return true
		}
	}
	return false
}

func (c *controller) handleChanges() {
	defer close(c.done)

	timer := time.NewTimer(c.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if c.record(event) {
				timer.Reset(c.cfg.Debounce)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.stats.Counter("errors").Inc(1)
			c.logger.Warnw("file watcher failure", "error", err)
		case <-timer.C:
			c.flush()
		case <-c.closer:
			return
		}
	}
}

// record folds event into the pending batch and reports whether it was kept.
func (c *controller) record(event fsnotify.Event) bool {
	if c.skipped(event.Name) {
		return false
	}

	var change protocol.FileChangeType
	switch {
	case event.Has(fsnotify.Create):
		change = protocol.FileChangeTypeCreated
		if ok, _ := c.fs.DirExists(event.Name); ok {
			if err := c.addTree(event.Name); err != nil {
				c.logger.Warnw("watching new directory", "path", event.Name, "error", err)
			}
		}
	case event.Has(fsnotify.Write):
		change = protocol.FileChangeTypeChanged
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		change = protocol.FileChangeTypeDeleted
	default:
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev, seen := c.pending[event.Name]
	switch {
	case seen && prev == protocol.FileChangeTypeCreated && change == protocol.FileChangeTypeChanged:
		// Still a creation as far as the engine is concerned.
	case seen && prev == protocol.FileChangeTypeCreated && change == protocol.FileChangeTypeDeleted:
		delete(c.pending, event.Name)
	default:
		c.pending[event.Name] = change
	}
	return true
}

// flush sends the pending batch to the engine, or drops it when the session is not ready.
func (c *controller) flush() {
	c.mu.Lock()
	batch := c.pending
	c.pending = make(map[string]protocol.FileChangeType)
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if state := c.engine.State(); state != entity.SessionReady {
		c.stats.Counter("dropped").Inc(int64(len(batch)))
		c.logger.Debugw("engine not ready, dropping file events", "state", state.String(), "count", len(batch))
		return
	}

	params := &protocol.DidChangeWatchedFilesParams{Changes: changes(batch)}
	ctx, cancel := context.WithTimeout(context.Background(), _notifyTimeout)
	defer cancel()
	if err := c.engine.Notify(ctx, _methodDidChangeWatchedFiles, params); err != nil {
		c.logger.Warnw("sending file events", "error", err)
		return
	}
	c.stats.Counter("events").Inc(int64(len(batch)))
}

func changes(batch map[string]protocol.FileChangeType) []*protocol.FileEvent {
	paths := make([]string, 0, len(batch))
	for p := range batch {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make([]*protocol.FileEvent, 0, len(paths))
	for _, p := range paths {
		out = append(out, &protocol.FileEvent{Type: batch[p], URI: uri.File(p)})
	}
	return out
}

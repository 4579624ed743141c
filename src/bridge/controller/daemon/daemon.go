// Package daemon finds, starts and stops the per-project daemons recorded in the registry.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	daemonclient "github.com/uber/lsp-bridge/src/bridge/gateway/daemon-client"
	"github.com/uber/lsp-bridge/src/bridge/internal/clock"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"github.com/uber/lsp-bridge/src/bridge/internal/executor"
	"github.com/uber/lsp-bridge/src/bridge/internal/fs"
	"github.com/uber/lsp-bridge/src/bridge/internal/ports"
	"github.com/uber/lsp-bridge/src/bridge/mapper"
	"github.com/uber/lsp-bridge/src/bridge/repository/registry"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyRegistry = "registry"

	_flagServer      = "--server"
	_flagPort        = "--port"
	_flagProjectPath = "--project-path"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Controller manages the daemon registry. Every mutation runs under the registry lock, so
// concurrent callers in any process agree on one daemon per project.
type Controller interface {
	// EnsureDaemon returns the endpoint of a healthy daemon for root, spawning one if needed.
	EnsureDaemon(ctx context.Context, root string) (entity.Endpoint, error)
	// Evict removes the record for root if it still points at endpoint.
	Evict(ctx context.Context, root string, endpoint entity.Endpoint) error
	// StopDaemon asks the daemon for root to exit and removes its record.
	// Unknown roots are a no-op.
	StopDaemon(ctx context.Context, root string) error
	// Status reports the daemon for root. The bool is false when no record exists.
	Status(ctx context.Context, root string) (entity.DaemonStatus, bool, error)
	// List reports every recorded daemon, ordered by project root.
	List(ctx context.Context) ([]entity.DaemonStatus, error)
	// Cleanup evicts records whose daemon is neither healthy nor alive and returns their roots.
	Cleanup(ctx context.Context) ([]string, error)
	// Register records a daemon serving root from this process, unless one is already recorded.
	Register(ctx context.Context, root string, port, pid int) error
	// Unregister removes the record for root if it belongs to pid.
	Unregister(ctx context.Context, root string, pid int) error
}

// Config holds the registry timings and the spawned daemon's log location.
type Config struct {
	HealthTimeout time.Duration `yaml:"healthTimeout"`
	StartTimeout  time.Duration `yaml:"startTimeout"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	DaemonLogPath string        `yaml:"daemonLogPath"`
}

// Params are inbound parameters to initialize a new daemon controller.
type Params struct {
	fx.In

	Config    config.Provider
	Logger    *zap.SugaredLogger
	Stats     tally.Scope
	Store     registry.Store
	Gateway   daemonclient.Gateway
	Allocator ports.Allocator
	Executor  executor.Executor
	FS        fs.BridgeFS
	Clock     clock.Clock
}

type controller struct {
	cfg       Config
	logger    *zap.SugaredLogger
	stats     tally.Scope
	store     registry.Store
	gateway   daemonclient.Gateway
	allocator ports.Allocator
	executor  executor.Executor
	fs        fs.BridgeFS
	clock     clock.Clock
	// executable locates the binary spawned as the daemon; replaced in tests.
	executable func() (string, error)
}

// New creates a daemon controller.
func New(p Params) (Controller, error) {
	c := &controller{
		logger:     p.Logger.With("component", "daemon"),
		stats:      p.Stats.SubScope("daemon"),
		store:      p.Store,
		gateway:    p.Gateway,
		allocator:  p.Allocator,
		executor:   p.Executor,
		fs:         p.FS,
		clock:      p.Clock,
		executable: os.Executable,
	}
	if err := c.processConfig(p.Config); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *controller) EnsureDaemon(ctx context.Context, root string) (entity.Endpoint, error) {
	root, err := c.canonical(root)
	if err != nil {
		return "", err
	}

	// The eviction is committed on its own so a failed spawn below cannot restore the stale record.
	endpoint, err := c.reuseOrEvict(ctx, root)
	if err != nil || endpoint != "" {
		return endpoint, err
	}

	err = c.store.Update(ctx, func(state registry.State) (registry.State, error) {
		if rec, ok := state[root]; ok {
			// Another client spawned a daemon between the two updates.
			if c.healthy(ctx, rec.Endpoint()) {
				rec.LastSeenAt = c.clock.Now()
				state[root] = rec
				endpoint = rec.Endpoint()
				return state, nil
			}
			delete(state, root)
		}

		taken := make(map[int]bool, len(state))
		for _, rec := range state {
			taken[rec.Port] = true
		}
		port, err := c.allocator.Allocate(taken)
		if err != nil {
			return nil, err
		}

		rec, err := c.spawn(ctx, root, port)
		if err != nil {
			return nil, err
		}
		state[root] = rec
		endpoint = rec.Endpoint()
		return state, nil
	})
	if err != nil {
		return "", err
	}
	return endpoint, nil
}

// reuseOrEvict returns the endpoint of a healthy registered daemon for root, refreshing its
// LastSeenAt. An unhealthy record is removed and an empty endpoint returned.
func (c *controller) reuseOrEvict(ctx context.Context, root string) (entity.Endpoint, error) {
	var endpoint entity.Endpoint
	err := c.store.Update(ctx, func(state registry.State) (registry.State, error) {
		rec, ok := state[root]
		if !ok {
			return state, nil
		}
		if c.healthy(ctx, rec.Endpoint()) {
			rec.LastSeenAt = c.clock.Now()
			state[root] = rec
			endpoint = rec.Endpoint()
			return state, nil
		}
		c.logger.Infow("evicting unhealthy daemon", "root", root, "port", rec.Port, "pid", rec.PID)
		c.stats.Counter("evictions").Inc(1)
		delete(state, root)
		return state, nil
	})
	if err != nil {
		return "", err
	}
	return endpoint, nil
}

// spawn starts a daemon for root on port and waits for it to report healthy.
func (c *controller) spawn(ctx context.Context, root string, port int) (entity.DaemonRecord, error) {
	exe, err := c.executable()
	if err != nil {
		return entity.DaemonRecord{}, fmt.Errorf("locating executable: %w", err)
	}

	cmd := exec.Command(exe, _flagServer, _flagPort, strconv.Itoa(port), _flagProjectPath, root)
	cmd.Dir = root
	pid, err := c.executor.StartDetached(cmd, c.cfg.DaemonLogPath)
	if err != nil {
		return entity.DaemonRecord{}, bridgeerrors.Wrap(bridgeerrors.KindDaemonUnreachable, err, "spawning daemon for %s", root)
	}
	c.stats.Counter("spawns").Inc(1)

	started := c.clock.Now()
	endpoint := entity.LocalEndpoint(port)
	deadline := started.Add(c.cfg.StartTimeout)
	for {
		if c.healthy(ctx, endpoint) {
			c.logger.Infow("daemon started", "root", root, "port", port, "pid", pid, "elapsed", c.clock.Now().Sub(started))
			now := c.clock.Now()
			return entity.DaemonRecord{ProjectRoot: root, Port: port, PID: pid, StartedAt: started, LastSeenAt: now}, nil
		}

		var cause error
		switch {
		case !c.executor.ProcessAlive(pid):
			cause = fmt.Errorf("daemon process %d exited", pid)
		case ctx.Err() != nil:
			cause = ctx.Err()
		case !c.clock.Now().Before(deadline):
			cause = fmt.Errorf("daemon did not become healthy within %s", c.cfg.StartTimeout)
		}
		if cause != nil {
			if err := c.executor.Kill(pid); err != nil {
				c.logger.Debugw("killing failed daemon", "pid", pid, "error", err)
			}
			c.stats.Counter("spawn_failures").Inc(1)
			return entity.DaemonRecord{}, bridgeerrors.Wrap(bridgeerrors.KindDaemonUnreachable, cause, "starting daemon for %s on port %d", root, port)
		}
		c.clock.Sleep(c.cfg.PollInterval)
	}
}

func (c *controller) Evict(ctx context.Context, root string, endpoint entity.Endpoint) error {
	root = c.lookupKey(root)
	return c.store.Update(ctx, func(state registry.State) (registry.State, error) {
		if rec, ok := state[root]; ok && rec.Endpoint() == endpoint {
			c.stats.Counter("evictions").Inc(1)
			delete(state, root)
		}
		return state, nil
	})
}

func (c *controller) StopDaemon(ctx context.Context, root string) error {
	root = c.lookupKey(root)
	return c.store.Update(ctx, func(state registry.State) (registry.State, error) {
		rec, ok := state[root]
		if !ok {
			return state, nil
		}

		probeCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
		defer cancel()
		if err := c.gateway.Shutdown(probeCtx, rec.Endpoint()); err != nil {
			c.logger.Infow("daemon did not acknowledge shutdown", "root", root, "port", rec.Port, "error", err)
		}
		delete(state, root)
		return state, nil
	})
}

func (c *controller) Status(ctx context.Context, root string) (entity.DaemonStatus, bool, error) {
	root = c.lookupKey(root)
	state, err := c.store.View(ctx)
	if err != nil {
		return entity.DaemonStatus{}, false, err
	}
	rec, ok := state[root]
	if !ok {
		return entity.DaemonStatus{}, false, nil
	}
	return c.status(ctx, rec), true, nil
}

func (c *controller) List(ctx context.Context) ([]entity.DaemonStatus, error) {
	state, err := c.store.View(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]entity.DaemonStatus, 0, len(state))
	for _, root := range sortedRoots(state) {
		statuses = append(statuses, c.status(ctx, state[root]))
	}
	return statuses, nil
}

func (c *controller) Cleanup(ctx context.Context) ([]string, error) {
	var evicted []string
	err := c.store.Update(ctx, func(state registry.State) (registry.State, error) {
		evicted = nil
		for _, root := range sortedRoots(state) {
			rec := state[root]
			if c.healthy(ctx, rec.Endpoint()) || c.executor.ProcessAlive(rec.PID) {
				continue
			}
			delete(state, root)
			evicted = append(evicted, root)
		}
		return state, nil
	})
	if err != nil {
		return nil, err
	}
	if len(evicted) > 0 {
		c.logger.Infow("removed dead daemons", "roots", evicted)
		c.stats.Counter("evictions").Inc(int64(len(evicted)))
	}
	return evicted, nil
}

func (c *controller) Register(ctx context.Context, root string, port, pid int) error {
	root, err := c.canonical(root)
	if err != nil {
		return err
	}

	return c.store.Update(ctx, func(state registry.State) (registry.State, error) {
		if rec, ok := state[root]; ok && (rec.PID == pid || c.executor.ProcessAlive(rec.PID)) {
			return state, nil
		}
		now := c.clock.Now()
		state[root] = entity.DaemonRecord{ProjectRoot: root, Port: port, PID: pid, StartedAt: now, LastSeenAt: now}
		c.logger.Infow("registered daemon", "root", root, "port", port, "pid", pid)
		return state, nil
	})
}

func (c *controller) Unregister(ctx context.Context, root string, pid int) error {
	root = c.lookupKey(root)
	return c.store.Update(ctx, func(state registry.State) (registry.State, error) {
		if rec, ok := state[root]; ok && rec.PID == pid {
			delete(state, root)
		}
		return state, nil
	})
}

func (c *controller) status(ctx context.Context, rec entity.DaemonRecord) entity.DaemonStatus {
	healthy := c.healthy(ctx, rec.Endpoint())
	alive := healthy || c.executor.ProcessAlive(rec.PID)
	return mapper.DaemonRecordToStatus(rec, alive, healthy)
}

func (c *controller) healthy(ctx context.Context, endpoint entity.Endpoint) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()
	_, err := c.gateway.Health(ctx, endpoint)
	return err == nil
}

func (c *controller) canonical(root string) (string, error) {
	canonical, err := c.fs.Canonicalize(root)
	if err != nil {
		return "", bridgeerrors.Wrap(bridgeerrors.KindInvalidParams, err, "resolving project root %q", root)
	}
	return canonical, nil
}

// lookupKey canonicalizes root when it still exists, so that records of deleted projects can
// still be addressed.
func (c *controller) lookupKey(root string) string {
	if canonical, err := c.fs.Canonicalize(root); err == nil {
		return canonical
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return filepath.Clean(root)
}

func (c *controller) processConfig(cfg config.Provider) error {
	if err := cfg.Get(_configKeyRegistry).Populate(&c.cfg); err != nil {
		return fmt.Errorf("getting config field %q: %w", _configKeyRegistry, err)
	}
	if c.cfg.HealthTimeout <= 0 {
		return fmt.Errorf("missing field %q in config", _configKeyRegistry+".healthTimeout")
	}
	if c.cfg.StartTimeout <= 0 {
		return fmt.Errorf("missing field %q in config", _configKeyRegistry+".startTimeout")
	}
	if c.cfg.PollInterval <= 0 {
		return fmt.Errorf("missing field %q in config", _configKeyRegistry+".pollInterval")
	}
	return nil
}

func sortedRoots(state registry.State) []string {
	roots := make([]string, 0, len(state))
	for root := range state {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// Package registry persists the daemon records shared by every bridge process on a host.
package registry

import (
	"context"
	"fmt"

	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	"github.com/uber/lsp-bridge/src/bridge/internal/fs"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyRegistry = "registry"

	// BackendFile stores records in a flock-guarded JSON file.
	BackendFile = "file"
	// BackendSQLite stores records in a SQLite database.
	BackendSQLite = "sqlite"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// State maps canonical project roots to their daemon records.
type State map[string]entity.DaemonRecord

// Clone returns a copy of s that can be modified freely.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Store is a cross-process daemon registry.
type Store interface {
	// View returns a snapshot of the registry.
	View(ctx context.Context) (State, error)
	// Update runs fn under an exclusive cross-process lock and persists the state it returns.
	// When fn fails nothing is written and its error is returned.
	Update(ctx context.Context, fn func(State) (State, error)) error
}

// Params are inbound parameters to initialize a new Store.
type Params struct {
	fx.In

	Config    config.Provider
	Lifecycle fx.Lifecycle
	Logger    *zap.SugaredLogger
	Stats     tally.Scope
	FS        fs.BridgeFS
}

type storeConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// New creates the Store selected by registry.backend.
func New(p Params) (Store, error) {
	var cfg storeConfig
	if err := p.Config.Get(_configKeyRegistry).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyRegistry, err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("missing field %q in config", _configKeyRegistry+".path")
	}

	logger := p.Logger.With("component", "registry", "path", cfg.Path)
	stats := p.Stats.SubScope("registry")

	switch cfg.Backend {
	case "", BackendFile:
		return newFileStore(cfg.Path, p.FS, logger, stats), nil
	case BackendSQLite:
		s, err := newSQLiteStore(cfg.Path, p.FS, logger, stats)
		if err != nil {
			return nil, err
		}
		p.Lifecycle.Append(fx.StopHook(s.close))
		return s, nil
	}
	return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
}

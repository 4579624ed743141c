package serverinfofile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/uber/lsp-bridge/src/bridge/internal/fs"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyInfoFile = "daemon.infoFilePath"
	_fmtInfoFileName   = "%s-%d.json"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// ServerInfoFile manages the contents of a single per-process info file.
// Operators and tooling read it to find the port, pid and log locations of a running bridge.
type ServerInfoFile interface {
	UpdateField(key string, value string) error
	// Path returns the location of the info file.
	Path() string
}

type module struct {
	infofile     string
	logger       *zap.SugaredLogger
	fs           fs.BridgeFS
	fileContents map[string]string
	written      bool
	mu           sync.Mutex
}

// Params define values to be used by ServerInfoFile.
type Params struct {
	fx.In

	Config    config.Provider
	Lifecycle fx.Lifecycle
	Logger    *zap.SugaredLogger
	FS        fs.BridgeFS
}

// New creates a new ServerInfoFile. Nothing is written until the first UpdateField.
func New(p Params) (ServerInfoFile, error) {
	m := module{
		logger:       p.Logger,
		fs:           p.FS,
		fileContents: make(map[string]string),
	}

	if err := m.processConfig(p.Config); err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: m.OnStop,
	})

	return &m, nil
}

// OnStop removes the info file if it was ever written.
func (m *module) OnStop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.written {
		return nil
	}
	if err := m.fs.Remove(m.infofile); err != nil && !os.IsNotExist(err) {
		return err
	}
	m.written = false
	return nil
}

func (m *module) UpdateField(key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fileContents[key] = value
	jsonOutput, err := json.Marshal(m.fileContents)
	if err != nil {
		return fmt.Errorf("marshalling json: %w", err)
	}

	if err := m.fs.WriteFile(m.infofile, string(jsonOutput)); err != nil {
		return fmt.Errorf("creating info file: %w", err)
	}
	m.written = true
	m.logger.Infow("server info saved", zap.String("file", m.infofile), zap.String(key, value))
	return nil
}

func (m *module) Path() string {
	return m.infofile
}

func (m *module) processConfig(cfg config.Provider) error {
	var prefix string
	val := cfg.Get(_configKeyInfoFile)
	if err := val.Populate(&prefix); err != nil {
		// incorrectly formatted config
		return fmt.Errorf("getting config field %q: %w", _configKeyInfoFile, err)
	}

	if prefix == "" {
		// yaml is missing either the key or value
		return fmt.Errorf("missing field %q in config", _configKeyInfoFile)
	}

	m.infofile = fmt.Sprintf(_fmtInfoFileName, prefix, os.Getpid())
	return nil
}

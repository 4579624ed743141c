package app

import (
	"fmt"
	"path/filepath"

	"github.com/uber/lsp-bridge/src/bridge/internal/fs"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DecorateConfigParams is the set of dependencies required to decorate the config.Provider.
type DecorateConfigParams struct {
	fx.In

	Cfg config.Provider
	FS  fs.BridgeFS
}

// decorateConfigProvider prepares the directories the configuration points at before anything writes to them.
func decorateConfigProvider(p DecorateConfigParams) (config.Provider, error) {
	if err := ensureLogFolder(p.Cfg, p.FS); err != nil {
		return nil, fmt.Errorf("ensuring log folder: %w", err)
	}
	if err := ensureRegistryFolder(p.Cfg, p.FS); err != nil {
		return nil, fmt.Errorf("ensuring registry folder: %w", err)
	}
	return p.Cfg, nil
}

// ensureLogFolder creates the directory of every configured logging output.
func ensureLogFolder(cfg config.Provider, fs fs.BridgeFS) error {
	var c zap.Config
	if err := cfg.Get("logging").Populate(&c); err != nil {
		return fmt.Errorf("loading logging config: %w", err)
	}

	for _, outputPath := range c.OutputPaths {
		if outputPath == "stderr" {
			continue
		}
		if err := fs.MkdirAll(filepath.Dir(outputPath)); err != nil {
			return fmt.Errorf("creating logging directory: %w", err)
		}
	}
	return nil
}

func ensureRegistryFolder(cfg config.Provider, fs fs.BridgeFS) error {
	var path string
	if err := cfg.Get("registry.path").Populate(&path); err != nil {
		return fmt.Errorf("loading registry config: %w", err)
	}
	if path == "" {
		return nil
	}
	return fs.MkdirAll(filepath.Dir(path))
}

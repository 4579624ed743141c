package core

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	bridgeconfig "github.com/uber/lsp-bridge/src/bridge/config"
	uber_config "go.uber.org/config"
	"go.uber.org/fx"
)

const (
	_configDirEnv = "LSP_BRIDGE_CONFIG_DIR"
	_metaFile     = "meta.yaml"
)

// ConfigModule provides the merged configuration.
var ConfigModule = fx.Options(
	fx.Provide(NewConfig),
)

// Overrides are values layered over every configuration file, keyed by dotted path.
// The CLI fills them from its flags.
type Overrides map[string]interface{}

// Set stores value under a dotted key such as "engine.enabled".
func (o Overrides) Set(key string, value interface{}) {
	parts := strings.Split(key, ".")
	node := map[string]interface{}(o)
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			node[part] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
}

// Config wraps the merged provider.
type Config struct {
	provider uber_config.Provider
}

func (c Config) Get(path string) uber_config.Value {
	return c.provider.Get(path)
}

func (c Config) Name() string {
	return "config"
}

// ConfigParams are the inputs to NewConfig.
type ConfigParams struct {
	fx.In

	Overrides Overrides `optional:"true"`
}

// NewConfig merges the embedded defaults, the files of an optional override directory and the CLI overrides, in that order.
func NewConfig(p ConfigParams) (uber_config.Provider, error) {
	options, err := embeddedSources(bridgeconfig.Files)
	if err != nil {
		return nil, err
	}

	if configDir := os.Getenv(_configDirEnv); configDir != "" {
		dirOptions, err := directorySources(configDir)
		if err != nil {
			return nil, err
		}
		options = append(options, dirOptions...)
	}

	if len(p.Overrides) > 0 {
		options = append(options, uber_config.Static(map[string]interface{}(p.Overrides)))
	}
	options = append(options, uber_config.Expand(os.LookupEnv))

	provider, err := uber_config.NewYAML(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return Config{provider: provider}, nil
}

func embeddedSources(files fs.FS) ([]uber_config.YAMLOption, error) {
	configFiles, err := metaFiles(func(name string) ([]byte, error) { return fs.ReadFile(files, name) })
	if err != nil {
		return nil, err
	}

	var options []uber_config.YAMLOption
	for _, file := range configFiles {
		data, err := fs.ReadFile(files, file)
		if err != nil {
			// meta.yaml may list files that are only supplied by an override directory.
			continue
		}
		options = append(options, uber_config.Source(bytes.NewReader(data)))
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("no embedded configuration files found")
	}
	return options, nil
}

func directorySources(configDir string) ([]uber_config.YAMLOption, error) {
	configFiles, err := metaFiles(func(name string) ([]byte, error) {
		return os.ReadFile(filepath.Join(configDir, name))
	})
	if err != nil {
		return nil, err
	}

	var options []uber_config.YAMLOption
	for _, file := range configFiles {
		fullPath := filepath.Join(configDir, file)
		if _, err := os.Stat(fullPath); err == nil {
			options = append(options, uber_config.File(fullPath))
		}
	}

	if len(options) == 0 {
		return nil, fmt.Errorf("no configuration files found in %s", configDir)
	}
	return options, nil
}

// metaFiles returns the files listed by meta.yaml.
func metaFiles(read func(name string) ([]byte, error)) ([]string, error) {
	data, err := read(_metaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load meta configuration: %w", err)
	}

	metaProvider, err := uber_config.NewYAML(
		uber_config.Source(bytes.NewReader(data)),
		uber_config.Expand(os.LookupEnv),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load meta configuration: %w", err)
	}

	var configFiles []string
	if err := metaProvider.Get("files").Populate(&configFiles); err != nil {
		return nil, fmt.Errorf("failed to read files list from meta.yaml: %w", err)
	}
	return configFiles, nil
}

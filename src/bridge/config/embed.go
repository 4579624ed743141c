// Package config holds the default configuration files compiled into the binary.
package config

import "embed"

// Files contains meta.yaml and the files it lists.
//
//go:embed *.yaml
var Files embed.FS

// Package mode decides which topology the bridge runs in.
package mode

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/uber/lsp-bridge/src/bridge/entity"
)

// Override values accepted by --mode.
const (
	OverrideDirect = "direct"
	OverrideDaemon = "daemon"
)

// Context holds every input to the mode decision.
type Context struct {
	// ServerFlag is set by --server.
	ServerFlag bool
	// ModeOverride is the value of --mode, empty when unset.
	ModeOverride string
	// StdinIsTerminal reports whether stdin is an interactive terminal.
	StdinIsTerminal bool
	// HTTPPort is the value of --port, zero when unset.
	HTTPPort int
}

// Select returns the mode for c. It has no side effects.
func Select(c Context) entity.Mode {
	kind := entity.ModeDaemon
	switch {
	case c.ModeOverride == OverrideDirect:
		kind = entity.ModeDirect
	case c.ModeOverride == OverrideDaemon:
		kind = entity.ModeDaemon
	case c.ServerFlag, !c.StdinIsTerminal:
		kind = entity.ModeDirect
	}

	if kind == entity.ModeDaemon {
		return entity.Mode{Kind: entity.ModeDaemon}
	}
	if c.HTTPPort > 0 {
		return entity.Mode{Kind: entity.ModeDirect, Transport: entity.TransportHTTP, Port: c.HTTPPort}
	}
	return entity.Mode{Kind: entity.ModeDirect, Transport: entity.TransportStdio}
}

// ValidateOverride rejects --mode values other than direct and daemon.
func ValidateOverride(override string) error {
	switch override {
	case "", OverrideDirect, OverrideDaemon:
		return nil
	}
	return fmt.Errorf("unknown mode %q, expected %q or %q", override, OverrideDirect, OverrideDaemon)
}

// Detect builds a Context from command-line flags and the process's stdin.
func Detect(serverFlag bool, override string, port int) Context {
	fd := os.Stdin.Fd()
	return Context{
		ServerFlag:      serverFlag,
		ModeOverride:    override,
		StdinIsTerminal: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
		HTTPPort:        port,
	}
}

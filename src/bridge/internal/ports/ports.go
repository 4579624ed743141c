// Package ports finds free loopback ports for daemons.
package ports

import (
	"fmt"
	"net"
	"strconv"

	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"go.uber.org/config"
	"go.uber.org/fx"
)

const (
	_configKeyRangeStart = "registry.portRangeStart"
	_configKeyRangeEnd   = "registry.portRangeEnd"
	_loopback            = "127.0.0.1"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Allocator hands out ports from a configured range.
type Allocator interface {
	// Allocate returns the lowest port in range that is not in taken and can be bound on loopback.
	Allocate(taken map[int]bool) (int, error)
}

// Params are inbound parameters to initialize a new Allocator.
type Params struct {
	fx.In

	Config config.Provider
}

type allocator struct {
	start, end int
	// bindable is replaced in tests.
	bindable func(port int) bool
}

// New creates an Allocator over registry.portRangeStart..registry.portRangeEnd.
func New(p Params) (Allocator, error) {
	a := &allocator{bindable: Bindable}
	if err := populate(p.Config, _configKeyRangeStart, &a.start); err != nil {
		return nil, err
	}
	if err := populate(p.Config, _configKeyRangeEnd, &a.end); err != nil {
		return nil, err
	}
	if a.start < 1 || a.end > 65535 || a.start > a.end {
		return nil, fmt.Errorf("invalid port range %d-%d", a.start, a.end)
	}
	return a, nil
}

func (a *allocator) Allocate(taken map[int]bool) (int, error) {
	for port := a.start; port <= a.end; port++ {
		if taken[port] {
			continue
		}
		if a.bindable(port) {
			return port, nil
		}
	}
	return 0, bridgeerrors.New(bridgeerrors.KindPortExhausted, "no free port in %d-%d", a.start, a.end)
}

// Bindable reports whether port can currently be bound on the loopback interface.
func Bindable(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort(_loopback, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

func populate(cfg config.Provider, key string, out *int) error {
	value := cfg.Get(key)
	if !value.HasValue() {
		return fmt.Errorf("missing field %q in config", key)
	}
	if err := value.Populate(out); err != nil {
		return fmt.Errorf("getting config field %q: %w", key, err)
	}
	return nil
}

// Package entity contains the domain types of the bridge.
package entity

import (
	"fmt"

	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
)

// SessionState is the protocol state of one engine session.
type SessionState int

// Session states, in lifecycle order.
const (
	SessionUninitialized SessionState = iota
	SessionInitializing
	SessionReady
	SessionShuttingDown
	SessionTerminated
)

var _sessionStateNames = []string{"uninitialized", "initializing", "ready", "shutting_down", "terminated"}

func (s SessionState) String() string {
	if int(s) < len(_sessionStateNames) {
		return _sessionStateNames[s]
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// ReadyPolicy decides what happens to requests issued before the engine handshake completes.
type ReadyPolicy string

const (
	// ReadyPolicyQueue makes early callers wait, bounded by their own deadlines.
	ReadyPolicyQueue ReadyPolicy = "queue"
	// ReadyPolicyFailFast rejects early callers with EngineNotReady.
	ReadyPolicyFailFast ReadyPolicy = "failFast"
)

// Valid reports whether p is a known policy.
func (p ReadyPolicy) Valid() bool {
	return p == ReadyPolicyQueue || p == ReadyPolicyFailFast
}

// Command is a named tool invocation with its caller-supplied parameters.
type Command struct {
	Name       string
	Parameters map[string]interface{}
	// RequiredParameters is filled from the catalog entry for Name.
	RequiredParameters []string
}

// NewCommand returns a Command with a non-nil parameter map.
func NewCommand(name string, params map[string]interface{}) Command {
	if params == nil {
		params = make(map[string]interface{})
	}
	return Command{Name: name, Parameters: params}
}

// Param returns a parameter value. A parameter explicitly set to null is reported as absent.
func (c Command) Param(key string) (interface{}, bool) {
	v, ok := c.Parameters[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// ToolError is the failure half of a ToolResult.
type ToolError struct {
	Kind    bridgeerrors.Kind
	Code    int64
	Message string
}

// ToolResult is the uniform outcome of a command in every topology.
// Exactly one of Result and Err is meaningful; Err is nil on success.
type ToolResult struct {
	Result interface{}
	Err    *ToolError
}

// Success returns a successful ToolResult carrying v.
func Success(v interface{}) ToolResult {
	return ToolResult{Result: v}
}

// OK reports whether r is a success.
func (r ToolResult) OK() bool {
	return r.Err == nil
}

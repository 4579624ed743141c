package mapper

import (
	"errors"

	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"go.lsp.dev/jsonrpc2"
)

// Codes reported for bridge-specific failures.
const (
	CodeEngineTimeout     int64 = -32001
	CodeEngineNotReady    int64 = int64(jsonrpc2.ServerNotInitialized)
	CodeEngineCrashed     int64 = -32003
	CodeEngineShutdown    int64 = -32004
	CodeFraming           int64 = -32005
	CodeProtocol          int64 = -32006
	CodePortExhausted     int64 = -32010
	CodeDaemonUnreachable int64 = -32011
)

var _kindCodes = map[bridgeerrors.Kind]int64{
	bridgeerrors.KindInternal:          int64(jsonrpc2.InternalError),
	bridgeerrors.KindInvalidParams:     int64(jsonrpc2.InvalidParams),
	bridgeerrors.KindMethodNotFound:    int64(jsonrpc2.MethodNotFound),
	bridgeerrors.KindParseError:        int64(jsonrpc2.ParseError),
	bridgeerrors.KindEngineNotReady:    CodeEngineNotReady,
	bridgeerrors.KindEngineTimeout:     CodeEngineTimeout,
	bridgeerrors.KindEngineCrashed:     CodeEngineCrashed,
	bridgeerrors.KindEngineShutdown:    CodeEngineShutdown,
	bridgeerrors.KindFraming:           CodeFraming,
	bridgeerrors.KindProtocol:          CodeProtocol,
	bridgeerrors.KindPortExhausted:     CodePortExhausted,
	bridgeerrors.KindDaemonUnreachable: CodeDaemonUnreachable,
}

// ErrorToWire returns the JSON-RPC code and message reported for err.
// Engine errors keep the engine's own code.
func ErrorToWire(err error) (int64, string) {
	var b *bridgeerrors.BridgeError
	if !errors.As(err, &b) {
		return int64(jsonrpc2.InternalError), err.Error()
	}
	if b.Kind == bridgeerrors.KindEngineError {
		return b.Code, err.Error()
	}
	return _kindCodes[b.Kind], err.Error()
}

// ErrorToToolResult wraps err in a failed ToolResult.
func ErrorToToolResult(err error) entity.ToolResult {
	code, msg := ErrorToWire(err)
	return entity.ToolResult{Err: &entity.ToolError{
		Kind:    bridgeerrors.KindOf(err),
		Code:    code,
		Message: msg,
	}}
}

// CodeToKind recovers the Kind of a failure reported by a remote bridge.
// Unrecognised codes are taken to be engine errors passed through verbatim.
func CodeToKind(code int64) bridgeerrors.Kind {
	for kind, c := range _kindCodes {
		if c == code {
			return kind
		}
	}
	return bridgeerrors.KindEngineError
}

// ToolErrorToError converts a ToolError back into an error carrying the same Kind and code.
func ToolErrorToError(e *entity.ToolError) error {
	return &bridgeerrors.BridgeError{Kind: e.Kind, Code: e.Code, Message: e.Message}
}

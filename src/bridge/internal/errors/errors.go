package errors

import (
	stderr "errors"
	"fmt"
)

// Kind classifies a failure so that every transport can report it with a stable code.
type Kind int

// Failure kinds surfaced to callers.
const (
	KindInternal Kind = iota
	KindInvalidParams
	KindMethodNotFound
	KindParseError
	KindEngineNotReady
	KindEngineTimeout
	KindEngineCrashed
	KindEngineShutdown
	KindEngineError
	KindFraming
	KindProtocol
	KindPortExhausted
	KindDaemonUnreachable
)

var _kindNames = map[Kind]string{
	KindInternal:          "Internal",
	KindInvalidParams:     "InvalidParams",
	KindMethodNotFound:    "MethodNotFound",
	KindParseError:        "ParseError",
	KindEngineNotReady:    "EngineNotReady",
	KindEngineTimeout:     "EngineTimeout",
	KindEngineCrashed:     "EngineCrashed",
	KindEngineShutdown:    "EngineShutdown",
	KindEngineError:       "EngineError",
	KindFraming:           "FramingError",
	KindProtocol:          "ProtocolError",
	KindPortExhausted:     "PortExhausted",
	KindDaemonUnreachable: "DaemonUnreachable",
}

func (k Kind) String() string {
	if name, ok := _kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind returns the Kind with the given name, falling back to KindInternal.
func ParseKind(name string) Kind {
	for k, n := range _kindNames {
		if n == name {
			return k
		}
	}
	return KindInternal
}

// BridgeError is a failure with a stable Kind.
type BridgeError struct {
	Kind    Kind
	Message string
	// Code carries the engine's own error code for KindEngineError.
	Code  int64
	Cause error
}

// Error is an implementation of the error interface.
func (e *BridgeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// Is reports a match for any *BridgeError of the same Kind, so the sentinels below work with errors.Is.
func (e *BridgeError) Is(target error) bool {
	t, ok := target.(*BridgeError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns a BridgeError of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &BridgeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a BridgeError of the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	return &BridgeError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of the first BridgeError in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var b *BridgeError
	if stderr.As(err, &b) {
		return b.Kind
	}
	return KindInternal
}

// As is errors.As, re-exported so callers do not need both packages.
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is is errors.Is, re-exported so callers do not need both packages.
func Is(err, target error) bool {
	return stderr.Is(err, target)
}

var (
	// ErrInvalidParams reports a command whose parameters are missing or malformed.
	ErrInvalidParams = &BridgeError{Kind: KindInvalidParams, Message: "invalid params"}
	// ErrMethodNotFound reports a command name that is not in the catalog.
	ErrMethodNotFound = &BridgeError{Kind: KindMethodNotFound, Message: "method not found"}
	// ErrEngineNotReady reports a request issued before the engine finished its handshake.
	ErrEngineNotReady = &BridgeError{Kind: KindEngineNotReady, Message: "engine not ready"}
	// ErrEngineTimeout reports a request that did not complete in time.
	ErrEngineTimeout = &BridgeError{Kind: KindEngineTimeout, Message: "engine request timed out"}
	// ErrEngineCrashed reports that the engine process exited while the request was outstanding.
	ErrEngineCrashed = &BridgeError{Kind: KindEngineCrashed, Message: "engine crashed"}
	// ErrEngineShutdown reports that the engine was stopped while the request was outstanding.
	ErrEngineShutdown = &BridgeError{Kind: KindEngineShutdown, Message: "engine shut down"}
	// ErrFraming reports an engine stream that does not carry well-formed headers.
	ErrFraming = &BridgeError{Kind: KindFraming, Message: "framing error"}
	// ErrProtocol reports an engine message that violates the protocol.
	ErrProtocol = &BridgeError{Kind: KindProtocol, Message: "protocol error"}
	// ErrPortExhausted reports that no port in the configured window is free.
	ErrPortExhausted = &BridgeError{Kind: KindPortExhausted, Message: "no free port"}
	// ErrDaemonUnreachable reports a daemon that could not be started or reached.
	ErrDaemonUnreachable = &BridgeError{Kind: KindDaemonUnreachable, Message: "daemon unreachable"}
)

// IsCallerError reports whether the error was caused by the caller's input rather than the engine or daemon.
func IsCallerError(e error) bool {
	switch KindOf(e) {
	case KindInvalidParams, KindMethodNotFound, KindParseError:
		return true
	}
	return false
}

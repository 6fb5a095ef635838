// Package errkind defines the error kinds the gateway core surfaces (spec
// §7) as comparable sentinel values, plus a small wrapper that carries a
// kind, a human message and optional structured data so call sites can use
// errors.Is/errors.As instead of string matching. Transport packages are the
// only place that ever maps a Kind onto a JSON-RPC error code; everything
// else just returns or wraps a *GatewayError.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is a comparable error category name, stable across releases.
type Kind string

// Validation kinds.
const (
	BadRequest         Kind = "bad_request"
	BadSession         Kind = "bad_session"
	MessageTooLarge    Kind = "message_too_large"
	MethodNotAllowed   Kind = "method_not_allowed"
	DNSRebindingBlocked Kind = "dns_rebinding_blocked"
)

// Session kinds.
const (
	SessionNotFound  Kind = "session_not_found"
	SessionExpired   Kind = "session_expired"
	CapacityExceeded Kind = "capacity_exceeded"
	RotationLost     Kind = "rotation_lost"
)

// Namespace kinds.
const (
	Excluded    Kind = "excluded"
	Skipped     Kind = "skipped"
	Conflict    Kind = "conflict"
	NameInvalid Kind = "name_invalid"
	NameTooLong Kind = "name_too_long"
)

// Upstream kinds. UpstreamHTTPStatus is formatted per-status via
// UpstreamHTTPStatusKind.
const (
	UpstreamTimeout       Kind = "upstream_timeout"
	UpstreamProtocolError Kind = "upstream_protocol_error"
	UpstreamAuth          Kind = "upstream_auth"
)

// UpstreamHTTPStatusKind formats the upstream_http_<status> family.
func UpstreamHTTPStatusKind(status int) Kind {
	return Kind(fmt.Sprintf("upstream_http_%d", status))
}

// Plugin kinds.
const (
	ManifestInvalid        Kind = "manifest_invalid"
	CapabilityUnavailable  Kind = "capability_unavailable"
	EntryLoadFailed        Kind = "entry_load_failed"
	PluginRuntime          Kind = "plugin_runtime"
)

// Subprocess kinds.
const (
	SpawnFailed          Kind = "spawn_failed"
	ExitedUnexpected     Kind = "exited_unexpected"
	RestartLimitReached  Kind = "restart_limit_reached"
)

// Transport kinds.
const (
	QueueSizeLimitExceeded Kind = "queue_size_limit_exceeded"
	StreamWriteFailed      Kind = "stream_write_failed"
	ClientDisconnected     Kind = "client_disconnected"
)

// GatewayError is the structured error value carried across package
// boundaries. Data is optional context surfaced to clients (e.g. the
// offending capability name).
type GatewayError struct {
	Kind    Kind
	Message string
	Data    any
	cause   error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *GatewayError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a *GatewayError with the same Kind, so
// errors.Is(err, errkind.New(errkind.SessionNotFound, "")) works regardless
// of message or cause.
func (e *GatewayError) Is(target error) bool {
	var other *GatewayError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs a *GatewayError with no wrapped cause.
func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

// Wrap constructs a *GatewayError wrapping cause.
func Wrap(kind Kind, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, cause: cause}
}

// WithData attaches structured data and returns the receiver for chaining.
func (e *GatewayError) WithData(data any) *GatewayError {
	e.Data = data
	return e
}

// Of returns the Kind carried by err if it (or something it wraps) is a
// *GatewayError, and ok=false otherwise.
func Of(err error) (Kind, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

// Package apierr defines the typed error kinds the core surfaces (§7),
// generalizing the teacher's manager/errors.go single-purpose sentinel
// errors (modelNotFoundError, tooBusyError) into the full set this
// specification names, plus the HTTP status each maps to.
package apierr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories the core can report.
type Kind string

const (
	UnknownModel     Kind = "UNKNOWN_MODEL"
	GroupNotFound    Kind = "GROUP_NOT_FOUND"
	SpawnFailed      Kind = "SPAWN_FAILED"
	HealthTimeout    Kind = "HEALTH_TIMEOUT"
	UnexpectedExit   Kind = "UNEXPECTED_EXIT"
	ProxyUpstream    Kind = "PROXY_UPSTREAM_ERROR"
	ShuttingDown     Kind = "SHUTTING_DOWN"
)

// Error is a typed core error. Callers should not construct Error
// directly; use the New* constructors below so the Kind/message pairing
// stays consistent.
type Error struct {
	Kind    Kind
	Model   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Model)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// StatusCode maps a Kind to the HTTP status the endpoint layer returns,
// per §7's table.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case UnknownModel:
		return 400
	case ProxyUpstream:
		return 502
	case ShuttingDown, SpawnFailed:
		return 503
	case HealthTimeout:
		return 504
	case GroupNotFound:
		return 500
	case UnexpectedExit:
		return 500
	default:
		return 500
	}
}

func newErr(k Kind, model, msg string, cause error) *Error {
	return &Error{Kind: k, Model: model, Message: msg, Cause: cause}
}

func NewUnknownModel(name string) error {
	return newErr(UnknownModel, name, "model does not resolve to any configured id or alias", nil)
}

func NewGroupNotFound(modelID string) error {
	return newErr(GroupNotFound, modelID, "resolved model id has no owning group", nil)
}

func NewSpawnFailed(modelID string, cause error) error {
	return newErr(SpawnFailed, modelID, "child process could not be created", cause)
}

func NewHealthTimeout(modelID string) error {
	return newErr(HealthTimeout, modelID, "health check did not pass within budget", nil)
}

func NewUnexpectedExit(modelID string, cause error) error {
	return newErr(UnexpectedExit, modelID, "child exited during startup or while ready", cause)
}

func NewProxyUpstream(modelID string, cause error) error {
	return newErr(ProxyUpstream, modelID, "upstream connection failed mid-request", cause)
}

func NewShuttingDown() error {
	return newErr(ShuttingDown, "", "swap invoked after shutdown began", nil)
}

// KindOf extracts the Kind from err, if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}

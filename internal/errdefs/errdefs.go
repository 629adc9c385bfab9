// Package errdefs defines the stable error kinds shared by adapters, engines
// and the worker. Callers test kinds with the Is* helpers; wrapping with %w is
// preserved.
package errdefs

import (
	"errors"
	"fmt"
)

// configError: unknown provider, missing field, conflicting flags.
type configError struct{ msg string }

func (e configError) Error() string { return "config error: " + e.msg }

// Configf constructs a configuration error.
func Configf(format string, args ...any) error {
	return configError{msg: fmt.Sprintf(format, args...)}
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	var target configError
	return errors.As(err, &target)
}

// loadError wraps failures acquiring engine resources.
type loadError struct {
	model string
	err   error
}

func (e loadError) Error() string { return fmt.Sprintf("load %s: %v", e.model, e.err) }
func (e loadError) Unwrap() error { return e.err }

// Load marks err as a load failure for model.
func Load(model string, err error) error {
	if err == nil {
		return nil
	}
	return loadError{model: model, err: err}
}

// IsLoad reports whether err is a load error.
func IsLoad(err error) bool {
	var target loadError
	return errors.As(err, &target)
}

// protocolError: message shape rejected before any token is produced.
type protocolError struct{ msg string }

func (e protocolError) Error() string { return e.msg }

// Protocolf constructs a protocol error. The message is used verbatim.
func Protocolf(format string, args ...any) error {
	return protocolError{msg: fmt.Sprintf(format, args...)}
}

// IsProtocol reports whether err is a protocol error.
func IsProtocol(err error) bool {
	var target protocolError
	return errors.As(err, &target)
}

// authError: missing credentials or a rejected token exchange. It is not a
// config error, so streams surface it as a terminal output.
type authError struct{ msg string }

func (e authError) Error() string { return "auth error: " + e.msg }

// Authf constructs an auth error.
func Authf(format string, args ...any) error {
	return authError{msg: fmt.Sprintf(format, args...)}
}

// IsAuth reports whether err is an auth error.
func IsAuth(err error) bool {
	var target authError
	return errors.As(err, &target)
}

// dependencyUnavailableError signals a missing external dependency (engine
// binary, build tag, python package) so the HTTP layer can return 503.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// DependencyUnavailable constructs a dependencyUnavailableError.
func DependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var target dependencyUnavailableError
	return errors.As(err, &target)
}

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ModelNotFound returns an error for a deployment name that is not configured.
func ModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var target modelNotFoundError
	return errors.As(err, &target)
}

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ model string }

func (e tooBusyError) Error() string { return "too busy: " + e.model }

// TooBusy constructs a backpressure error for model.
func TooBusy(model string) error { return tooBusyError{model: model} }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var target tooBusyError
	return errors.As(err, &target)
}

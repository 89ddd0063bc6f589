package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error taxonomy exposed to dashboard clients
var (
	// ErrNotFound - a container, image, volume or network reference did not resolve
	ErrNotFound = errors.New("not found")

	// ErrInvalidPath - a filesystem helper or exec exited non-zero for the requested path
	ErrInvalidPath = errors.New("invalid path")

	// ErrTerminalNotFound - the container image has no usable shell
	ErrTerminalNotFound = errors.New("terminal not found")

	// ErrEngineCallFailed - the engine rejected or failed a call; message is passed through
	ErrEngineCallFailed = errors.New("engine call failed")

	// ErrCancelled - the caller went away or the session was closed
	ErrCancelled = errors.New("cancelled")

	// ErrPermissionDenied - the authorization gate refused the subject
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidInput - malformed request parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthenticated - missing, expired or badly signed token
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Resource names the kind of engine object a NotFound refers to.
type Resource string

const (
	ResourceContainer Resource = "container"
	ResourceImage     Resource = "image"
	ResourceVolume    Resource = "volume"
	ResourceNetwork   Resource = "network"
)

// Error is a structured failure carrying a machine-stable kind, a human message and,
// where applicable, the offending identifier.
type Error struct {
	Kind     error
	Resource Resource
	ID       string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NotFound builds a NotFound error for the given resource, e.g. "container not found".
func NotFound(resource Resource, id string) *Error {
	return &Error{
		Kind:     ErrNotFound,
		Resource: resource,
		ID:       id,
		Message:  fmt.Sprintf("%s not found", resource),
	}
}

// InvalidPath wraps err as invalid path for path.
func InvalidPath(path string, err error) *Error {
	return &Error{
		Kind:    ErrInvalidPath,
		ID:      path,
		Message: "invalid path",
		Err:     err,
	}
}

// TerminalNotFound reports that container id has no usable shell.
func TerminalNotFound(id string) *Error {
	return &Error{
		Kind:     ErrTerminalNotFound,
		Resource: ResourceContainer,
		ID:       id,
		Message:  "terminal not found",
	}
}

// EngineCallFailed wraps a vendor error with a short description of the call.
func EngineCallFailed(message string, err error) *Error {
	return &Error{
		Kind:    ErrEngineCallFailed,
		Message: message,
		Err:     err,
	}
}

// Cancelled wraps err as cancelled
func Cancelled(err error) *Error {
	return &Error{
		Kind:    ErrCancelled,
		Message: "cancelled",
		Err:     err,
	}
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// PermissionDenied wraps error as permission denied
func PermissionDenied(message string) error {
	return fmt.Errorf("%s: %w", message, ErrPermissionDenied)
}

// Unauthenticated wraps error as unauthenticated
func Unauthenticated(message string) error {
	return fmt.Errorf("%s: %w", message, ErrUnauthenticated)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// As is errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

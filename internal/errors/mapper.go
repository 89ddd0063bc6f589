package errors

import (
	"context"
	"errors"
	"net/http"
)

// FromEngine maps an engine error onto the taxonomy. Engine "not found" responses become
// NotFound for resource/id, context errors become Cancelled, anything else is wrapped as
// EngineCallFailed. Errors already in the taxonomy are returned unchanged.
func FromEngine(err error, resource Resource, id string) error {
	if err == nil {
		return nil
	}

	if _, ok := As(err); ok {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled(err)
	}

	if errors.Is(err, ErrNotFound) {
		return NotFound(resource, id)
	}

	return EngineCallFailed("engine call failed", err)
}

// Category returns the machine-stable kind of err.
func Category(err error) string {
	if err == nil {
		return ""
	}

	err = kindOf(err)
	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrInvalidPath):
		return "InvalidPath"
	case errors.Is(err, ErrTerminalNotFound):
		return "TerminalNotFound"
	case errors.Is(err, ErrEngineCallFailed):
		return "EngineCallFailed"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	case errors.Is(err, ErrPermissionDenied):
		return "PermissionDenied"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrUnauthenticated):
		return "Unauthenticated"
	default:
		return "Unknown"
	}
}

// HTTPStatus returns the response status for err.
func HTTPStatus(err error) int {
	err = kindOf(err)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTerminalNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidPath), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrCancelled):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrEngineCallFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// kindOf prefers the outermost structured kind, so an InvalidPath caused by an
// engine miss is not reported as NotFound.
func kindOf(err error) error {
	if e, ok := As(err); ok && e.Kind != nil {
		return e.Kind
	}
	return err
}

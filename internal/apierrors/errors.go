// Package apierrors defines the error taxonomy shared across the threat
// analysis pipeline: sentinel errors for comparison with errors.Is, and a
// wrapping Error type that carries the operation, kind, and entity id.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Compare with errors.Is, never with ==, since handlers
// and tests receive these wrapped in an *Error.
var (
	ErrInvalidSignal      = errors.New("invalid signal")
	ErrContextUnavailable = errors.New("context unavailable")
	ErrAnalystFailure     = errors.New("analyst failure")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrTimeout            = errors.New("operation timeout")
	ErrInternal           = errors.New("internal error")
	ErrNotFound           = errors.New("record not found")
)

// Error wraps a sentinel with the operation and entity that failed, the
// way core.FrameworkError does in the teacher codebase.
type Error struct {
	Op      string // e.g. "coordinator.Analyze"
	Kind    string // e.g. "timeout"
	ID      string // signal or record id, if known
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds an *Error around one of the sentinels above.
func Wrap(op, kind, id string, err error) *Error {
	return &Error{Op: op, Kind: kind, ID: id, Err: err}
}

// HTTPStatus maps a returned error to the response code table: 422 for a
// malformed signal, 504 for a deadline exceeded, 503 for an unavailable
// dependency or failed persistence, 404 for a missing record, 500 otherwise.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidSignal):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrContextUnavailable), errors.Is(err, ErrPersistenceFailure):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

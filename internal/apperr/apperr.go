package apperr

import (
	"context"
	"errors"
	"net/http"
)

// Kinds. Compare with errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error carries a kind, a client-facing message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func Validation(msg string) error { return &Error{Kind: ErrValidation, Message: msg} }
func Forbidden(msg string) error  { return &Error{Kind: ErrForbidden, Message: msg} }
func NotFound(msg string) error   { return &Error{Kind: ErrNotFound, Message: msg} }

// StoreUnavailable wraps a storage failure. The cause is kept for logs only.
func StoreUnavailable(err error) error {
	return &Error{Kind: ErrStoreUnavailable, Message: "store unavailable", Err: err}
}

// FromContext turns a context deadline or cancellation into StoreUnavailable.
// Other errors are returned unchanged.
func FromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StoreUnavailable(err)
	}
	return err
}

// Status maps an error to its HTTP status code.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return ErrStoreUnavailable.Error()
	}
	return "internal error"
}

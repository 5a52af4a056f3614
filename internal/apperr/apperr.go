// Package apperr defines the error taxonomy shared by the HTTP layer and the
// realtime core: validation, not-found, conflict, unauthorized, forbidden and
// transient store failures, each with a fixed HTTP status mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
	KindStore
)

// Error carries a user-facing message and an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validationf(format string, v ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, v...)}
}

func NotFoundf(format string, v ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, v...)}
}

func Conflictf(format string, v ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, v...)}
}

func Unauthorizedf(format string, v ...any) error {
	return &Error{Kind: KindUnauthorized, Msg: fmt.Sprintf(format, v...)}
}

func Forbiddenf(format string, v ...any) error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, v...)}
}

// Store wraps a persistence failure. Safe for the client to retry.
func Store(err error, msg string) error {
	return &Error{Kind: KindStore, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to its HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		// KindStore and unclassified errors are internal failures.
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing message for err. Causes wrapped inside an
// *Error are never exposed to clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal server error"
}

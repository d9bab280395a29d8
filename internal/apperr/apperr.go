// Package apperr defines the request-level error taxonomy shared by the
// service and HTTP layers. Every error carries a stable machine code and a
// human message; the server maps kinds onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindBadRequest Kind = iota + 1
	KindUnauthorized
	KindNotFound
	KindConflict
	KindRateLimited
	KindUpstream
	KindInternal
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

func BadRequest(code, message string) error {
	return &Error{Kind: KindBadRequest, Code: code, Message: message}
}

func Unauthorized(code, message string) error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: message}
}

func NotFound(code, message string) error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func RateLimited(message string) error {
	return &Error{Kind: KindRateLimited, Code: "RATE_LIMIT_EXCEEDED", Message: message}
}

// VersionConflict reports an optimistic-lock mismatch on the external
// qa-memory patch path.
func VersionConflict(expected, actual int64) error {
	return &Error{
		Kind:    KindConflict,
		Code:    "VERSION_CONFLICT",
		Message: fmt.Sprintf("version conflict: expected %d, actual %d", expected, actual),
	}
}

func Upstream(code, message string, err error) error {
	return &Error{Kind: KindUpstream, Code: code, Message: message, err: err}
}

// KindOf returns the kind of err, or KindInternal for anything outside
// the taxonomy.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error onto the status code the API contract promises.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the machine code of err, or INTERNAL_ERROR.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "INTERNAL_ERROR"
}

// MessageOf returns the user-facing message of err. Unexpected errors are
// masked so internals never leak through the API.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "An unexpected error occurred"
}

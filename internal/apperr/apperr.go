// Package apperr defines the error taxonomy shared by services and handlers.
// Services return *Error values; handlers translate them into an HTTP status
// and a {"error": message} body through Status.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an application error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuth
	KindAuthorization
	KindNotFound
	KindUpstream
)

// Error carries a client-facing message plus the wrapped cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) *Error    { return &Error{Kind: KindValidation, Message: msg} }
func Conflict(msg string) *Error      { return &Error{Kind: KindConflict, Message: msg} }
func Auth(msg string) *Error          { return &Error{Kind: KindAuth, Message: msg} }
func Authorization(msg string) *Error { return &Error{Kind: KindAuthorization, Message: msg} }
func NotFound(msg string) *Error      { return &Error{Kind: KindNotFound, Message: msg} }

// Upstream wraps a failure of object storage, the inference service or the
// LLM.  The upstream message is passed through to the client.
func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: msg, Err: err}
}

// Internal wraps an unexpected failure such as a database error.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf reports the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error of kind k.
func Is(err error, k Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == k
}

// Status maps err to an HTTP status code and the message to show the client.
func Status(err error) (int, string) {
	var ae *Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError, "Internal server error"
	}
	switch ae.Kind {
	case KindValidation, KindConflict:
		return http.StatusBadRequest, ae.Message
	case KindAuth:
		return http.StatusUnauthorized, ae.Message
	case KindAuthorization:
		return http.StatusForbidden, ae.Message
	case KindNotFound:
		return http.StatusNotFound, ae.Message
	case KindUpstream:
		if ae.Err != nil {
			return http.StatusInternalServerError, ae.Message + ": " + ae.Err.Error()
		}
		return http.StatusInternalServerError, ae.Message
	default:
		return http.StatusInternalServerError, ae.Message
	}
}

package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindRateLimited
	KindUpstreamTransient
	KindUpstreamRejected
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstreamTransient:
		return "upstream_transient"
	case KindUpstreamRejected:
		return "upstream_rejected"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is the application error carried across package boundaries.
// Code is the machine readable value returned to API callers ("price_mismatch", "invalid_signature").
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// HTTPStatus overrides the default status of Kind when non-zero.
	HTTPStatus int
	// Details is merged into the JSON error body (for example "detected" on mismatches).
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg = e.Code + ": " + e.Message
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status for this error.
func (e *Error) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamTransient:
		return http.StatusServiceUnavailable
	case KindUpstreamRejected, KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WithStatus returns a copy with an explicit HTTP status.
func (e *Error) WithStatus(status int) *Error {
	cp := *e
	cp.HTTPStatus = status
	return &cp
}

// WithDetail returns a copy carrying an extra response field.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newError(kind Kind, code, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(code, format string, args ...any) *Error {
	return newError(KindValidation, code, format, args...)
}

func Auth(code, format string, args ...any) *Error {
	return newError(KindAuth, code, format, args...)
}

func RateLimited(code, format string, args ...any) *Error {
	return newError(KindRateLimited, code, format, args...)
}

func UpstreamTransient(code string, err error) *Error {
	return &Error{Kind: KindUpstreamTransient, Code: code, Err: err}
}

func UpstreamRejected(code, format string, args ...any) *Error {
	return newError(KindUpstreamRejected, code, format, args...)
}

func Conflict(code, format string, args ...any) *Error {
	return newError(KindConflict, code, format, args...)
}

func Internal(code string, err error) *Error {
	return &Error{Kind: KindInternal, Code: code, Err: err}
}

// Wrap attaches an underlying cause to an application error.
func Wrap(e *Error, err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the Kind of err, KindInternal when unclassified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// StatusOf maps any error to an HTTP status.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}

// CodeOf returns the public error code for err; unclassified errors become "internal_error".
func CodeOf(err error) string {
	if e, ok := As(err); ok && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}

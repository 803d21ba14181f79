// Package apperr defines the error taxonomy used across the orchestrator:
// a small set of sentinel kinds checked with errors.As.
package apperr

import "fmt"

// Kind classifies an error for HTTP-status mapping and retry policy.
type Kind string

const (
	// KindValidation: bad input shape, unknown domain. 400-class, user-visible.
	KindValidation Kind = "validation"
	// KindPolicy: disallowed tool, disallowed table, egress denied. 403-class.
	KindPolicy Kind = "policy"
	// KindUpstream: tool timeout, network error, SQL guard violation. Non-fatal.
	KindUpstream Kind = "upstream"
	// KindResource: DB locked beyond retry, embedding backend unreachable.
	KindResource Kind = "resource"
	// KindFatal: unhandled orchestrator bug. Maps to a terminal error event.
	KindFatal Kind = "fatal"
)

// Error wraps an underlying error with a Kind and whether the caller should
// retry once with bounded backoff before reporting and degrading.
type Error struct {
	Kind      Kind
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, retryable bool, format string, args ...any) *Error {
	return &Error{Kind: kind, Retryable: retryable, Err: fmt.Errorf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, false, format, args...)
}

func Policy(format string, args ...any) *Error {
	return New(KindPolicy, false, format, args...)
}

func Upstream(err error) *Error {
	return &Error{Kind: KindUpstream, Err: err, Retryable: true}
}

func Resource(err error) *Error {
	return &Error{Kind: KindResource, Err: err, Retryable: true}
}

func Fatal(err error) *Error {
	return &Error{Kind: KindFatal, Err: err, Retryable: false}
}

// HTTPStatus maps a Kind to its response status class.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return 400
	case KindPolicy:
		return 403
	case KindResource:
		return 503
	case KindFatal:
		return 500
	default:
		return 500
	}
}

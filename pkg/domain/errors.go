package domain

import "errors"

var (
	// ErrNotFound covers missing tests, jobs and runs, including ones owned by another user.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a malformed request or directive.
	ErrValidation = errors.New("validation failed")

	// ErrUpstream indicates the form sink or LLM provider failed or timed out.
	ErrUpstream = errors.New("upstream failure")

	// ErrRetryExhausted indicates the LLM solver hit its retry limit.
	ErrRetryExhausted = errors.New("maximum retries exceeded")

	// ErrInternal covers persistence failures and unexpected panics.
	ErrInternal = errors.New("internal error")
)

type ErrorKind string

const (
	KindNone           ErrorKind = ""
	KindNotFound       ErrorKind = "not_found"
	KindValidation     ErrorKind = "validation"
	KindUpstream       ErrorKind = "upstream"
	KindRetryExhausted ErrorKind = "retry_exhausted"
	KindInternal       ErrorKind = "internal"
)

// KindOf classifies err; unclassified errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrRetryExhausted):
		return KindRetryExhausted
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	default:
		return KindInternal
	}
}

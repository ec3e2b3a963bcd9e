// Package querykit is a client-side data-access core for REST backends that
// speak a uniform response envelope: a JSON transport, an authenticated
// transport with single-flight token refresh, a generic query cache engine
// with stale-while-revalidate semantics, an infinite (paginated) query
// engine, and a mutation engine with an ordered side-effect pipeline.
package querykit

import (
	"fmt"
	"net/http"
	"strings"

	"querykit/common"
)

// DefaultErrorStatusCode is used when a request fails before an HTTP status
// is available (network error, unreadable response).
const DefaultErrorStatusCode = http.StatusBadGateway

// Response is the uniform envelope every backend endpoint returns.
// Success true implies StatusCode in the 2xx range and Data set per the
// endpoint contract; false implies Message or Errors non-empty.
// A Response is never mutated after construction.
type Response[T any] struct {
	Success    bool     `json:"isSuccess"`
	StatusCode int      `json:"statusCode"`
	Data       *T       `json:"data,omitempty"`
	Message    string   `json:"message"`
	Errors     []string `json:"errors"`
}

// Ok builds a success envelope around data.
func Ok[T any](statusCode int, data *T) Response[T] {
	return Response[T]{
		Success:    true,
		StatusCode: statusCode,
		Data:       data,
		Errors:     []string{},
	}
}

// Failure builds a failure envelope with a message and optional error details.
func Failure[T any](statusCode int, message string, errs ...string) Response[T] {
	if statusCode == 0 {
		statusCode = DefaultErrorStatusCode
	}
	if errs == nil {
		errs = []string{}
	}
	return Response[T]{
		Success:    false,
		StatusCode: statusCode,
		Message:    message,
		Errors:     errs,
	}
}

// Err converts a failure envelope into an error carrying the envelope's
// status, message and error list. Returns nil for success envelopes.
func (r Response[T]) Err() error {
	if r.Success {
		return nil
	}
	return &EnvelopeError{
		StatusCode: r.StatusCode,
		Message:    r.Message,
		Details:    r.Errors,
		cause:      sessionCause(r.Message),
	}
}

// sessionCause maps the fixed session failure messages to their sentinel
// errors, so callers can branch with errors.Is instead of string matching.
func sessionCause(message string) error {
	switch message {
	case MsgNoSession:
		return common.ErrNoSession
	case MsgSessionExpired:
		return common.ErrSessionExpired
	case MsgRefreshFailed:
		return common.ErrRefreshFailed
	default:
		return nil
	}
}

// EnvelopeError is the error form of a failure envelope. The mutation engine
// surfaces non-success results as this type so that success/failure is
// observable uniformly as value/error at the call site.
type EnvelopeError struct {
	StatusCode int
	Message    string
	Details    []string

	cause error
}

func (e *EnvelopeError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("querykit: request failed (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("querykit: request failed (%d): %s [%s]", e.StatusCode, e.Message, strings.Join(e.Details, "; "))
}

// Unwrap exposes the session sentinel behind the fixed auth failure
// messages, when one applies.
func (e *EnvelopeError) Unwrap() error {
	return e.cause
}

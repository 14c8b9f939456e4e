// Package apierr is the structured error taxonomy shared by every service
// layer. Errors carry an HTTP status and a correlation id so handlers can
// serialize a consistent body without re-deriving status codes from err
// strings.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an Error for HTTP status mapping and logging.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden      Kind = "forbidden"
	KindNotFound       Kind = "not_found"
	KindQuotaExhausted Kind = "quota_exhausted"
	KindUpstream       Kind = "upstream"
	KindInternal       Kind = "internal"
	KindDegraded       Kind = "degraded"
)

// Status returns the HTTP status code conventionally associated with k.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindQuotaExhausted:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	case KindDegraded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the structured error type every service-layer function returns
// for expected failure modes. Use errors.As to recover one from a wrapped
// chain.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string

	// ResetAt is set for KindQuotaExhausted so the caller can surface when
	// the bucket refills.
	ResetAt time.Time

	// FallbackAttempted records, for KindUpstream, whether a fallback
	// provider was already tried before this error was returned.
	FallbackAttempted bool

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Message: msg, Err: err}
}

func Validation(msg string, err error) *Error      { return newErr(KindValidation, msg, err) }
func Unauthenticated(msg string, err error) *Error { return newErr(KindUnauthenticated, msg, err) }
func Forbidden(msg string, err error) *Error       { return newErr(KindForbidden, msg, err) }
func NotFound(msg string, err error) *Error        { return newErr(KindNotFound, msg, err) }
func Internal(msg string, err error) *Error        { return newErr(KindInternal, msg, err) }
func Degraded(msg string, err error) *Error        { return newErr(KindDegraded, msg, err) }

// Upstream wraps a provider/vector/storage failure. fallbackAttempted
// records whether a fallback provider was already tried.
func Upstream(msg string, err error, fallbackAttempted bool) *Error {
	e := newErr(KindUpstream, msg, err)
	e.FallbackAttempted = fallbackAttempted
	return e
}

// QuotaExhausted builds a 429 carrying the bucket's reset time.
func QuotaExhausted(resetAt time.Time) *Error {
	return &Error{Kind: KindQuotaExhausted, Message: "quota exhausted", ResetAt: resetAt}
}

// WithCorrelationID returns a copy of e carrying id, for handlers to attach
// the request's correlation id before serializing.
func (e *Error) WithCorrelationID(id string) *Error {
	cp := *e
	cp.CorrelationID = id
	return &cp
}

// As extracts an *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusFor returns the HTTP status for err, defaulting to 500 for errors
// that never went through this package.
func StatusFor(err error) int {
	if e, ok := As(err); ok {
		return e.Kind.Status()
	}
	return http.StatusInternalServerError
}

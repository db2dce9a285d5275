// Package apperr defines the error taxonomy shared by the dispatch core.
// Every error carries a stable machine-readable code and a message that is
// safe to show to callers; the wrapped cause is kept for logs only.
package apperr

import (
	"errors"
	"fmt"
	"time"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

// Kind is the stable machine-readable error code.
type Kind string

const (
	KindInvalidSession      Kind = "invalid_session"
	KindUnauthorized        Kind = "unauthorized"
	KindNotFound            Kind = "not_found"
	KindValidation          Kind = "validation_error"
	KindRateLimited         Kind = "rate_limited"
	KindComputationMismatch Kind = "computation_mismatch"
	KindStoreUnavailable    Kind = "store_unavailable"
	KindInternal            Kind = "internal"
)

// Sentinels for errors.Is matching on kind.
var (
	ErrInvalidSession      = &Error{Kind: KindInvalidSession, Message: "invalid session"}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrValidation          = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrRateLimited         = &Error{Kind: KindRateLimited, Message: "rate limit exceeded"}
	ErrComputationMismatch = &Error{Kind: KindComputationMismatch, Message: "payout mismatch"}
	ErrStoreUnavailable    = &Error{Kind: KindStoreUnavailable, Message: "record store unavailable"}
)

type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set on rate limited errors.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so callers can match against the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func InvalidSession(format string, args ...any) *Error {
	return New(KindInvalidSession, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: "rate limit exceeded", RetryAfter: retryAfter}
}

func StoreUnavailable(err error, op string) *Error {
	return Wrap(KindStoreUnavailable, err, "record store %s failed", op)
}

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As extracts the *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// FromStore classifies a record store error: a missing record becomes
// not_found for what, anything else store_unavailable.
func FromStore(err error, op, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return NotFound("%s not found", what)
	}
	return StoreUnavailable(err, op)
}

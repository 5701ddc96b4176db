package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/romcoding/architex/internal/resilience"
	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

// Kind is the stable category of a failed operation.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindNotFound       Kind = "NOT_FOUND"
	KindAuthentication Kind = "AUTHENTICATION"
	KindAuthorization  Kind = "AUTHORIZATION"
	KindConflict       Kind = "CONFLICT"
	KindTimeout        Kind = "TIMEOUT"
	KindInternal       Kind = "INTERNAL"
)

// Error is the only error type returned by Service. Message is safe to show
// to callers; the wrapped cause is for logs only.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
	}
	return false
}

// Kind sentinels for errors.Is.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrInternal       = &Error{Kind: KindInternal}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, KindInternal for foreign errors and ""
// for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	return KindOf(err) == KindTimeout
}

// classify maps a storage or validation failure to a façade Error. The
// boolean reports whether the error is internal and should be logged.
func classify(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, false
	}

	var ve *types.ValidationError
	switch {
	case errors.As(err, &ve):
		return &Error{Kind: KindValidation, Message: ve.Error(), err: err}, false
	case errors.Is(err, storage.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: "asset not found", err: err}, false
	case errors.Is(err, storage.ErrCycle):
		return &Error{Kind: KindConflict, Message: "relationship would create a cycle", err: err}, false
	case errors.Is(err, storage.ErrDuplicate):
		return &Error{Kind: KindConflict, Message: "relationship already exists", err: err}, false
	case errors.Is(err, storage.ErrConflict):
		return &Error{Kind: KindConflict, Message: "conflicting change", err: err}, false
	case errors.Is(err, storage.ErrInvalidInput):
		return &Error{Kind: KindValidation, Message: err.Error(), err: err}, false
	case errors.Is(err, resilience.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return &Error{Kind: KindTimeout, Message: "storage did not respond in time, retry later", err: err}, false
	}
	return &Error{Kind: KindInternal, Message: "internal error", err: err}, true
}

package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Callers match with errors.Is so retry policy never depends
// on message strings.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("rate limited")
	ErrTransient    = errors.New("transient backend failure")
	ErrFatal        = errors.New("backend failure")
)

// Error carries the kind plus enough structured detail for the calling
// layer to render an actionable message.
type Error struct {
	Kind    error
	Op      string // backend operation, e.g. "store"
	Status  int    // HTTP-equivalent status, 0 when not applicable
	Message string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// NewError wraps a kind with operation context.
func NewError(kind error, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// FromStatus maps an HTTP-equivalent status code onto the taxonomy.
func FromStatus(op string, status int, message string) *Error {
	var kind error
	switch {
	case status == http.StatusUnauthorized:
		kind = ErrUnauthorized
	case status == http.StatusForbidden:
		kind = ErrForbidden
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status == http.StatusConflict:
		kind = ErrConflict
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case status >= 500:
		kind = ErrTransient
	default:
		kind = ErrFatal
	}
	return &Error{Kind: kind, Op: op, Status: status, Message: message}
}

// IsRetryable reports whether an error may be retried for idempotent
// reads. Mutations are never blindly retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

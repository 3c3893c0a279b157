package provider

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("event not found")
	ErrUnauthorized       = errors.New("provider authorization failed")
	ErrPreconditionFailed = errors.New("event changed remotely")
	ErrRateLimited        = errors.New("provider rate limit hit")
	ErrUnavailable        = errors.New("provider unavailable")
	ErrUnsupported        = errors.New("unsupported provider")
)

// Error wraps a provider failure with enough context to log and map to
// an exit code. It unwraps to one of the sentinels above when the
// status implies one.
type Error struct {
	Provider string
	Op       string
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s: status %d: %s", e.Provider, e.Op, e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a provider error from an HTTP status, attaching the
// matching sentinel.
func NewError(providerName, op string, status int, message string) *Error {
	e := &Error{Provider: providerName, Op: op, Status: status, Message: message}
	switch {
	case status == 401:
		e.Err = ErrUnauthorized
	case status == 403, status == 429:
		e.Err = ErrRateLimited
	case status == 404, status == 410:
		e.Err = ErrNotFound
	case status == 412:
		e.Err = ErrPreconditionFailed
	case status >= 500:
		e.Err = ErrUnavailable
	}
	return e
}

// WrapError attaches transport-level failures (timeouts, DNS, broken
// connections) to the unavailable sentinel.
func WrapError(providerName, op string, err error) *Error {
	return &Error{Provider: providerName, Op: op, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
}

// IsRetryable reports whether a retry could plausibly succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

package identity

import (
	"context"
	"fmt"
	"net"

	"github.com/jrsteele09/learnbox-auth/internal/errors"
)

// ErrorKind classifies provider failures into the set surfaced to users.
type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "INVALID_CREDENTIALS"
	KindAccountNotFound    ErrorKind = "ACCOUNT_NOT_FOUND"
	KindNetworkUnavailable ErrorKind = "NETWORK_UNAVAILABLE"
	KindRateLimited        ErrorKind = "RATE_LIMITED"
	KindAccountExists      ErrorKind = "ACCOUNT_EXISTS"
	KindWeakPassword       ErrorKind = "WEAK_PASSWORD"
	KindUnknown            ErrorKind = "UNKNOWN_PROVIDER_ERROR"
)

var messages = map[ErrorKind]string{
	KindInvalidCredentials: "Invalid email or password.",
	KindAccountNotFound:    "No account exists for that email.",
	KindNetworkUnavailable: "Could not reach the sign-in service. Check your connection and try again.",
	KindRateLimited:        "Too many attempts. Please wait a moment and try again.",
	KindAccountExists:      "An account with this email already exists.",
	KindWeakPassword:       "Password does not meet the requirements.",
	KindUnknown:            "Something went wrong while signing in. Please try again.",
}

// Message returns the user-visible message for k.
func (k ErrorKind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}
	return messages[KindUnknown]
}

// Error is returned by every Client operation that fails.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[identity.%s] %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is safe to show to the user. Weak password errors carry the policy detail.
func (e *Error) Message() string {
	if e.Kind == KindWeakPassword && e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Message()
}

// KindOf returns the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Op: op, Kind: kindFor(err), Err: err}
}

func kindFor(err error) ErrorKind {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidActionCode), errors.Is(err, ErrAccountDisabled):
		return KindInvalidCredentials
	case errors.Is(err, ErrAccountNotFound):
		return KindAccountNotFound
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrAccountExists):
		return KindAccountExists
	case errors.Is(err, errors.ErrWeakPassword):
		return KindWeakPassword
	case errors.Is(err, ErrNetworkUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return KindNetworkUnavailable
	}
	return KindUnknown
}

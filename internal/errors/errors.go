package errors

import (
	"errors"
	"fmt"
)

// Common error types shared by the session client packages
var (
	// Identity errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserNotVerified    = errors.New("user is not verified")
	ErrUserDisabled       = errors.New("user account is disabled")
	ErrWeakPassword       = errors.New("password does not meet policy")

	// Token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// Tenant errors
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrInvalidTenant      = errors.New("invalid tenant")
	ErrUnauthorizedTenant = errors.New("unauthorized for tenant")

	// Session errors
	ErrNoSession = errors.New("no session")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single errors import
func New(text string) error {
	return errors.New(text)
}

package backend

import (
	"fmt"

	"github.com/jrsteele09/learnbox-auth/token"
	"github.com/jrsteele09/learnbox-auth/users"
)

// LoginRequest exchanges a provider assertion for backend tokens. TenantID is
// a hint only; the client re-validates the returned profile regardless.
type LoginRequest struct {
	Assertion string `json:"assertion"`
	TenantID  *int64 `json:"tenantId,omitempty"`
}

// RegisterRequest creates the backend user for a provider account.
type RegisterRequest struct {
	Assertion   string `json:"assertion"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	FirebaseUID string `json:"firebase_uid"`
	TenantID    *int64 `json:"tenantId,omitempty"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	Message string        `json:"message,omitempty"`
	Tokens  token.Pair    `json:"tokens"`
	User    users.Profile `json:"user"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// Error codes returned by the backend.
const (
	CodeInvalidAssertion = "invalid_assertion"
	CodeEmailNotVerified = "email_not_verified"
	CodeUserNotFound     = "user_not_found"
	CodeUserExists       = "user_exists"
	CodeAccountDisabled  = "account_disabled"
	CodeTenantMismatch   = "tenant_mismatch"
	CodeInvalidRefresh   = "token_not_valid"
	CodeBadRequest       = "bad_request"
)

// Error is a non-2xx backend response.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Detail
	}
	return fmt.Sprintf("backend rejected request (%d %s): %s", e.Status, e.Code, msg)
}

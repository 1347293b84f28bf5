package token

import "github.com/golang-jwt/jwt/v5"

// IdentityClaims are carried by identity provider assertions (ID tokens).
type IdentityClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// AccessClaims are carried by backend access tokens.
type AccessClaims struct {
	Role      string `json:"role,omitempty"`
	CollegeID *int64 `json:"college_id,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

const (
	TypeAccess = "access"
)

package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Pair is the access/refresh token pair issued by the backend. Both values are
// opaque to the client; the access token carries the authorization scope.
type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (p Pair) IsZero() bool {
	return p.Access == "" && p.Refresh == ""
}

// Complete reports whether both halves are present.
func (p Pair) Complete() bool {
	return p.Access != "" && p.Refresh != ""
}

// AccessExpiry reads the exp claim of the access token without verifying its
// signature. ok is false when the token is not a JWT or carries no exp.
func (p Pair) AccessExpiry() (exp time.Time, ok bool) {
	if p.Access == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(p.Access, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// AccessExpired reports whether the access token is known to have expired at now.
func (p Pair) AccessExpired(now time.Time) bool {
	exp, ok := p.AccessExpiry()
	return ok && !now.Before(exp)
}

// Rotate returns p with the access token replaced and, when refresh is
// non-empty, the refresh token replaced as well.
func (p Pair) Rotate(next Pair) Pair {
	out := Pair{Access: next.Access, Refresh: p.Refresh}
	if next.Refresh != "" {
		out.Refresh = next.Refresh
	}
	return out
}

// String never prints token material.
func (p Pair) String() string {
	return "token.Pair{redacted}"
}

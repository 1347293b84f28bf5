package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Signer signs and verifies HS256 tokens for the in-memory provider and backend.
type Signer struct {
	secret []byte
	issuer string
}

// NewSigner creates a new HMAC signer with the given secret and issuer.
func NewSigner(secret []byte, issuer string) *Signer {
	return &Signer{
		secret: secret,
		issuer: issuer,
	}
}

func (s *Signer) Issuer() string {
	return s.issuer
}

func (s *Signer) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token with HMAC: %w", err)
	}
	return signedToken, nil
}

// Parse verifies raw into claims, checking signature, issuer and expiry.
func (s *Signer) Parse(raw string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append(opts, jwt.WithIssuer(s.issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	t, err := jwt.ParseWithClaims(raw, claims, s.verificationKey, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return ErrInvalidToken
	}
	return nil
}

func (s *Signer) verificationKey(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return s.secret, nil
}

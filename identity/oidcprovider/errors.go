package oidcprovider

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/learnbox-auth/identity"
	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"golang.org/x/oauth2"
)

// mapTokenError converts token endpoint failures into identity sentinels.
// Transport errors pass through for identity.Client to classify.
func mapTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	desc := strings.ToLower(re.ErrorDescription)

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", identity.ErrRateLimited, err)
	case re.ErrorCode == "invalid_grant" && strings.Contains(desc, "not found"):
		return fmt.Errorf("%w: %v", identity.ErrAccountNotFound, err)
	case re.ErrorCode == "invalid_grant" && strings.Contains(desc, "disabled"):
		return fmt.Errorf("%w: %v", identity.ErrAccountDisabled, err)
	case re.ErrorCode == "invalid_grant":
		return fmt.Errorf("%w: %v", identity.ErrInvalidCredentials, err)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %v", identity.ErrAccountNotFound, err)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %v", identity.ErrNetworkUnavailable, err)
	}
	return err
}

// isRejected reports whether the issuer refused the grant, as opposed to
// being unreachable.
func isRejected(err error) bool {
	return errors.Is(err, identity.ErrInvalidCredentials) ||
		errors.Is(err, identity.ErrAccountNotFound) ||
		errors.Is(err, identity.ErrAccountDisabled)
}

// accountsError is the accounts API error body.
type accountsError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func mapAccountsError(status int, body accountsError) error {
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", identity.ErrRateLimited, msg)
	case body.Code == "account_exists" || status == http.StatusConflict:
		return fmt.Errorf("%w: %s", identity.ErrAccountExists, msg)
	case body.Code == "weak_password":
		return fmt.Errorf("%w: %s", errors.ErrWeakPassword, msg)
	case body.Code == "invalid_code":
		return fmt.Errorf("%w: %s", identity.ErrInvalidActionCode, msg)
	case body.Code == "user_not_found" || status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", identity.ErrAccountNotFound, msg)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", identity.ErrInvalidCredentials, msg)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", identity.ErrNetworkUnavailable, msg)
	}
	return fmt.Errorf("[oidcprovider] accounts API status %d: %s", status, msg)
}

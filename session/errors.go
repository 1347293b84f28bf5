package session

import (
	"github.com/jrsteele09/learnbox-auth/backend"
	"github.com/jrsteele09/learnbox-auth/identity"
	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/jrsteele09/learnbox-auth/internal/utils"
	"github.com/jrsteele09/learnbox-auth/tenants"
)

func providerError(err error) *Error {
	kind := identity.KindOf(err)
	msg := kind.Message()
	var idErr *identity.Error
	if errors.As(err, &idErr) {
		msg = idErr.Message()
	}
	return &Error{Reason: ReasonProviderError, Kind: kind, Message: msg, Err: err}
}

func backendError(err error) *Error {
	var apiErr *backend.Error
	if !errors.As(err, &apiErr) {
		return &Error{Reason: ReasonBackendRejected, Message: msgBackendUnavailable, Err: err}
	}
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Detail
	}
	if msg == "" {
		msg = msgBackendRejected
	}
	return &Error{Reason: ReasonBackendRejected, Message: msg, Err: err}
}

func tenantError(outcome tenants.Outcome) *Error {
	if outcome == tenants.Missing {
		return &Error{Reason: ReasonTenantMissing, Message: msgTenantMissing}
	}
	return &Error{Reason: ReasonTenantMismatch, Message: msgTenantMismatch}
}

// tenantHint is the tenantId sent with the exchange. It is advisory; the
// tenant check after the exchange is what binds.
func tenantHint(sel tenants.Selection) *int64 {
	id, ok := sel.CollegeID()
	if !ok {
		return nil
	}
	return utils.Ptr(id)
}

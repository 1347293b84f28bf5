package session

import (
	"fmt"

	"github.com/jrsteele09/learnbox-auth/identity"
	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/jrsteele09/learnbox-auth/tenants"
	"github.com/jrsteele09/learnbox-auth/users"
)

type State string

const (
	StateAnonymous           State = "ANONYMOUS"
	StatePendingVerification State = "PENDING_VERIFICATION"
	StateAuthenticating      State = "AUTHENTICATING"
	StateAuthenticated       State = "AUTHENTICATED"
	StateTenantMismatch      State = "TENANT_MISMATCH"
	StateError               State = "ERROR"
)

// Reason qualifies ERROR, TENANT_MISMATCH and PENDING_VERIFICATION states.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonProviderError        Reason = "PROVIDER_ERROR"
	ReasonBackendRejected      Reason = "BACKEND_REJECTED"
	ReasonTenantMismatch       Reason = "TENANT_MISMATCH"
	ReasonTenantMissing        Reason = "TENANT_MISSING"
	ReasonVerificationRequired Reason = "VERIFICATION_REQUIRED"
	ReasonStoreFailure         Reason = "STORE_FAILURE"
)

const (
	msgVerificationRequired = "Please verify your email address. Check your inbox for the verification link."
	msgTenantMissing        = "Please select your college to sign in."
	msgTenantMismatch       = "You are not a member of the selected college."
	msgBackendRejected      = "Sign-in was rejected by the server. Please try again."
	msgBackendUnavailable   = "Could not reach the server. Please try again."
	msgStoreFailure         = "Your session could not be saved. Please sign in again."
	msgSignedOutElsewhere   = "You were signed out in another window."
	msgProviderSignedOut    = "Your sign-in session ended."
)

// Snapshot is the externally visible session state. Profile is set only when
// State is AUTHENTICATED.
type Snapshot struct {
	State     State
	Reason    Reason
	Kind      identity.ErrorKind
	Message   string
	Profile   *users.Profile
	Email     string
	Selection tenants.Selection
	Seq       uint64
}

func (s Snapshot) clone() Snapshot {
	s.Profile = s.Profile.Clone()
	return s
}

func (s Snapshot) String() string {
	if s.Reason != ReasonNone {
		return fmt.Sprintf("%s(%s)", s.State, s.Reason)
	}
	return string(s.State)
}

var (
	ErrSuperseded    = errors.New("superseded by a newer session action")
	ErrNotPending    = errors.New("no sign-in is waiting for email verification")
	ErrNotSignedIn   = errors.ErrNoSession
	ErrAlreadyActive = errors.New("orchestrator already started")
)

// Error is returned by orchestrator actions whose outcome is a failure state.
type Error struct {
	Reason  Reason
	Kind    identity.ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session %s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("session %s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonOf returns the reason carried by err, or ReasonNone.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}

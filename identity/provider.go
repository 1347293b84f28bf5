package identity

import (
	"context"
	"sync"

	"github.com/jrsteele09/learnbox-auth/internal/errors"
)

// Errors a Provider returns to signal a classified failure. Anything else is
// classified by Client as network or unknown.
var (
	ErrInvalidCredentials = errors.ErrInvalidCredentials
	ErrAccountNotFound    = errors.ErrUserNotFound
	ErrAccountDisabled    = errors.ErrUserDisabled
	ErrAccountExists      = errors.New("account already exists")
	ErrRateLimited        = errors.New("provider rate limited")
	ErrNetworkUnavailable = errors.New("provider unreachable")
	ErrInvalidActionCode  = errors.New("invalid or expired action code")
	ErrNoCurrentUser      = errors.ErrNoSession
)

// Principal is a provider-side authenticated user.
type Principal struct {
	UID           string
	Email         string
	EmailVerified bool

	// Session is provider specific session material (tokens, handles).
	// Only the provider that produced the Principal reads it.
	Session any
}

// Provider is the external identity provider boundary.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (*Principal, error)
	SignIn(ctx context.Context, email, password string) (*Principal, error)
	SignOut(ctx context.Context) error

	// CurrentUser returns the restored provider session, or nil when there is none.
	CurrentUser(ctx context.Context) (*Principal, error)

	// Reload re-reads the principal's flags from the provider.
	Reload(ctx context.Context, p *Principal) (*Principal, error)

	// IDToken mints a short-lived assertion for p.
	IDToken(ctx context.Context, p *Principal, forceRefresh bool) (string, error)

	SendVerificationEmail(ctx context.Context, p *Principal) error
	SendPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, code, newPassword string) error

	// OnAuthStateChanged registers listener for every provider session change,
	// receiving nil on sign-out. listener must not block.
	OnAuthStateChanged(listener func(*Principal)) (unsubscribe func())
}

// Listeners is a registry providers use to implement OnAuthStateChanged.
type Listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(*Principal)
}

func (l *Listeners) Add(fn func(*Principal)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(*Principal))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

// Notify calls every listener with a copy of p. It must not be called while
// the provider holds its own lock.
func (l *Listeners) Notify(p *Principal) {
	l.mu.Lock()
	fns := make([]func(*Principal), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		if p == nil {
			fn(nil)
			continue
		}
		c := *p
		fn(&c)
	}
}

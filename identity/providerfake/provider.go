// Package providerfake is an in-memory identity provider used by tests and the
// dev CLI. Passwords are bcrypt hashed, ID tokens are HS256 JWTs and every
// outgoing email lands in an inspectable outbox.
package providerfake

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/learnbox-auth/identity"
	"github.com/jrsteele09/learnbox-auth/token"
	"github.com/jrsteele09/learnbox-auth/users"
)

const (
	DefaultIssuer = "learnbox-identity-dev"

	idTokenTTL          = time.Hour
	verificationCodeTTL = 15 * time.Minute
	passwordResetTTL    = time.Hour
)

// MessageKind is the kind of email the provider sent.
type MessageKind string

const (
	MessageVerification  MessageKind = "verification"
	MessagePasswordReset MessageKind = "password_reset"
)

type Message struct {
	Kind   MessageKind
	To     string
	Code   string
	SentAt time.Time
}

type account struct {
	uid          string
	email        string
	passwordHash string
	verified     bool
	disabled     bool
}

type actionCode struct {
	email   string
	expires time.Time
}

// Provider implements identity.Provider in memory.
type Provider struct {
	mu          sync.Mutex
	signer      *token.Signer
	accounts    map[string]*account
	current     *identity.Principal
	verifyCodes map[string]actionCode
	resetCodes  map[string]actionCode
	outbox      []Message
	failures    map[string]error
	hook        func(ctx context.Context, op string)

	listeners identity.Listeners
	nowTime   func() time.Time
}

type Option func(*Provider)

// WithNowTime sets the clock used for token and code expiry.
func WithNowTime(nowFunc func() time.Time) Option {
	return func(p *Provider) {
		p.nowTime = nowFunc
	}
}

// WithHook installs fn, called at the start of every provider operation
// outside the provider lock. Tests use it to hold a call in flight.
func WithHook(fn func(ctx context.Context, op string)) Option {
	return func(p *Provider) {
		p.hook = fn
	}
}

// New creates a provider that signs ID tokens with signer.
func New(signer *token.Signer, opts ...Option) *Provider {
	p := &Provider{
		signer:      signer,
		accounts:    make(map[string]*account),
		verifyCodes: make(map[string]actionCode),
		resetCodes:  make(map[string]actionCode),
		failures:    make(map[string]error),
		nowTime:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddAccount seeds an account and returns its UID.
func (p *Provider) AddAccount(email, password string, verified bool) (string, error) {
	hash, err := users.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("[providerfake.AddAccount] hash password: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[email]; ok {
		return "", identity.ErrAccountExists
	}
	a := &account{uid: uuid.NewString(), email: email, passwordHash: hash, verified: verified}
	p.accounts[email] = a
	return a.uid, nil
}

// SetVerified flips the verification flag as if the user followed the email link.
func (p *Provider) SetVerified(email string, verified bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[email]
	if !ok {
		return identity.ErrAccountNotFound
	}
	a.verified = verified
	return nil
}

func (p *Provider) SetDisabled(email string, disabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[email]
	if !ok {
		return identity.ErrAccountNotFound
	}
	a.disabled = disabled
	return nil
}

// FailNext makes the next call to op return err.
func (p *Provider) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = err
}

// ApplyVerificationCode consumes a code from a verification email.
func (p *Provider) ApplyVerificationCode(code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.verifyCodes[code]
	if !ok || p.nowTime().After(c.expires) {
		return identity.ErrInvalidActionCode
	}
	delete(p.verifyCodes, code)
	a, ok := p.accounts[c.email]
	if !ok {
		return identity.ErrAccountNotFound
	}
	a.verified = true
	return nil
}

// Outbox returns the messages sent so far.
func (p *Provider) Outbox() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.outbox...)
}

// LastMessage returns the most recent message of kind sent to email.
func (p *Provider) LastMessage(kind MessageKind, email string) (Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.outbox) - 1; i >= 0; i-- {
		if m := p.outbox[i]; m.Kind == kind && m.To == email {
			return m, true
		}
	}
	return Message{}, false
}

// Emails lists the registered account emails.
func (p *Provider) Emails() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	emails := make([]string, 0, len(p.accounts))
	for e := range p.accounts {
		emails = append(emails, e)
	}
	sort.Strings(emails)
	return emails
}

func (p *Provider) SignUp(ctx context.Context, email, password string) (*identity.Principal, error) {
	if err := p.enter(ctx, "SignUp"); err != nil {
		return nil, err
	}
	hash, err := users.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("[providerfake.SignUp] hash password: %w", err)
	}

	p.mu.Lock()
	if _, ok := p.accounts[email]; ok {
		p.mu.Unlock()
		return nil, identity.ErrAccountExists
	}
	a := &account{uid: uuid.NewString(), email: email, passwordHash: hash}
	p.accounts[email] = a
	principal := p.setCurrentLocked(a)
	p.mu.Unlock()

	p.listeners.Notify(principal)
	return principal, nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*identity.Principal, error) {
	if err := p.enter(ctx, "SignIn"); err != nil {
		return nil, err
	}

	p.mu.Lock()
	a, ok := p.accounts[email]
	if !ok {
		p.mu.Unlock()
		return nil, identity.ErrAccountNotFound
	}
	if !users.CheckPasswordHash(password, a.passwordHash) {
		p.mu.Unlock()
		return nil, identity.ErrInvalidCredentials
	}
	if a.disabled {
		p.mu.Unlock()
		return nil, identity.ErrAccountDisabled
	}
	principal := p.setCurrentLocked(a)
	p.mu.Unlock()

	p.listeners.Notify(principal)
	return principal, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	if err := p.enter(ctx, "SignOut"); err != nil {
		return err
	}
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	p.listeners.Notify(nil)
	return nil
}

func (p *Provider) CurrentUser(ctx context.Context) (*identity.Principal, error) {
	if err := p.enter(ctx, "CurrentUser"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, nil
	}
	c := *p.current
	if a, ok := p.accounts[c.Email]; ok {
		c.EmailVerified = a.verified
	}
	return &c, nil
}

// Reload works from the principal alone, so a signed-out pending principal can
// still be re-checked.
func (p *Provider) Reload(ctx context.Context, principal *identity.Principal) (*identity.Principal, error) {
	if err := p.enter(ctx, "Reload"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.accountForLocked(principal)
	if err != nil {
		return nil, err
	}
	return p.principalLocked(a), nil
}

// IDToken issues a new token on every call, each with a unique jti.
func (p *Provider) IDToken(ctx context.Context, principal *identity.Principal, _ bool) (string, error) {
	if err := p.enter(ctx, "IDToken"); err != nil {
		return "", err
	}
	p.mu.Lock()
	a, err := p.accountForLocked(principal)
	now := p.nowTime()
	p.mu.Unlock()
	if err != nil {
		return "", err
	}

	claims := token.IdentityClaims{
		Email:         a.email,
		EmailVerified: a.verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.signer.Issuer(),
			Subject:   a.uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(idTokenTTL)),
			ID:        uuid.NewString(),
		},
	}
	return p.signer.Sign(claims)
}

// Verify checks an ID token this provider issued. The backend fake uses it to
// trust assertions.
func (p *Provider) Verify(_ context.Context, raw string) (*token.IdentityClaims, error) {
	claims := &token.IdentityClaims{}
	if err := p.signer.Parse(raw, claims, jwt.WithTimeFunc(p.nowTime)); err != nil {
		return nil, err
	}
	return claims, nil
}

func (p *Provider) SendVerificationEmail(ctx context.Context, principal *identity.Principal) error {
	if err := p.enter(ctx, "SendVerificationEmail"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.accountForLocked(principal)
	if err != nil {
		return err
	}
	code := uuid.NewString()
	now := p.nowTime()
	p.verifyCodes[code] = actionCode{email: a.email, expires: now.Add(verificationCodeTTL)}
	p.outbox = append(p.outbox, Message{Kind: MessageVerification, To: a.email, Code: code, SentAt: now})
	return nil
}

// SendPasswordReset records a reset message. Unknown emails are reported as
// ACCOUNT_NOT_FOUND.
func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	if err := p.enter(ctx, "SendPasswordReset"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[email]; !ok {
		return identity.ErrAccountNotFound
	}
	code := uuid.NewString()
	now := p.nowTime()
	p.resetCodes[code] = actionCode{email: email, expires: now.Add(passwordResetTTL)}
	p.outbox = append(p.outbox, Message{Kind: MessagePasswordReset, To: email, Code: code, SentAt: now})
	return nil
}

func (p *Provider) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	if err := p.enter(ctx, "ConfirmPasswordReset"); err != nil {
		return err
	}
	hash, err := users.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("[providerfake.ConfirmPasswordReset] hash password: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.resetCodes[code]
	if !ok || p.nowTime().After(c.expires) {
		return identity.ErrInvalidActionCode
	}
	delete(p.resetCodes, code)
	a, ok := p.accounts[c.email]
	if !ok {
		return identity.ErrAccountNotFound
	}
	a.passwordHash = hash
	return nil
}

func (p *Provider) OnAuthStateChanged(listener func(*identity.Principal)) func() {
	return p.listeners.Add(listener)
}

func (p *Provider) enter(ctx context.Context, op string) error {
	if p.hook != nil {
		p.hook(ctx, op)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failures[op]; ok {
		delete(p.failures, op)
		return err
	}
	return nil
}

func (p *Provider) setCurrentLocked(a *account) *identity.Principal {
	principal := p.principalLocked(a)
	c := *principal
	p.current = &c
	return principal
}

func (p *Provider) principalLocked(a *account) *identity.Principal {
	return &identity.Principal{UID: a.uid, Email: a.email, EmailVerified: a.verified}
}

func (p *Provider) accountForLocked(principal *identity.Principal) (*account, error) {
	if principal == nil {
		return nil, identity.ErrNoCurrentUser
	}
	a, ok := p.accounts[principal.Email]
	if !ok || a.uid != principal.UID {
		return nil, identity.ErrAccountNotFound
	}
	return a, nil
}

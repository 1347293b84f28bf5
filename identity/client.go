package identity

import (
	"context"
	"strings"

	"github.com/jrsteele09/learnbox-auth/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Credential is an email and secret pair that lives for a single call.
type Credential struct {
	Email  string
	Secret string
}

func (c Credential) String() string {
	return c.Email + ":[REDACTED]"
}

// Handle is an authenticated provider principal. It is immutable; operations
// that observe new provider state return a new Handle.
type Handle struct {
	p Principal
}

func newHandle(p *Principal) *Handle {
	if p == nil {
		return nil
	}
	return &Handle{p: *p}
}

func (h *Handle) UID() string {
	return h.p.UID
}

func (h *Handle) Email() string {
	return h.p.Email
}

func (h *Handle) Verified() bool {
	return h != nil && h.p.EmailVerified
}

func (h *Handle) principal() *Principal {
	p := h.p
	return &p
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithPasswordPolicy(policy users.PasswordPolicy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithAsync sets how fire-and-forget side effects (verification emails) run.
func WithAsync(run func(func())) ClientOption {
	return func(c *Client) {
		c.async = run
	}
}

// Client adapts a Provider into handles, classified errors and an explicit
// auth-state event source.
type Client struct {
	provider Provider
	policy   users.PasswordPolicy
	logger   zerolog.Logger
	async    func(func())
}

func NewClient(provider Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		policy:   users.DefaultPasswordPolicy,
		logger:   log.Logger,
		async:    func(fn func()) { go fn() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SignUp creates a provider account and sends the verification email in the
// background. An email failure is logged only.
func (c *Client) SignUp(ctx context.Context, cred Credential) (*Handle, error) {
	if err := c.policy.ValidatePasswordStrength(cred.Secret); err != nil {
		return nil, &Error{Op: "SignUp", Kind: KindWeakPassword, Err: err}
	}
	p, err := c.provider.SignUp(ctx, normalizeEmail(cred.Email), cred.Secret)
	if err != nil {
		return nil, classify("SignUp", err)
	}

	h := newHandle(p)
	bg := context.WithoutCancel(ctx)
	c.async(func() {
		if err := c.provider.SendVerificationEmail(bg, h.principal()); err != nil {
			c.logger.Warn().Err(err).Str("uid", h.UID()).Msg("verification email failed")
		}
	})
	return h, nil
}

func (c *Client) SignIn(ctx context.Context, cred Credential) (*Handle, error) {
	p, err := c.provider.SignIn(ctx, normalizeEmail(cred.Email), cred.Secret)
	if err != nil {
		return nil, classify("SignIn", err)
	}
	return newHandle(p), nil
}

func (c *Client) SignOut(ctx context.Context) error {
	return classify("SignOut", c.provider.SignOut(ctx))
}

// CurrentIdentity returns the provider session restored at startup, or nil.
func (c *Client) CurrentIdentity(ctx context.Context) (*Handle, error) {
	p, err := c.provider.CurrentUser(ctx)
	if err != nil {
		return nil, classify("CurrentIdentity", err)
	}
	return newHandle(p), nil
}

// MintAssertion asks the provider for a fresh ID token on every call.
func (c *Client) MintAssertion(ctx context.Context, h *Handle) (string, error) {
	if h == nil {
		return "", &Error{Op: "MintAssertion", Kind: KindUnknown, Err: ErrNoCurrentUser}
	}
	raw, err := c.provider.IDToken(ctx, h.principal(), true)
	if err != nil {
		return "", classify("MintAssertion", err)
	}
	return raw, nil
}

// RefreshVerification re-reads the verification flag from the provider.
func (c *Client) RefreshVerification(ctx context.Context, h *Handle) (*Handle, error) {
	if h == nil {
		return nil, &Error{Op: "RefreshVerification", Kind: KindUnknown, Err: ErrNoCurrentUser}
	}
	p, err := c.provider.Reload(ctx, h.principal())
	if err != nil {
		return nil, classify("RefreshVerification", err)
	}
	return newHandle(p), nil
}

func (c *Client) SendVerification(ctx context.Context, h *Handle) error {
	if h == nil {
		return &Error{Op: "SendVerification", Kind: KindUnknown, Err: ErrNoCurrentUser}
	}
	return classify("SendVerification", c.provider.SendVerificationEmail(ctx, h.principal()))
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return classify("RequestPasswordReset", c.provider.SendPasswordReset(ctx, normalizeEmail(email)))
}

func (c *Client) ConfirmPasswordReset(ctx context.Context, code, newSecret string) error {
	if err := c.policy.ValidatePasswordStrength(newSecret); err != nil {
		return &Error{Op: "ConfirmPasswordReset", Kind: KindWeakPassword, Err: err}
	}
	return classify("ConfirmPasswordReset", c.provider.ConfirmPasswordReset(ctx, code, newSecret))
}

// Subscribe registers for provider auth-state changes. The caller owns the
// subscription and must Close it.
func (c *Client) Subscribe() *Subscription {
	s := newSubscription()
	s.unsubscribe = c.provider.OnAuthStateChanged(func(p *Principal) {
		s.deliver(Event{Handle: newHandle(p)})
	})
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

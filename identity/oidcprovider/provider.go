// Package oidcprovider implements identity.Provider against an OpenID Connect
// issuer that supports the resource owner password grant, plus a small JSON
// accounts API for sign-up, verification and password reset.
package oidcprovider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/learnbox-auth/identity"
	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

var defaultScopes = []string{oidc.ScopeOpenID, "email", oidc.ScopeOfflineAccess}

// Config describes the issuer and client registration.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	// AccountsURL is the base of the accounts API, typically {issuer}/accounts.
	AccountsURL string
	Scopes      []string
}

// session is the material carried in identity.Principal.Session.
type session struct {
	mu      sync.Mutex
	token   *oauth2.Token
	idToken string
}

func (s *session) snapshot() (*oauth2.Token, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := *s.token
	return &t, s.idToken
}

func (s *session) update(tok *oauth2.Token, idToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tok
	s.idToken = idToken
}

type idClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// Provider talks to an OIDC issuer.
type Provider struct {
	cfg         Config
	oauth       oauth2.Config
	verifier    *oidc.IDTokenVerifier
	httpClient  *http.Client
	persistence SessionPersistence
	logger      zerolog.Logger

	mu      sync.Mutex
	current *identity.Principal

	listeners identity.Listeners
}

type Option func(*Provider)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithPersistence keeps the provider session across restarts.
func WithPersistence(sp SessionPersistence) Option {
	return func(p *Provider) {
		p.persistence = sp
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// Discover reads the issuer's discovery document and builds a Provider.
func Discover(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	p := &Provider{httpClient: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(p)
	}
	op, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("[oidcprovider.Discover] %s: %w", cfg.Issuer, err)
	}
	verifier := op.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return New(cfg, op.Endpoint(), verifier, opts...), nil
}

// New builds a Provider from a known token endpoint and verifier.
func New(cfg Config, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier, opts ...Option) *Provider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	if cfg.AccountsURL == "" {
		cfg.AccountsURL = strings.TrimSuffix(cfg.Issuer, "/") + "/accounts"
	}
	p := &Provider{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		verifier:   verifier,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// SignUp creates the account through the accounts API, then signs in.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*identity.Principal, error) {
	req := map[string]string{"email": email, "password": password}
	if err := p.postAccounts(ctx, "/signup", "", req); err != nil {
		return nil, err
	}
	return p.SignIn(ctx, email, password)
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*identity.Principal, error) {
	tok, err := p.oauth.PasswordCredentialsToken(p.clientContext(ctx), email, password)
	if err != nil {
		return nil, mapTokenError(err)
	}
	principal, err := p.principalFromToken(ctx, tok, nil)
	if err != nil {
		return nil, err
	}
	p.setCurrent(ctx, principal)
	return principal, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	var err error
	if p.persistence != nil {
		err = p.persistence.Clear(ctx)
	}
	p.listeners.Notify(nil)
	if err != nil {
		return fmt.Errorf("[oidcprovider.SignOut] clear session: %w", err)
	}
	return nil
}

// CurrentUser returns the in-memory session or restores a persisted one by
// refreshing it. A persisted session the issuer no longer accepts is dropped.
func (p *Provider) CurrentUser(ctx context.Context) (*identity.Principal, error) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()
	if current != nil {
		c := *current
		return &c, nil
	}
	if p.persistence == nil {
		return nil, nil
	}

	stored, err := p.persistence.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("[oidcprovider.CurrentUser] load session: %w", err)
	}
	if stored == nil || stored.RefreshToken == "" {
		return nil, nil
	}

	tok, err := p.refresh(ctx, &oauth2.Token{RefreshToken: stored.RefreshToken})
	if err != nil {
		mapped := mapTokenError(err)
		if isRejected(mapped) {
			p.logger.Info().Str("email", stored.Email).Msg("persisted provider session rejected, discarding")
			if cerr := p.persistence.Clear(ctx); cerr != nil {
				p.logger.Warn().Err(cerr).Msg("failed to clear rejected provider session")
			}
			return nil, nil
		}
		return nil, mapped
	}
	principal, err := p.principalFromToken(ctx, tok, nil)
	if err != nil {
		return nil, err
	}
	p.setCurrent(ctx, principal)
	return principal, nil
}

// Reload refreshes the principal's tokens and re-reads email_verified from the
// new ID token.
func (p *Provider) Reload(ctx context.Context, principal *identity.Principal) (*identity.Principal, error) {
	s, err := sessionOf(principal)
	if err != nil {
		return nil, err
	}
	tok, _ := s.snapshot()
	fresh, err := p.refresh(ctx, tok)
	if err != nil {
		return nil, mapTokenError(err)
	}
	return p.principalFromToken(ctx, fresh, s)
}

// IDToken returns the principal's ID token, refreshing it when forced or
// when it no longer verifies.
func (p *Provider) IDToken(ctx context.Context, principal *identity.Principal, forceRefresh bool) (string, error) {
	s, err := sessionOf(principal)
	if err != nil {
		return "", err
	}
	tok, raw := s.snapshot()
	if !forceRefresh && raw != "" {
		_, verr := p.verifier.Verify(ctx, raw)
		if verr == nil {
			return raw, nil
		}
		var expired *oidc.TokenExpiredError
		if !errors.As(verr, &expired) {
			return "", fmt.Errorf("[oidcprovider.IDToken] %w: %v", identity.ErrInvalidCredentials, verr)
		}
	}

	fresh, err := p.refresh(ctx, tok)
	if err != nil {
		return "", mapTokenError(err)
	}
	if _, err := p.principalFromToken(ctx, fresh, s); err != nil {
		return "", err
	}
	_, raw = s.snapshot()
	return raw, nil
}

func (p *Provider) OnAuthStateChanged(listener func(*identity.Principal)) func() {
	return p.listeners.Add(listener)
}

// refresh always hits the token endpoint by presenting tok as already expired.
func (p *Provider) refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("[oidcprovider.refresh] %w: no refresh token", identity.ErrInvalidCredentials)
	}
	stale := &oauth2.Token{
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       time.Unix(1, 0),
	}
	fresh, err := p.oauth.TokenSource(p.clientContext(ctx), stale).Token()
	if err != nil {
		return nil, err
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	return fresh, nil
}

// principalFromToken verifies the ID token in tok. When s is non-nil it is
// updated in place, otherwise a new session is created.
func (p *Provider) principalFromToken(ctx context.Context, tok *oauth2.Token, s *session) (*identity.Principal, error) {
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return nil, fmt.Errorf("[oidcprovider] token response has no id_token")
	}
	idt, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("[oidcprovider] verify id_token: %w", err)
	}
	var claims idClaims
	if err := idt.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[oidcprovider] decode id_token claims: %w", err)
	}

	if s == nil {
		s = &session{}
	}
	s.update(tok, raw)

	principal := &identity.Principal{
		UID:           idt.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Session:       s,
	}

	p.mu.Lock()
	isCurrent := p.current != nil && p.current.Session == s
	if isCurrent {
		c := *principal
		p.current = &c
	}
	p.mu.Unlock()

	if isCurrent {
		p.persist(ctx, principal)
	}
	return principal, nil
}

func (p *Provider) setCurrent(ctx context.Context, principal *identity.Principal) {
	c := *principal
	p.mu.Lock()
	p.current = &c
	p.mu.Unlock()

	p.persist(ctx, principal)
	p.listeners.Notify(principal)
}

// persist saves the refresh token so the session can be restored after a
// restart. Failures only cost the restore and are logged.
func (p *Provider) persist(ctx context.Context, principal *identity.Principal) {
	if p.persistence == nil {
		return
	}
	s, err := sessionOf(principal)
	if err != nil {
		return
	}
	tok, _ := s.snapshot()
	stored := StoredSession{Email: principal.Email, RefreshToken: tok.RefreshToken}
	if err := p.persistence.Save(ctx, stored); err != nil {
		p.logger.Warn().Err(err).Msg("failed to persist provider session")
	}
}

func sessionOf(principal *identity.Principal) (*session, error) {
	if principal == nil {
		return nil, identity.ErrNoCurrentUser
	}
	s, ok := principal.Session.(*session)
	if !ok || s == nil {
		return nil, fmt.Errorf("[oidcprovider] principal %s has no oidc session: %w", principal.UID, identity.ErrNoCurrentUser)
	}
	return s, nil
}

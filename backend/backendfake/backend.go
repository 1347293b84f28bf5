// Package backendfake is an in-memory LearnBox auth backend. It serves the
// same contract as backend.Client both in process and over HTTP.
package backendfake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/learnbox-auth/backend"
	"github.com/jrsteele09/learnbox-auth/tenants"
	tenantrepofakes "github.com/jrsteele09/learnbox-auth/tenants/repofakes"
	"github.com/jrsteele09/learnbox-auth/token"
	"github.com/jrsteele09/learnbox-auth/users"
)

const (
	DefaultIssuer = "learnbox-backend-dev"

	accessTokenTTL  = 5 * time.Minute
	refreshTokenTTL = 24 * time.Hour
)

// AssertionVerifier validates identity provider assertions.
type AssertionVerifier interface {
	Verify(ctx context.Context, raw string) (*token.IdentityClaims, error)
}

type userRecord struct {
	profile users.Profile
	active  bool
}

type refreshGrant struct {
	userID  int64
	expires time.Time
}

// Backend implements the backend contract in memory.
type Backend struct {
	verifier AssertionVerifier
	signer   *token.Signer
	colleges *tenantrepofakes.FakeTenantRepo

	mu            sync.Mutex
	users         map[int64]*userRecord
	nextID        int64
	refresh       map[string]refreshGrant
	exchanges     int
	enforceTenant bool
	hook          func(ctx context.Context, op string)
	nowTime       func() time.Time
}

type Option func(*Backend)

func WithNowTime(nowFunc func() time.Time) Option {
	return func(b *Backend) {
		b.nowTime = nowFunc
	}
}

// WithHook installs fn, called at the start of every operation before any
// state is read. Tests use it to hold an exchange in flight.
func WithHook(fn func(ctx context.Context, op string)) Option {
	return func(b *Backend) {
		b.hook = fn
	}
}

// WithEnforceTenant rejects logins whose tenantId does not match the user's
// college. Off by default so clients exercise their own tenant check.
func WithEnforceTenant(enforce bool) Option {
	return func(b *Backend) {
		b.enforceTenant = enforce
	}
}

func WithColleges(colleges ...*tenants.Tenant) Option {
	return func(b *Backend) {
		for _, c := range colleges {
			b.colleges.Upsert(c)
		}
	}
}

func New(verifier AssertionVerifier, signer *token.Signer, opts ...Option) *Backend {
	b := &Backend{
		verifier: verifier,
		signer:   signer,
		colleges: tenantrepofakes.NewFakeTenantRepo(),
		users:    make(map[int64]*userRecord),
		nextID:   1,
		refresh:  make(map[string]refreshGrant),
		nowTime:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddUser seeds an active user and returns the stored profile.
func (b *Backend) AddUser(p users.Profile) *users.Profile {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := p.Clone()
	if c.ID == 0 {
		c.ID = b.nextID
	}
	if c.ID >= b.nextID {
		b.nextID = c.ID + 1
	}
	b.users[c.ID] = &userRecord{profile: *c, active: true}
	return c.Clone()
}

// SetActive toggles is_active for the user with email.
func (b *Backend) SetActive(email string, active bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.byEmailLocked(email)
	if u == nil {
		return false
	}
	u.active = active
	return true
}

// Exchanges counts login and register calls that reached token issuance.
func (b *Backend) Exchanges() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exchanges
}

// ParseAccess verifies an access token this backend issued.
func (b *Backend) ParseAccess(raw string) (*token.AccessClaims, error) {
	claims := &token.AccessClaims{}
	if err := b.signer.Parse(raw, claims, jwt.WithTimeFunc(b.nowTime)); err != nil {
		return nil, err
	}
	if claims.TokenType != token.TypeAccess {
		return nil, token.ErrInvalidToken
	}
	return claims, nil
}

func (b *Backend) Login(ctx context.Context, req backend.LoginRequest) (*backend.AuthResponse, error) {
	if err := b.enter(ctx, "Login"); err != nil {
		return nil, err
	}
	claims, err := b.verifier.Verify(ctx, req.Assertion)
	if err != nil {
		return nil, reject(http.StatusUnauthorized, backend.CodeInvalidAssertion, "Invalid or expired identity token.")
	}
	if !claims.EmailVerified {
		return nil, reject(http.StatusForbidden, backend.CodeEmailNotVerified, "Please verify your email before logging in.")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.byUIDLocked(claims.Subject)
	if u == nil {
		u = b.byEmailLocked(claims.Email)
		if u == nil {
			return nil, reject(http.StatusNotFound, backend.CodeUserNotFound, "No account is registered for this identity.")
		}
		u.profile.FirebaseUID = claims.Subject
	}
	if !u.active {
		return nil, reject(http.StatusForbidden, backend.CodeAccountDisabled, "User account is disabled.")
	}
	if b.enforceTenant && req.TenantID != nil && u.profile.RequiresCollege() {
		if u.profile.CollegeID == nil || *u.profile.CollegeID != *req.TenantID {
			return nil, reject(http.StatusForbidden, backend.CodeTenantMismatch, "You are not a member of the selected college.")
		}
	}
	b.exchanges++
	return b.issueLocked(u, "Login successful!")
}

func (b *Backend) Register(ctx context.Context, req backend.RegisterRequest) (*backend.AuthResponse, error) {
	if err := b.enter(ctx, "Register"); err != nil {
		return nil, err
	}
	claims, err := b.verifier.Verify(ctx, req.Assertion)
	if err != nil {
		return nil, reject(http.StatusUnauthorized, backend.CodeInvalidAssertion, "Invalid or expired identity token.")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		email = claims.Email
	}
	if email != claims.Email {
		return nil, reject(http.StatusBadRequest, backend.CodeBadRequest, "Email does not match the identity token.")
	}
	username := req.Username
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.byEmailLocked(email) != nil {
		return nil, reject(http.StatusBadRequest, backend.CodeUserExists, "A user with this email already exists.")
	}
	for _, u := range b.users {
		if u.profile.Username == username {
			return nil, reject(http.StatusBadRequest, backend.CodeUserExists, "A user with that username already exists.")
		}
	}
	if req.TenantID != nil {
		if _, err := b.colleges.Get(ctx, *req.TenantID); err != nil {
			return nil, reject(http.StatusBadRequest, backend.CodeBadRequest, "Unknown college.")
		}
	}

	u := &userRecord{
		profile: users.Profile{
			ID:          b.nextID,
			Username:    username,
			Email:       email,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			FirebaseUID: claims.Subject,
			Roles:       []users.RoleType{users.RoleStudent},
			CollegeID:   req.TenantID,
		},
		active: true,
	}
	b.nextID++
	b.users[u.profile.ID] = u
	b.exchanges++
	return b.issueLocked(u, "Registration successful! Firebase will send verification email.")
}

// Refresh rotates the refresh token; the presented one stops working.
func (b *Backend) Refresh(ctx context.Context, current token.Pair) (token.Pair, error) {
	if err := b.enter(ctx, "Refresh"); err != nil {
		return token.Pair{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	grant, ok := b.refresh[current.Refresh]
	if !ok || b.nowTime().After(grant.expires) {
		return token.Pair{}, reject(http.StatusUnauthorized, backend.CodeInvalidRefresh, "Token is invalid or expired")
	}
	delete(b.refresh, current.Refresh)
	u, ok := b.users[grant.userID]
	if !ok || !u.active {
		return token.Pair{}, reject(http.StatusUnauthorized, backend.CodeInvalidRefresh, "Token is invalid or expired")
	}
	resp, err := b.issueLocked(u, "")
	if err != nil {
		return token.Pair{}, err
	}
	return resp.Tokens, nil
}

// Me resolves the profile of a valid access token.
func (b *Backend) Me(ctx context.Context, access string) (*users.Profile, error) {
	if err := b.enter(ctx, "Me"); err != nil {
		return nil, err
	}
	claims, err := b.ParseAccess(access)
	if err != nil {
		return nil, reject(http.StatusUnauthorized, backend.CodeInvalidRefresh, "Given token not valid for any token type")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, reject(http.StatusUnauthorized, backend.CodeInvalidRefresh, "Given token not valid for any token type")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[id]
	if !ok {
		return nil, reject(http.StatusNotFound, backend.CodeUserNotFound, "User not found")
	}
	return u.profile.Clone(), nil
}

func (b *Backend) List(ctx context.Context) ([]*tenants.Tenant, error) {
	return b.colleges.List(ctx)
}

func (b *Backend) Get(ctx context.Context, id int64) (*tenants.Tenant, error) {
	return b.colleges.Get(ctx, id)
}

func (b *Backend) issueLocked(u *userRecord, message string) (*backend.AuthResponse, error) {
	now := b.nowTime()
	claims := token.AccessClaims{
		Role:      string(u.profile.PrimaryRole()),
		CollegeID: u.profile.CollegeID,
		TokenType: token.TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.signer.Issuer(),
			Subject:   strconv.FormatInt(u.profile.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
			ID:        uuid.NewString(),
		},
	}
	access, err := b.signer.Sign(claims)
	if err != nil {
		return nil, err
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	b.refresh[refresh] = refreshGrant{userID: u.profile.ID, expires: now.Add(refreshTokenTTL)}

	return &backend.AuthResponse{
		Message: message,
		Tokens:  token.Pair{Access: access, Refresh: refresh},
		User:    *u.profile.Clone(),
	}, nil
}

func (b *Backend) enter(ctx context.Context, op string) error {
	if b.hook != nil {
		b.hook(ctx, op)
	}
	return ctx.Err()
}

func (b *Backend) byUIDLocked(uid string) *userRecord {
	if uid == "" {
		return nil
	}
	for _, u := range b.users {
		if u.profile.FirebaseUID == uid {
			return u
		}
	}
	return nil
}

func (b *Backend) byEmailLocked(email string) *userRecord {
	for _, u := range b.users {
		if strings.EqualFold(u.profile.Email, email) {
			return u
		}
	}
	return nil
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func reject(status int, code, message string) *backend.Error {
	return &backend.Error{Status: status, Code: code, Message: message}
}

package oidcprovider_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/learnbox-auth/identity"
	"github.com/jrsteele09/learnbox-auth/identity/oidcprovider"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
)

const (
	clientID     = "learnbox-web"
	testEmail    = "alan@example.com"
	testPassword = "Passw0rdOne"
)

type issuerUser struct {
	sub      string
	password string
	verified bool
}

// fakeIssuer is a minimal OIDC issuer with the accounts API.
type fakeIssuer struct {
	t   *testing.T
	srv *httptest.Server
	key *rsa.PrivateKey

	mu            sync.Mutex
	users         map[string]*issuerUser
	refresh       map[string]string
	issued        int
	rateLimited   bool
	verifications int
	resets        []string
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	fi := &fakeIssuer{t: t, key: key, users: map[string]*issuerUser{}, refresh: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", fi.handleToken)
	mux.HandleFunc("/accounts/signup", fi.handleSignup)
	mux.HandleFunc("/accounts/verification", fi.handleVerification)
	mux.HandleFunc("/accounts/password-reset", fi.handleReset)
	mux.HandleFunc("/accounts/password-reset/confirm", fi.handleResetConfirm)
	fi.srv = httptest.NewServer(mux)
	t.Cleanup(fi.srv.Close)
	return fi
}

func (fi *fakeIssuer) addUser(email string, verified bool) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.users[email] = &issuerUser{sub: "sub-" + email, password: testPassword, verified: verified}
}

func (fi *fakeIssuer) setVerified(email string) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.users[email].verified = true
}

func (fi *fakeIssuer) revokeAll() {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.refresh = map[string]string{}
}

func (fi *fakeIssuer) newProvider(opts ...oidcprovider.Option) *oidcprovider.Provider {
	verifier := oidc.NewVerifier(fi.srv.URL, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&fi.key.PublicKey}}, &oidc.Config{ClientID: clientID})
	endpoint := oauth2.Endpoint{TokenURL: fi.srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}
	cfg := oidcprovider.Config{Issuer: fi.srv.URL, ClientID: clientID}
	opts = append([]oidcprovider.Option{oidcprovider.WithHTTPClient(fi.srv.Client())}, opts...)
	return oidcprovider.New(cfg, endpoint, verifier, opts...)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (fi *fakeIssuer) handleToken(w http.ResponseWriter, r *http.Request) {
	require.NoError(fi.t, r.ParseForm())
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if fi.rateLimited {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "slow_down"})
		return
	}

	var email string
	switch r.Form.Get("grant_type") {
	case "password":
		email = r.Form.Get("username")
		u, ok := fi.users[email]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "user not found"})
			return
		}
		if u.password != r.Form.Get("password") {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "wrong password"})
			return
		}
	case "refresh_token":
		var ok bool
		email, ok = fi.refresh[r.Form.Get("refresh_token")]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "refresh token revoked"})
			return
		}
		delete(fi.refresh, r.Form.Get("refresh_token"))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	u := fi.users[email]
	fi.issued++
	now := time.Now()
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":            fi.srv.URL,
		"aud":            clientID,
		"sub":            u.sub,
		"email":          email,
		"email_verified": u.verified,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"jti":            fmt.Sprintf("id-%d", fi.issued),
	}).SignedString(fi.key)
	require.NoError(fi.t, err)

	refresh := fmt.Sprintf("refresh-%d", fi.issued)
	fi.refresh[refresh] = email
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  fmt.Sprintf("access-%d", fi.issued),
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": refresh,
		"id_token":      idToken,
	})
}

func (fi *fakeIssuer) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	require.NoError(fi.t, json.NewDecoder(r.Body).Decode(&req))
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if _, ok := fi.users[req.Email]; ok {
		writeJSON(w, http.StatusConflict, map[string]string{"code": "account_exists", "error": "email taken"})
		return
	}
	fi.users[req.Email] = &issuerUser{sub: "sub-" + req.Email, password: req.Password}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (fi *fakeIssuer) handleVerification(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing token"})
		return
	}
	fi.mu.Lock()
	fi.verifications++
	fi.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (fi *fakeIssuer) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	require.NoError(fi.t, json.NewDecoder(r.Body).Decode(&req))
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if _, ok := fi.users[req.Email]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "user_not_found", "error": "no such user"})
		return
	}
	fi.resets = append(fi.resets, req.Email)
	w.WriteHeader(http.StatusNoContent)
}

func (fi *fakeIssuer) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code        string `json:"code"`
		NewPassword string `json:"new_password"`
	}
	require.NoError(fi.t, json.NewDecoder(r.Body).Decode(&req))
	if req.Code != "good-code" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_code", "error": "expired"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func TestSignInVerifiesIDToken(t *testing.T) {
	ctx := context.Background()
	fi := newFakeIssuer(t)
	fi.addUser(testEmail, true)
	p := fi.newProvider()

	principal, err := p.SignIn(ctx, testEmail, testPassword)
	require.NoError(t, err)
	require.Equal(t, "sub-"+testEmail, principal.UID)
	require.Equal(t, testEmail, principal.Email)
	require.True(t, principal.EmailVerified)

	current, err := p.CurrentUser(ctx)
	require.NoError(t, err)
	require.Equal(t, principal.UID, current.UID)
}

func TestSignInErrorsMapToKinds(t *testing.T) {
	ctx := context.Background()
	fi := newFakeIssuer(t)
	fi.addUser(testEmail, true)
	client := identity.NewClient(fi.newProvider())

	_, err := client.SignIn(ctx, identity.Credential{Email: testEmail, Secret: "Wrong0ne"})
	require.Equal(t, identity.KindInvalidCredentials, identity.KindOf(err))

	_, err = client.SignIn(ctx, identity.Credential{Email: "nobody@example.com", Secret: testPassword})
	require.Equal(t, identity.KindAccountNotFound, identity.KindOf(err))

	fi.mu.Lock()
	fi.rateLimited = true
	fi.mu.Unlock()
	_, err = client.SignIn(ctx, identity.Credential{Email: testEmail, Secret: testPassword})
	require.Equal(t, identity.KindRateLimited, identity.KindOf(err))
}

func TestUnreachableIssuerIsNetworkError(t *testing.T) {
	ctx := context.Background()
	fi := newFakeIssuer(t)
	p := fi.newProvider()
	fi.srv.Close()

	_, err := identity.NewClient(p).SignIn(ctx, identity.Credential{Email: testEmail, Secret: testPassword})
	require.Equal(t, identity.KindNetworkUnavailable, identity.KindOf(err))
}

func TestIDTokenForceRefreshMintsNewToken(t *testing.T) {
	ctx := context.Background()
	fi := newFakeIssuer(t)
	fi.addUser(testEmail, true)
	p := fi.newProvider()

	principal, err := p.SignIn(ctx, testEmail, testPassword)
	require.NoError(t, err)

	cached, err := p.IDToken(ctx, principal, false)
	require.NoError(t, err)
	again, err := p.IDToken(ctx, principal, false)
	require.NoError(t, err)
	require.Equal(t, cached, again)

	fresh, err := p.IDToken(ctx, principal, true)
	require.NoError(t, err)
	require.NotEqual(t, cached, fresh)
}

func TestReloadSeesVerificationAfterSignOut(t *testing.T) {
	ctx := context.Background()
	fi := newFakeIssuer(t)
	fi.addUser(testEmail, false)
	p := fi.newProvider()

	principal, err := p.SignIn(ctx, testEmail, testPassword)
	require.NoError(t, err)
	require.False(t, principal.EmailVerified)
	require.NoError(t, p.SignOut(ctx))

	fi.setVerified(testEmail)
	reloaded, err := p.Reload(ctx, principal)
	require.NoError(t, err)
	require.True(t, reloaded.EmailVerified)

	current, err := p.CurrentUser(ctx)
	require.NoError(t, err)
	require.Nil(t, current)
}

func TestSignUpThenAccountsEndpoints(t *testing.T) {
	ctx := context.Background()
	fi := newFakeIssuer(t)
	client := identity.NewClient(fi.newProvider(), identity.WithAsync(func(fn func()) { fn() }))

	h, err := client.SignUp(ctx, identity.Credential{Email: testEmail, Secret: testPassword})
	require.NoError(t, err)
	require.False(t, h.Verified())

	fi.mu.Lock()
	require.Equal(t, 1, fi.verifications)
	fi.mu.Unlock()

	_, err = client.SignUp(ctx, identity.Credential{Email: testEmail, Secret: testPassword})
	require.Equal(t, identity.KindAccountExists, identity.KindOf(err))

	require.NoError(t, client.RequestPasswordReset(ctx, testEmail))
	err = client.RequestPasswordReset(ctx, "ghost@example.com")
	require.Equal(t, identity.KindAccountNotFound, identity.KindOf(err))

	require.NoError(t, client.ConfirmPasswordReset(ctx, "good-code", "Passw0rdTwo"))
	err = client.ConfirmPasswordReset(ctx, "stale-code", "Passw0rdTwo")
	require.Equal(t, identity.KindInvalidCredentials, identity.KindOf(err))
}

func TestKeyringPersistenceRestoresSession(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	fi := newFakeIssuer(t)
	fi.addUser(testEmail, true)
	persistence := oidcprovider.NewKeyringPersistence("learnbox-test", "restore")

	first := fi.newProvider(oidcprovider.WithPersistence(persistence))
	_, err := first.SignIn(ctx, testEmail, testPassword)
	require.NoError(t, err)

	second := fi.newProvider(oidcprovider.WithPersistence(persistence))
	restored, err := second.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, restored)
	require.Equal(t, testEmail, restored.Email)

	raw, err := second.IDToken(ctx, restored, false)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	require.NoError(t, second.SignOut(ctx))
	third := fi.newProvider(oidcprovider.WithPersistence(persistence))
	current, err := third.CurrentUser(ctx)
	require.NoError(t, err)
	require.Nil(t, current)
}

func TestRevokedPersistedSessionIsDiscarded(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	fi := newFakeIssuer(t)
	fi.addUser(testEmail, true)
	persistence := oidcprovider.NewKeyringPersistence("learnbox-test", "revoked")

	_, err := fi.newProvider(oidcprovider.WithPersistence(persistence)).SignIn(ctx, testEmail, testPassword)
	require.NoError(t, err)
	fi.revokeAll()

	current, err := fi.newProvider(oidcprovider.WithPersistence(persistence)).CurrentUser(ctx)
	require.NoError(t, err)
	require.Nil(t, current)

	stored, err := persistence.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestAuthStateEvents(t *testing.T) {
	ctx := context.Background()
	fi := newFakeIssuer(t)
	fi.addUser(testEmail, true)
	p := fi.newProvider()

	var mu sync.Mutex
	var seen []*identity.Principal
	unsubscribe := p.OnAuthStateChanged(func(principal *identity.Principal) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, principal)
	})
	defer unsubscribe()

	_, err := p.SignIn(ctx, testEmail, testPassword)
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	require.NotNil(t, seen[0])
	require.Nil(t, seen[1])
}

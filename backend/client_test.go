package backend_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jrsteele09/learnbox-auth/backend"
	"github.com/jrsteele09/learnbox-auth/backend/backendfake"
	"github.com/jrsteele09/learnbox-auth/identity/providerfake"
	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/jrsteele09/learnbox-auth/internal/utils"
	"github.com/jrsteele09/learnbox-auth/tenants"
	"github.com/jrsteele09/learnbox-auth/token"
	"github.com/jrsteele09/learnbox-auth/users"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "student@example.com"
	testPassword = "Passw0rdOne"
)

type testFixture struct {
	provider *providerfake.Provider
	fake     *backendfake.Backend
	client   *backend.Client
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	provider := providerfake.New(token.NewSigner([]byte("provider-secret"), providerfake.DefaultIssuer))
	fake := backendfake.New(provider, token.NewSigner([]byte("backend-secret"), backendfake.DefaultIssuer),
		backendfake.WithColleges(
			&tenants.Tenant{ID: 4, Name: "Northfield College", Code: "NFC"},
			&tenants.Tenant{ID: 7, Name: "Riverside Institute", Code: "RVI"},
		),
	)
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)
	return &testFixture{
		provider: provider,
		fake:     fake,
		client:   backend.New(srv.URL+"/", backend.WithHTTPClient(srv.Client())),
	}
}

func (f *testFixture) assertion(t *testing.T, verified bool) (string, string) {
	t.Helper()
	ctx := context.Background()
	uid, err := f.provider.AddAccount(testEmail, testPassword, verified)
	require.NoError(t, err)
	p, err := f.provider.SignIn(ctx, testEmail, testPassword)
	require.NoError(t, err)
	raw, err := f.provider.IDToken(ctx, p, true)
	require.NoError(t, err)
	return uid, raw
}

func TestLoginReturnsTokensAndProfile(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	_, assertion := f.assertion(t, true)
	f.fake.AddUser(users.Profile{Username: "student", Email: testEmail, Roles: []users.RoleType{users.RoleStudent}, CollegeID: utils.Ptr(int64(4))})

	resp, err := f.client.Login(ctx, backend.LoginRequest{Assertion: assertion, TenantID: utils.Ptr(int64(4))})
	require.NoError(t, err)
	require.True(t, resp.Tokens.Complete())
	require.Equal(t, testEmail, resp.User.Email)
	require.Equal(t, int64(4), utils.Value(resp.User.CollegeID))

	_, ok := resp.Tokens.AccessExpiry()
	require.True(t, ok)

	me, err := f.client.Me(ctx, resp.Tokens.Access)
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, me.ID)
}

func TestLoginRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unverified email", func(t *testing.T) {
		f := setupTestFixture(t)
		_, assertion := f.assertion(t, false)
		f.fake.AddUser(users.Profile{Username: "student", Email: testEmail, Roles: []users.RoleType{users.RoleStudent}})

		_, err := f.client.Login(ctx, backend.LoginRequest{Assertion: assertion})
		var apiErr *backend.Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusForbidden, apiErr.Status)
		require.Equal(t, backend.CodeEmailNotVerified, apiErr.Code)
		require.True(t, backend.IsRejected(err))
	})

	t.Run("garbage assertion", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.client.Login(ctx, backend.LoginRequest{Assertion: "not-a-jwt"})
		var apiErr *backend.Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, backend.CodeInvalidAssertion, apiErr.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := setupTestFixture(t)
		_, assertion := f.assertion(t, true)
		_, err := f.client.Login(ctx, backend.LoginRequest{Assertion: assertion})
		var apiErr *backend.Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusNotFound, apiErr.Status)
	})
}

func TestRegisterThenRefresh(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	uid, assertion := f.assertion(t, false)

	resp, err := f.client.Register(ctx, backend.RegisterRequest{
		Assertion:   assertion,
		Username:    "newstudent",
		Email:       testEmail,
		FirstName:   "New",
		LastName:    "Student",
		FirebaseUID: uid,
		TenantID:    utils.Ptr(int64(7)),
	})
	require.NoError(t, err)
	require.Equal(t, uid, resp.User.FirebaseUID)
	require.Equal(t, []users.RoleType{users.RoleStudent}, resp.User.Roles)

	next, err := f.client.Refresh(ctx, resp.Tokens)
	require.NoError(t, err)
	require.NotEqual(t, resp.Tokens.Refresh, next.Refresh)
	require.True(t, next.Complete())

	_, err = f.client.Refresh(ctx, resp.Tokens)
	require.True(t, backend.IsRejected(err), "rotated refresh token must not be reusable")
}

func TestColleges(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	var dir tenants.Directory = f.client
	list, err := dir.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "NFC", list[0].Code)

	c, err := dir.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "Riverside Institute", c.Name)

	_, err = dir.Get(ctx, 99)
	require.ErrorIs(t, err, errors.ErrTenantNotFound)
}

func TestTransportFailureIsNotRejection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := backend.New(url).Login(context.Background(), backend.LoginRequest{Assertion: "x"})
	require.Error(t, err)
	require.False(t, backend.IsRejected(err))
}

func TestTimeoutDoesNotMutateSharedClient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	shared := &http.Client{}
	client := backend.New(srv.URL, backend.WithHTTPClient(shared), backend.WithTimeout(50*time.Millisecond))
	require.Zero(t, shared.Timeout)

	_, err := client.List(context.Background())
	require.Error(t, err)
	require.False(t, backend.IsRejected(err))
}

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jrsteele09/learnbox-auth/backend"
	"github.com/jrsteele09/learnbox-auth/backend/backendfake"
	"github.com/jrsteele09/learnbox-auth/identity"
	"github.com/jrsteele09/learnbox-auth/identity/oidcprovider"
	"github.com/jrsteele09/learnbox-auth/identity/providerfake"
	"github.com/jrsteele09/learnbox-auth/internal/config"
	"github.com/jrsteele09/learnbox-auth/internal/utils"
	"github.com/jrsteele09/learnbox-auth/session"
	"github.com/jrsteele09/learnbox-auth/tenants"
	"github.com/jrsteele09/learnbox-auth/token"
	"github.com/jrsteele09/learnbox-auth/tokenstore"
	"github.com/jrsteele09/learnbox-auth/users"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	keyringService = "learnbox"
	demoPassword   = "LearnBox123"
)

type app struct {
	identity  *identity.Client
	orch      *session.Orchestrator
	store     tokenstore.Store
	directory tenants.Directory

	// Set only with the in-process dev provider.
	devProvider *providerfake.Provider
	devBackend  *backendfake.Backend

	closers []func()
}

func newApp(ctx context.Context, c config.Config) (*app, error) {
	a := &app{}
	policy := users.PasswordPolicy{MinLength: c.GetPasswordMinLength()}

	var be session.Backend
	switch c.GetIdentityProvider() {
	case config.ProviderOIDC:
		provider, err := oidcprovider.Discover(ctx, oidcprovider.Config{
			Issuer:       c.GetOIDCIssuer(),
			ClientID:     c.GetOIDCClientID(),
			ClientSecret: c.GetOIDCClientSecret(),
			AccountsURL:  c.GetAccountsURL(),
		}, oidcprovider.WithPersistence(oidcprovider.NewKeyringPersistence(keyringService, c.GetStoreNamespace())))
		if err != nil {
			return nil, err
		}
		a.identity = identity.NewClient(provider, identity.WithPasswordPolicy(policy))
		client := backend.New(c.GetBackendURL(), backend.WithTimeout(c.GetBackendTimeout()))
		be, a.directory = client, client

	case config.ProviderDev:
		a.devProvider, a.devBackend = newDevStack()
		a.identity = identity.NewClient(a.devProvider, identity.WithPasswordPolicy(policy))
		be, a.directory = a.devBackend, a.devBackend
		log.Info().Msg("using in-process dev identity provider and backend")

	default:
		return nil, fmt.Errorf("unsupported identity provider %q", c.GetIdentityProvider())
	}

	store, err := a.newStore(c)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.orch, err = session.New(a.identity, be, store)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.orch.Close)
	a.orch.Subscribe(session.ObserverFunc(render))

	if err := a.orch.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("session resumption failed")
	}
	return a, nil
}

func (a *app) newStore(c config.Config) (tokenstore.Store, error) {
	switch c.GetTokenStore() {
	case config.StoreMemory:
		return tokenstore.NewMemory(), nil
	case config.StoreKeyring:
		return tokenstore.NewKeyring(keyringService, c.GetStoreNamespace()), nil
	case config.StoreFile:
		path := c.GetStorePath()
		if ns := c.GetStoreNamespace(); ns != "default" {
			path = filepath.Join(filepath.Dir(path), ns, filepath.Base(path))
		}
		return tokenstore.NewFile(path), nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		a.closers = append(a.closers, func() { _ = client.Close() })
		var opts []tokenstore.RedisOption
		if c.GetRedisExpireWithToken() {
			opts = append(opts, tokenstore.WithAccessExpiry())
		}
		return tokenstore.NewRedis(client, c.GetStoreNamespace(), opts...), nil
	}
	return nil, fmt.Errorf("unsupported token store %q", c.GetTokenStore())
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newDevStack seeds an in-process provider and backend with two colleges and
// one account per role. Every demo account uses demoPassword.
func newDevStack() (*providerfake.Provider, *backendfake.Backend) {
	secret := []byte(config.GetEnv("LEARNBOX_DEV_SECRET", "learnbox-dev-secret"))
	provider := providerfake.New(token.NewSigner(secret, providerfake.DefaultIssuer))
	be := backendfake.New(provider, token.NewSigner(secret, backendfake.DefaultIssuer),
		backendfake.WithColleges(
			&tenants.Tenant{ID: 1, Name: "Riverside College", Code: "RIV"},
			&tenants.Tenant{ID: 2, Name: "Hillcrest College", Code: "HIL"},
		))

	demo := []struct {
		profile  users.Profile
		verified bool
	}{
		{users.Profile{Username: "admin", Email: "admin@learnbox.dev", Roles: []users.RoleType{users.RoleSuperAdmin}}, true},
		{users.Profile{Username: "riverside-admin", Email: "staff@riverside.learnbox.dev", Roles: []users.RoleType{users.RoleCollegeAdmin}, CollegeID: utils.Ptr[int64](1)}, true},
		{users.Profile{Username: "sam", Email: "sam@riverside.learnbox.dev", FirstName: "Sam", Roles: []users.RoleType{users.RoleStudent}, CollegeID: utils.Ptr[int64](1)}, true},
		{users.Profile{Username: "kit", Email: "kit@hillcrest.learnbox.dev", FirstName: "Kit", Roles: []users.RoleType{users.RoleStudent}, CollegeID: utils.Ptr[int64](2)}, false},
	}
	for _, d := range demo {
		if _, err := provider.AddAccount(d.profile.Email, demoPassword, d.verified); err != nil {
			log.Fatal().Err(err).Str("email", d.profile.Email).Msg("failed to seed dev account")
		}
		be.AddUser(d.profile)
	}
	log.Info().Str("password", demoPassword).Msg("dev accounts: admin@learnbox.dev, staff@riverside.learnbox.dev, sam@riverside.learnbox.dev, kit@hillcrest.learnbox.dev (unverified)")
	return provider, be
}

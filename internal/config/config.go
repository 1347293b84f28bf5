package config

import "time"

type Config interface {
	EnvConfig
	IdentityConfig
	BackendConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetLogFormat() string
}

type IdentityConfig interface {
	GetIdentityProvider() string
	GetOIDCIssuer() string
	GetOIDCClientID() string
	GetOIDCClientSecret() string
	GetAccountsURL() string
	GetPasswordMinLength() int
}

type BackendConfig interface {
	GetBackendURL() string
	GetBackendTimeout() time.Duration
}

type StoreConfig interface {
	GetTokenStore() string
	GetStoreNamespace() string
	GetStorePath() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisExpireWithToken() bool
}

type mainConfig struct {
	EnvVars
	Identity
	Backend
	Store
}

// New returns a Config backed by environment variables and defaults only.
func New() Config {
	return newMainConfig(&FileConfig{})
}

// Load returns a Config that reads environment variables first, then the YAML
// file at path, then defaults.
func Load(path string) (Config, error) {
	file, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return newMainConfig(file), nil
}

func newMainConfig(file *FileConfig) Config {
	return mainConfig{
		EnvVars:  EnvVars{file: file},
		Identity: Identity{file: file},
		Backend:  Backend{file: file},
		Store:    Store{file: file},
	}
}

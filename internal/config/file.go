package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML configuration file. Zero values fall through
// to the defaults of the matching getter.
type FileConfig struct {
	App struct {
		Name string `yaml:"name"`
		Env  string `yaml:"env"`
	} `yaml:"app"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Identity struct {
		Provider          string `yaml:"provider"`
		Issuer            string `yaml:"issuer"`
		ClientID          string `yaml:"client_id"`
		ClientSecret      string `yaml:"client_secret"`
		AccountsURL       string `yaml:"accounts_url"`
		PasswordMinLength int    `yaml:"password_min_length"`
	} `yaml:"identity"`
	Backend struct {
		URL        string        `yaml:"url"`
		Timeout    time.Duration `yaml:"-"`
		TimeoutRaw string        `yaml:"timeout"`
	} `yaml:"backend"`
	Store struct {
		Kind          string `yaml:"kind"`
		Namespace     string `yaml:"namespace"`
		Path          string `yaml:"path"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		RedisExpiry   bool   `yaml:"redis_expire_with_token"`
	} `yaml:"store"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ReadFile parses the YAML file at path. ${VAR} references are expanded from
// the environment before parsing.
func ReadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*FileConfig, error) {
	expanded := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	var cfg FileConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Backend.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Backend.TimeoutRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing backend.timeout %q: %w", cfg.Backend.TimeoutRaw, err)
		}
		cfg.Backend.Timeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks combinations the getters cannot default around.
func (c *FileConfig) Validate() error {
	switch c.Identity.Provider {
	case "", ProviderDev:
	case ProviderOIDC:
		if c.Identity.Issuer == "" {
			return fmt.Errorf("identity.issuer is required for the oidc provider")
		}
	default:
		return fmt.Errorf("identity.provider %q is not supported", c.Identity.Provider)
	}

	switch c.Store.Kind {
	case "", StoreMemory, StoreKeyring, StoreFile, StoreRedis:
	default:
		return fmt.Errorf("store.kind %q is not supported", c.Store.Kind)
	}
	return nil
}

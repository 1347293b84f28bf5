package oidcprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/zalando/go-keyring"
)

// StoredSession is what survives a restart: enough to refresh the session.
type StoredSession struct {
	Email        string `json:"email"`
	RefreshToken string `json:"refresh_token"`
}

// SessionPersistence stores the provider session. Load returns nil when
// nothing is stored.
type SessionPersistence interface {
	Load(ctx context.Context) (*StoredSession, error)
	Save(ctx context.Context, s StoredSession) error
	Clear(ctx context.Context) error
}

// KeyringPersistence keeps the session in the OS keychain.
type KeyringPersistence struct {
	Service string
	User    string
}

func NewKeyringPersistence(service, namespace string) *KeyringPersistence {
	return &KeyringPersistence{Service: service, User: "provider-session:" + namespace}
}

func (k *KeyringPersistence) Load(_ context.Context) (*StoredSession, error) {
	raw, err := keyring.Get(k.Service, k.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read provider session: %w", err)
	}
	var s StoredSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("failed to decode provider session: %w", err)
	}
	return &s, nil
}

func (k *KeyringPersistence) Save(_ context.Context, s StoredSession) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode provider session: %w", err)
	}
	if err := keyring.Set(k.Service, k.User, string(raw)); err != nil {
		return fmt.Errorf("failed to store provider session: %w", err)
	}
	return nil
}

func (k *KeyringPersistence) Clear(_ context.Context) error {
	err := keyring.Delete(k.Service, k.User)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete provider session: %w", err)
	}
	return nil
}

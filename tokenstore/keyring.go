package tokenstore

import (
	"context"
	"fmt"

	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/jrsteele09/learnbox-auth/tenants"
	"github.com/zalando/go-keyring"
)

var (
	_ Store       = (*Keyring)(nil)
	_ Preferences = (*Keyring)(nil)
)

// Keyring keeps the record as one JSON item in the OS keychain.
type Keyring struct {
	service   string
	namespace string
}

func NewKeyring(service, namespace string) *Keyring {
	return &Keyring{service: service, namespace: namespace}
}

func (k *Keyring) recordUser() string {
	return "session:" + k.namespace
}

func (k *Keyring) tenantUser() string {
	return "selected-tenant:" + k.namespace
}

func (k *Keyring) Save(_ context.Context, rec Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	if err := keyring.Set(k.service, k.recordUser(), string(data)); err != nil {
		return fmt.Errorf("failed to store session in keyring: %w", err)
	}
	return nil
}

func (k *Keyring) Load(_ context.Context) (*Record, error) {
	raw, err := keyring.Get(k.service, k.recordUser())
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session from keyring: %w", err)
	}
	return decode([]byte(raw))
}

func (k *Keyring) Clear(_ context.Context) error {
	if err := keyring.Delete(k.service, k.recordUser()); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete session from keyring: %w", err)
	}
	return nil
}

func (k *Keyring) SelectedTenant(_ context.Context) (tenants.Selection, error) {
	raw, err := keyring.Get(k.service, k.tenantUser())
	if errors.Is(err, keyring.ErrNotFound) {
		return tenants.SelectionNone, nil
	}
	if err != nil {
		return tenants.SelectionNone, fmt.Errorf("failed to read selected tenant: %w", err)
	}
	return tenants.Selection(raw).Normalize(), nil
}

func (k *Keyring) SetSelectedTenant(_ context.Context, sel tenants.Selection) error {
	if err := keyring.Set(k.service, k.tenantUser(), sel.String()); err != nil {
		return fmt.Errorf("failed to store selected tenant: %w", err)
	}
	return nil
}

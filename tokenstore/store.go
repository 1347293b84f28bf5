// Package tokenstore persists the single session record: the backend token
// pair together with the profile it was issued for.
package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/jrsteele09/learnbox-auth/tenants"
	"github.com/jrsteele09/learnbox-auth/token"
	"github.com/jrsteele09/learnbox-auth/users"
)

var ErrEmpty = errors.New("token store is empty")

// Record is written and cleared as one value so readers see the pair and the
// profile together or not at all.
type Record struct {
	Tokens  token.Pair    `json:"tokens"`
	User    users.Profile `json:"user"`
	SavedAt time.Time     `json:"saved_at"`
}

func (r *Record) Validate() error {
	if !r.Tokens.Complete() {
		return fmt.Errorf("record has an incomplete token pair")
	}
	if err := r.User.Validate(); err != nil {
		return fmt.Errorf("record has an invalid profile: %w", err)
	}
	return nil
}

func (r *Record) Clone() *Record {
	c := *r
	c.User = *r.User.Clone()
	return &c
}

// Store holds at most one Record. Load returns ErrEmpty when there is none.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context) (*Record, error)
	Clear(ctx context.Context) error
}

// Preferences holds the last selected tenant. It is a UI convenience and
// carries no authority.
type Preferences interface {
	SelectedTenant(ctx context.Context) (tenants.Selection, error)
	SetSelectedTenant(ctx context.Context, sel tenants.Selection) error
}

// Change is a store modification made by any process sharing the store.
type Change struct {
	Cleared bool
}

// Watcher is implemented by stores shared between processes. The channel is
// closed when ctx is done.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

func encode(rec Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Record, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

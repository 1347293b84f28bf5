package tokenstore

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/learnbox-auth/tenants"
)

var (
	_ Store       = (*Memory)(nil)
	_ Preferences = (*Memory)(nil)
)

type Memory struct {
	lock      sync.RWMutex
	record    *Record
	selection tenants.Selection
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Save(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.record = rec.Clone()
	return nil
}

func (m *Memory) Load(_ context.Context) (*Record, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.record == nil {
		return nil, ErrEmpty
	}
	return m.record.Clone(), nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.record = nil
	return nil
}

func (m *Memory) SelectedTenant(_ context.Context) (tenants.Selection, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.selection.Normalize(), nil
}

func (m *Memory) SetSelectedTenant(_ context.Context, sel tenants.Selection) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.selection = sel.Normalize()
	return nil
}

package tenantrepofakes

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/jrsteele09/learnbox-auth/tenants"
)

var _ tenants.Directory = (*FakeTenantRepo)(nil)

type FakeTenantRepo struct {
	tenants map[int64]*tenants.Tenant
	lock    sync.RWMutex
}

func NewFakeTenantRepo(seed ...*tenants.Tenant) *FakeTenantRepo {
	tr := &FakeTenantRepo{
		tenants: make(map[int64]*tenants.Tenant),
	}
	for _, t := range seed {
		tr.Upsert(t)
	}
	return tr
}

func (tr *FakeTenantRepo) Upsert(tenantData *tenants.Tenant) {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	t := *tenantData
	tr.tenants[t.ID] = &t
}

func (tr *FakeTenantRepo) Get(_ context.Context, id int64) (*tenants.Tenant, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	t, ok := tr.tenants[id]
	if !ok {
		return nil, errors.ErrTenantNotFound
	}
	c := *t
	return &c, nil
}

func (tr *FakeTenantRepo) List(_ context.Context) ([]*tenants.Tenant, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()

	list := make([]*tenants.Tenant, 0, len(tr.tenants))
	for _, t := range tr.tenants {
		c := *t
		list = append(list, &c)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list, nil
}

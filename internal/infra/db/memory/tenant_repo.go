// Package memory provides in-memory implementations of the persistence
// ports, used by tests and by local development without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/ledgerops/report-relay/internal/domain/tenants"
)

type TenantRepository struct {
	mu      sync.Mutex
	tenants map[string]*domain.Tenant
}

func NewTenantRepository() *TenantRepository {
	return &TenantRepository{tenants: make(map[string]*domain.Tenant)}
}

func (r *TenantRepository) Upsert(_ context.Context, t *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ShortCode != "" {
		for id, existing := range r.tenants {
			if id != t.ExternalID && existing.ShortCode == t.ShortCode {
				return fmt.Errorf("short code %q held by tenant %s: %w", t.ShortCode, id, domain.ErrCodeConflict)
			}
		}
	}

	cp := *t
	if existing, ok := r.tenants[t.ExternalID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	r.tenants[t.ExternalID] = &cp
	return nil
}

func (r *TenantRepository) ListActive(_ context.Context) ([]*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Tenant
	for _, t := range r.tenants {
		if t.Active {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (r *TenantRepository) GetByExternalID(_ context.Context, externalID string) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[externalID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *TenantRepository) Deactivate(_ context.Context, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[externalID]
	if !ok {
		return domain.ErrNotFound
	}
	t.Active = false
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Count returns the number of stored tenants, active or not.
func (r *TenantRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tenants)
}

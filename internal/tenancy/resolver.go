package tenancy

import (
	"context"
	"errors"
	"sync"

	"github.com/assistext/assistext/internal/phone"
)

// ErrTenantNotFound is returned when no active tenant owns a number.
var ErrTenantNotFound = errors.New("tenancy: tenant not found for number")

// Resolver maps a carrier destination number to the owning tenant.
type Resolver interface {
	ResolveByNumber(ctx context.Context, number string) (*Tenant, error)
}

// StaticResolver serves tenants from memory. Used for local development and tests.
type StaticResolver struct {
	mu      sync.RWMutex
	byPhone map[string]Tenant
}

// NewStaticResolver indexes the given tenants by their Number.
func NewStaticResolver(tenants ...Tenant) *StaticResolver {
	r := &StaticResolver{byPhone: make(map[string]Tenant, len(tenants))}
	for _, t := range tenants {
		r.Put(t)
	}
	return r
}

// Put adds or replaces a tenant under its normalized Number.
func (r *StaticResolver) Put(t Tenant) {
	key := phone.NormalizeE164(t.Number)
	if key == "" {
		return
	}
	t.Number = key
	r.mu.Lock()
	r.byPhone[key] = t.WithDefaults()
	r.mu.Unlock()
}

// ResolveByNumber implements Resolver.
func (r *StaticResolver) ResolveByNumber(_ context.Context, number string) (*Tenant, error) {
	if r == nil {
		return nil, ErrTenantNotFound
	}
	key := phone.NormalizeE164(number)
	if key == "" {
		return nil, ErrTenantNotFound
	}
	r.mu.RLock()
	t, ok := r.byPhone[key]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrTenantNotFound
	}
	return &t, nil
}

package tenant

import (
	"context"
	"strings"
	"sync"
)

// InMemoryStore is the dev/test tenant store.
type InMemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Tenant
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates a store preloaded with the given tenants.
func NewInMemoryStore(tenants ...Tenant) *InMemoryStore {
	s := &InMemoryStore{byID: make(map[string]Tenant, len(tenants))}
	for _, t := range tenants {
		s.byID[t.ID] = t
	}
	return s
}

// Put inserts or replaces a tenant.
func (s *InMemoryStore) Put(t Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[t.ID] = t
}

func (s *InMemoryStore) Find(ctx context.Context, id string) (Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (s *InMemoryStore) FindBySubdomain(ctx context.Context, subdomain string) (Tenant, error) {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.byID {
		if t.Subdomain == subdomain {
			return t, nil
		}
	}
	return Tenant{}, ErrNotFound
}

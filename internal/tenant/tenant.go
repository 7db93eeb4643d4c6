package tenant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

var (
	ErrNotFound  = errors.New("tenant: not found")
	ErrSuspended = errors.New("tenant: suspended")
)

// Tenant is one restaurant account on the platform.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subdomain string    `json:"subdomain"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Store resolves tenants by id and by subdomain.
type Store interface {
	Find(ctx context.Context, id string) (Tenant, error)
	FindBySubdomain(ctx context.Context, subdomain string) (Tenant, error)
}

// Directory wraps a Store with host resolution and status checks.
type Directory struct {
	store      Store
	baseDomain string
}

// NewDirectory constructs a Directory. baseDomain is the apex under which
// tenant subdomains live (e.g. "seatgrid.io" for "luigis.seatgrid.io").
func NewDirectory(store Store, baseDomain string) (*Directory, error) {
	if store == nil {
		return nil, errors.New("tenant: store is required")
	}
	baseDomain = strings.TrimSpace(strings.ToLower(baseDomain))
	if baseDomain == "" {
		return nil, errors.New("tenant: base domain is required")
	}
	return &Directory{store: store, baseDomain: baseDomain}, nil
}

// CheckActive reports nil when the tenant exists and may receive support
// sessions. Satisfies impersonation.TenantDirectory.
func (d *Directory) CheckActive(ctx context.Context, tenantID string) error {
	t, err := d.store.Find(ctx, strings.TrimSpace(tenantID))
	if err != nil {
		return err
	}
	if t.Status != StatusActive {
		return fmt.Errorf("%w: %s", ErrSuspended, t.ID)
	}
	return nil
}

// Find returns the tenant by id.
func (d *Directory) Find(ctx context.Context, id string) (Tenant, error) {
	return d.store.Find(ctx, strings.TrimSpace(id))
}

// ResolveHost maps a request host header to the tenant owning the
// subdomain. Hosts outside the base domain, the apex itself, and nested
// subdomains resolve to ErrNotFound.
func (d *Directory) ResolveHost(ctx context.Context, host string) (Tenant, error) {
	sub, ok := d.SubdomainFromHost(host)
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return d.store.FindBySubdomain(ctx, sub)
}

// SubdomainFromHost extracts the single-label subdomain from a host header.
func (d *Directory) SubdomainFromHost(host string) (string, bool) {
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return "", false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	suffix := "." + d.baseDomain
	if !strings.HasSuffix(host, suffix) {
		return "", false
	}
	sub := strings.TrimSuffix(host, suffix)
	if sub == "" || strings.Contains(sub, ".") {
		return "", false
	}
	return sub, true
}

type ctxKey struct{}

// ContextWithTenant attaches the resolved tenant to the context.
func ContextWithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext extracts the resolved tenant from the context.
func FromContext(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(ctxKey{}).(Tenant)
	return t, ok
}
